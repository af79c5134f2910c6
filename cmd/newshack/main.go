package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/newshack/newshack/internal/ai"
	"github.com/newshack/newshack/internal/config"
	"github.com/newshack/newshack/internal/gateway"
	"github.com/newshack/newshack/internal/ingest"
	"github.com/newshack/newshack/internal/links"
	otelPkg "github.com/newshack/newshack/internal/otel"
	"github.com/newshack/newshack/internal/progress"
	"github.com/newshack/newshack/internal/schedule"
	"github.com/newshack/newshack/internal/store"
	"github.com/newshack/newshack/internal/telegram"
	"github.com/newshack/newshack/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func main() {
	loadDotEnv(".env")

	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	addr := flag.String("addr", "", "bind address (overrides config)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(Version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args := flag.Args(); len(args) > 0 {
		switch strings.ToLower(strings.TrimSpace(args[0])) {
		case "doctor":
			os.Exit(runDoctorCommand(ctx, *configPath, args[1:]))
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
			os.Exit(2)
		}
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}
	if *addr != "" {
		cfg.BindAddr = *addr
	}
	if err := cfg.Validate(); err != nil {
		fatalStartup(nil, "E_CONFIG_INVALID", err)
	}

	logger, closer, err := telemetry.NewLogger(cfg.LogFile(), cfg.LogLevel)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "env", cfg.Env)

	otelProvider, err := otelPkg.Init(ctx, otelPkg.Config{
		Enabled:     cfg.Otel.Enabled,
		ServiceName: cfg.Otel.ServiceName,
	})
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(context.Background())
	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "E_OTEL_INSTRUMENTS", err)
	}

	st, err := store.Open(cfg.DBPath())
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	defer st.Close()
	logger.Info("startup phase", "phase", "schema_ready", "db", cfg.DBPath())

	bus := progress.New(
		progress.WithQueueSize(cfg.Progress.QueueSize),
		progress.WithGracePeriod(time.Duration(cfg.Progress.GraceSeconds)*time.Second),
		progress.WithLogger(logger),
	)

	summarizer := links.NewPerplexitySummarizer(
		cfg.Links.PerplexityAPIKey,
		time.Duration(cfg.Links.CallTimeoutSeconds)*time.Second,
	)
	resolver := links.NewResolver(summarizer, st,
		links.WithMaxInFlight(int64(cfg.Links.MaxInFlight)),
		links.WithAttemptCap(cfg.Links.AttemptCap),
		links.WithResolverLogger(logger),
		links.WithResolverMetrics(metrics),
	)

	fetcher := telegram.NewRemoteFetcher(
		cfg.Telegram.FetcherBaseURL,
		time.Duration(cfg.Ingest.FetchTimeoutSeconds)*time.Second,
	)
	if !fetcher.Available() {
		logger.Warn("channel fetcher url not configured; ingest requests will fail per source")
	}

	ingestor := ingest.New(st, fetcher, resolver, bus,
		ingest.WithMaxConcurrentFetches(cfg.Ingest.MaxConcurrentFetches),
		ingest.WithLogger(logger),
	)

	brain := ai.NewBrain(ctx, ai.BrainConfig{
		APIKey:      cfg.LLM.GeminiAPIKey,
		Model:       cfg.LLM.Model,
		MaxInFlight: int64(cfg.LLM.MaxInFlight),
		CallTimeout: time.Duration(cfg.LLM.CallTimeoutSeconds) * time.Second,
	}, logger)
	gen := ai.InstrumentGenerator(brain, metrics)
	topicSummarizer, err := ai.NewSummarizer(st, gen, logger)
	if err != nil {
		fatalStartup(logger, "E_AI_INIT", err)
	}
	clusterer, err := ai.NewClusterer(gen, bus, logger)
	if err != nil {
		fatalStartup(logger, "E_AI_INIT", err)
	}
	insights, err := ai.NewInsights(st, gen, logger)
	if err != nil {
		fatalStartup(logger, "E_AI_INIT", err)
	}

	botToken := ""
	if cfg.Telegram.BotEnabled {
		botToken = cfg.Telegram.BotToken
	}
	notifier, err := telegram.NewNotifier(botToken, cfg.Telegram.AdminChatID, logger)
	if err != nil {
		// The API must come up even when the admin bot cannot.
		logger.Warn("notification bot unavailable", "error", err)
		notifier, _ = telegram.NewNotifier("", 0, logger)
	}

	if cfg.Ingest.Schedule != "" {
		sched, err := schedule.NewScheduler(schedule.Config{
			Sources:  st,
			Runner:   ingestor,
			Logger:   logger,
			CronExpr: cfg.Ingest.Schedule,
		})
		if err != nil {
			fatalStartup(logger, "E_SCHEDULE_INIT", err)
		}
		sched.Start(ctx)
		defer sched.Stop()
	}

	watcher := config.NewWatcher(*configPath, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable", "error", err)
	} else {
		go func() {
			for range watcher.Events() {
				logger.Info("config changed on disk; restart to apply")
			}
		}()
	}

	gw := gateway.New(gateway.Config{
		Store:          st,
		Bus:            bus,
		Summarizer:     topicSummarizer,
		Clusterer:      clusterer,
		Insights:       insights,
		Ingestor:       ingestor,
		Notifier:       notifier,
		Metrics:        metrics,
		Logger:         logger,
		Keepalive:      cfg.KeepaliveInterval(),
		MaxSources:     cfg.Ingest.MaxSources,
		SummaryTimeout: time.Duration(cfg.LLM.SummaryTimeoutSeconds) * time.Second,
	})
	handler := gateway.NewCORSMiddleware(cfg.CORS)(gw.Handler())

	server := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: handler,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", cfg.BindAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("gateway server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	logger.Info("shutdown complete")
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"runtime","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	os.Exit(1)
}

// loadDotEnv loads KEY=VALUE lines from a local .env file without overriding
// variables already set in the environment.
func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if key == "" || os.Getenv(key) != "" {
			continue
		}
		_ = os.Setenv(key, val)
	}
}
