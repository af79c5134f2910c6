// Package gateway exposes the HTTP API: source catalog, summaries, insights,
// channel clustering and ingest triggers, plus the SSE progress stream that
// long-running jobs report on.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/newshack/newshack/internal/ai"
	"github.com/newshack/newshack/internal/ingest"
	"github.com/newshack/newshack/internal/otel"
	"github.com/newshack/newshack/internal/progress"
	"github.com/newshack/newshack/internal/store"
	"github.com/newshack/newshack/internal/telegram"
)

const (
	defaultKeepalive  = 15 * time.Second
	defaultMaxSources = 50
	defaultMaxBody    = 10 << 20
)

// SummaryRunner produces topic summaries for a period. Satisfied by
// *ai.Summarizer.
type SummaryRunner interface {
	Run(ctx context.Context, period string, sources []string) (ai.SummaryResult, error)
}

// ChannelClusterer partitions channels into topic groups. Satisfied by
// *ai.Clusterer.
type ChannelClusterer interface {
	Cluster(ctx context.Context, channels []telegram.Channel, requestID string) ([]ai.TopicGroup, error)
}

// InsightGenerator produces the structured insight for one topic. Satisfied
// by *ai.Insights.
type InsightGenerator interface {
	Generate(ctx context.Context, topic store.TopicSummary) (store.Insight, error)
}

// BatchRunner executes one ingest batch. Satisfied by *ingest.Ingestor.
type BatchRunner interface {
	Run(ctx context.Context, b ingest.Batch) ingest.Result
}

// Config holds the gateway's dependencies and limits.
type Config struct {
	Store      *store.Store
	Bus        *progress.Bus
	Summarizer SummaryRunner
	Clusterer  ChannelClusterer
	Insights   InsightGenerator
	Ingestor   BatchRunner
	Notifier   *telegram.Notifier
	Metrics    *otel.Metrics
	Logger     *slog.Logger

	// Keepalive is the SSE comment interval. Zero means 15s.
	Keepalive time.Duration

	// MaxSources caps the channel list accepted by the ingest and clustering
	// endpoints. Zero means 50.
	MaxSources int

	// SummaryTimeout is the wall-clock cap for one whole summarization run.
	// Zero disables the cap.
	SummaryTimeout time.Duration

	// MaxBodyBytes limits request body size. Zero means 10MB.
	MaxBodyBytes int64
}

type Server struct {
	cfg Config
	log *slog.Logger
}

func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Keepalive <= 0 {
		cfg.Keepalive = defaultKeepalive
	}
	if cfg.MaxSources <= 0 {
		cfg.MaxSources = defaultMaxSources
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBody
	}
	return &Server{cfg: cfg, log: cfg.Logger}
}

// Handler returns the routed and instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/sources", s.handleSources)
	mux.HandleFunc("/summaries", s.handleSummaries)
	mux.HandleFunc("/insights", s.handleInsights)
	mux.HandleFunc("/message/", s.handleMessageByID)
	mux.HandleFunc("/upload-telegram-export", s.handleUploadExport)
	mux.HandleFunc("/cluster-channels", s.handleClusterChannels)
	mux.HandleFunc("/save-telegram-channels", s.handleSaveChannels)
	mux.HandleFunc("/channel-progress", s.handleChannelProgress)
	mux.HandleFunc("/feedback", s.handleFeedback)
	mux.HandleFunc("/subscribe", s.handleSubscribe)

	var h http.Handler = mux
	h = RequestSizeLimitMiddleware(s.cfg.MaxBodyBytes)(h)
	h = s.logMiddleware(h)
	return h
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	dbOK := s.cfg.Store.Ping(r.Context()) == nil
	payload := map[string]any{
		"healthy":          dbOK,
		"db_ok":            dbOK,
		"progress_streams": s.cfg.Bus.StreamCount(),
	}
	status := http.StatusOK
	if !dbOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, payload)
}

// statusRecorder captures the response code for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the underlying writer so SSE streaming survives the
// wrapper.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.RequestDuration.Record(r.Context(), elapsed.Seconds())
		}
		s.log.Info("http request",
			"method", r.Method, "path", r.URL.Path,
			"status", rec.status, "duration_ms", elapsed.Milliseconds())
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
