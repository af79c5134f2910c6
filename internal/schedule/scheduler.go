// Package schedule runs the periodic ingest of every registered source on a
// cron expression.
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/google/uuid"
	"github.com/newshack/newshack/internal/ingest"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom,
// month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// SourceLister yields the URLs the scheduled run should ingest.
type SourceLister interface {
	ListSourceURLs(ctx context.Context) ([]string, error)
}

// Runner executes one ingest batch. Satisfied by *ingest.Ingestor.
type Runner interface {
	Run(ctx context.Context, b ingest.Batch) ingest.Result
}

// Config holds the scheduler's dependencies.
type Config struct {
	Sources  SourceLister
	Runner   Runner
	Logger   *slog.Logger
	CronExpr string        // 5-field cron expression
	Window   time.Duration // lookback per run; defaults to 24h
}

// Scheduler fires a full-catalog ingest whenever the cron expression is due.
type Scheduler struct {
	sources SourceLister
	runner  Runner
	logger  *slog.Logger
	sched   cronlib.Schedule
	window  time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler. The cron expression is validated here so
// startup fails fast on a bad config.
func NewScheduler(cfg Config) (*Scheduler, error) {
	sched, err := cronParser.Parse(cfg.CronExpr)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	window := cfg.Window
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &Scheduler{
		sources: cfg.Sources,
		runner:  cfg.Runner,
		logger:  logger,
		sched:   sched,
		window:  window,
	}, nil
}

// Start begins the scheduler loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("ingest scheduler started", "next_run", s.sched.Next(time.Now()))
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("ingest scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	for {
		next := s.sched.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.fire(ctx)
		}
	}
}

// fire ingests every registered source over the lookback window.
func (s *Scheduler) fire(ctx context.Context) {
	urls, err := s.sources.ListSourceURLs(ctx)
	if err != nil {
		s.logger.Error("scheduled ingest: failed to list sources", "error", err)
		return
	}
	if len(urls) == 0 {
		s.logger.Info("scheduled ingest: no sources registered")
		return
	}

	sources := make([]ingest.Source, len(urls))
	for i, u := range urls {
		sources[i] = ingest.Source{URL: u}
	}
	until := time.Now().UTC()
	requestID := "cron-" + uuid.NewString()

	s.logger.Info("scheduled ingest starting", "request_id", requestID, "sources", len(sources))
	res := s.runner.Run(ctx, ingest.Batch{
		Sources:   sources,
		Since:     until.Add(-s.window),
		Until:     until,
		RequestID: requestID,
	})
	s.logger.Info("scheduled ingest finished", "request_id", requestID,
		"messages", res.Messages, "failures", len(res.Failures))
}

// NextRunTime parses the cron expression and returns the next run time
// after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
