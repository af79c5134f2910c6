package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/newshack/newshack/internal/ingest"
)

type listerStub struct {
	urls []string
}

func (l *listerStub) ListSourceURLs(context.Context) ([]string, error) {
	return l.urls, nil
}

type runnerStub struct {
	mu      sync.Mutex
	batches []ingest.Batch
}

func (r *runnerStub) Run(_ context.Context, b ingest.Batch) ingest.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, b)
	return ingest.Result{Sources: len(b.Sources)}
}

func (r *runnerStub) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func TestNewScheduler_RejectsBadExpr(t *testing.T) {
	_, err := NewScheduler(Config{CronExpr: "not a cron"})
	if err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
	_, err = NewScheduler(Config{CronExpr: "0 6 * * *"})
	if err != nil {
		t.Fatalf("valid expression rejected: %v", err)
	}
}

func TestNextRunTime(t *testing.T) {
	after := time.Date(2026, 7, 1, 5, 0, 0, 0, time.UTC)
	next, err := NextRunTime("0 6 * * *", after)
	if err != nil {
		t.Fatalf("NextRunTime: %v", err)
	}
	want := time.Date(2026, 7, 1, 6, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}

	if _, err := NextRunTime("banana", after); err == nil {
		t.Fatal("expected error for invalid expression")
	}
}

func TestFire_RunsAllSources(t *testing.T) {
	lister := &listerStub{urls: []string{"https://t.me/a", "https://t.me/b"}}
	runner := &runnerStub{}
	s, err := NewScheduler(Config{
		Sources:  lister,
		Runner:   runner,
		CronExpr: "* * * * *",
		Window:   6 * time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}

	s.fire(context.Background())

	if runner.count() != 1 {
		t.Fatalf("runner invoked %d times, want 1", runner.count())
	}
	b := runner.batches[0]
	if len(b.Sources) != 2 {
		t.Fatalf("batch carried %d sources, want 2", len(b.Sources))
	}
	if b.RequestID == "" {
		t.Fatal("batch has no request id")
	}
	if got := b.Until.Sub(b.Since); got != 6*time.Hour {
		t.Fatalf("window = %v, want 6h", got)
	}
}

func TestFire_NoSourcesNoRun(t *testing.T) {
	runner := &runnerStub{}
	s, err := NewScheduler(Config{
		Sources:  &listerStub{},
		Runner:   runner,
		CronExpr: "* * * * *",
	})
	if err != nil {
		t.Fatal(err)
	}
	s.fire(context.Background())
	if runner.count() != 0 {
		t.Fatalf("runner invoked %d times with no sources", runner.count())
	}
}

func TestScheduler_StartStop(t *testing.T) {
	s, err := NewScheduler(Config{
		Sources:  &listerStub{},
		Runner:   &runnerStub{},
		CronExpr: "0 6 * * *",
	})
	if err != nil {
		t.Fatal(err)
	}
	s.Start(context.Background())
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
