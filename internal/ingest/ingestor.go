// Package ingest materializes channel messages and their resolved links
// into the store, reporting progress along the way.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/newshack/newshack/internal/progress"
	"github.com/newshack/newshack/internal/store"
	"github.com/newshack/newshack/internal/telegram"
)

// Storage is the slice of the store the ingestor writes through.
type Storage interface {
	UpsertSource(ctx context.Context, url, name, sourceType, category string) (store.Source, error)
	RecordMessage(ctx context.Context, m store.Message) (int64, bool, error)
	AttachResolvedLinks(ctx context.Context, messageRowID int64, linksJSON string) error
}

// LinkResolver resolves outbound URLs to summaries, dropping failures.
type LinkResolver interface {
	ResolveAll(ctx context.Context, urls []string) map[string]string
}

// Source names one channel to ingest.
type Source struct {
	URL      string
	Name     string
	Category string
}

// Batch is one ingest job.
type Batch struct {
	Sources   []Source
	Since     time.Time
	Until     time.Time
	RequestID string
}

// Result summarizes a finished batch.
type Result struct {
	Sources  int
	Messages int
	Failures []string
}

// Ingestor fans out over sources, persisting messages in timestamp order
// and walking their links through the resolver.
type Ingestor struct {
	storage  Storage
	client   telegram.ChannelClient
	resolver LinkResolver
	bus      *progress.Bus
	log      *slog.Logger

	maxConcurrent int
	emitInterval  time.Duration
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithMaxConcurrentFetches bounds simultaneous channel fetches.
func WithMaxConcurrentFetches(n int) Option {
	return func(ing *Ingestor) {
		if n > 0 {
			ing.maxConcurrent = n
		}
	}
}

// WithEmitInterval sets the per-request floor between progress emissions.
func WithEmitInterval(d time.Duration) Option {
	return func(ing *Ingestor) {
		if d >= 0 {
			ing.emitInterval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(ing *Ingestor) {
		if log != nil {
			ing.log = log
		}
	}
}

// New creates an ingestor.
func New(storage Storage, client telegram.ChannelClient, resolver LinkResolver, bus *progress.Bus, opts ...Option) *Ingestor {
	ing := &Ingestor{
		storage:       storage,
		client:        client,
		resolver:      resolver,
		bus:           bus,
		log:           slog.Default(),
		maxConcurrent: 4,
		emitInterval:  time.Second,
	}
	for _, opt := range opts {
		opt(ing)
	}
	return ing
}

// Run executes one batch. Per-source failures advance the counter and show
// up as error events; they never abort the batch. The request's progress
// stream always ends with a terminal event.
func (ing *Ingestor) Run(ctx context.Context, b Batch) Result {
	ing.bus.Touch(b.RequestID)

	sources := ing.upsertSources(ctx, b.Sources)
	total := len(sources)

	ing.bus.Emit(b.RequestID, progress.Event{
		ProcessedChannels: 0,
		TotalChannels:     total,
		CurrentChannel:    "Initializing",
	})

	tracker := &batchTracker{total: total, interval: ing.emitInterval}

	var (
		wg  sync.WaitGroup
		sem = make(chan struct{}, ing.maxConcurrent)

		mu     sync.Mutex
		result = Result{Sources: total}
	)
	for _, src := range sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			recorded, err := ing.ingestSource(ctx, src, b.Since, b.Until)

			mu.Lock()
			result.Messages += recorded
			if err != nil {
				result.Failures = append(result.Failures, src.URL)
			}
			mu.Unlock()

			if err != nil {
				ing.log.Warn("source ingest failed", "source", src.URL, "error", err)
			}
			done, emit := tracker.advance(err != nil)
			if !emit {
				return
			}
			ev := progress.Event{
				ProcessedChannels: done,
				TotalChannels:     total,
				CurrentChannel:    fmt.Sprintf("Processing %d/%d: %s", done, total, src.URL),
			}
			if err != nil {
				ev.Error = err.Error()
			}
			ing.bus.Emit(b.RequestID, ev)
		}(src)
	}
	wg.Wait()

	ing.bus.Complete(b.RequestID)
	ing.log.Info("ingest batch finished", "request_id", b.RequestID,
		"sources", result.Sources, "messages", result.Messages, "failures", len(result.Failures))
	return result
}

// upsertSources canonicalizes and registers the batch's sources, dropping
// blank entries.
func (ing *Ingestor) upsertSources(ctx context.Context, in []Source) []Source {
	out := make([]Source, 0, len(in))
	for _, src := range in {
		url := telegram.CanonicalizeChannelURL(src.URL)
		if url == "" {
			continue
		}
		src.URL = url
		if _, err := ing.storage.UpsertSource(ctx, url, src.Name, "telegram", src.Category); err != nil {
			ing.log.Warn("source upsert failed", "source", url, "error", err)
		}
		out = append(out, src)
	}
	return out
}

// ingestSource fetches one channel and persists its messages in timestamp
// order. Returns the count of newly recorded messages.
func (ing *Ingestor) ingestSource(ctx context.Context, src Source, since, until time.Time) (int, error) {
	msgs, err := ing.client.FetchChannelMessages(ctx, src.URL, since, until)
	if err != nil {
		return 0, fmt.Errorf("fetch %s: %w", src.URL, err)
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Date.Before(msgs[j].Date) })

	channelID := telegram.HandleFromURL(src.URL)
	recorded := 0
	for _, m := range msgs {
		rowID, inserted, err := ing.storage.RecordMessage(ctx, store.Message{
			SourceType: "telegram",
			ChannelID:  channelID,
			MessageID:  m.ID,
			SourceURL:  src.URL,
			Date:       m.Date,
			Text:       m.Text,
		})
		if err != nil {
			return recorded, fmt.Errorf("record message %d: %w", m.ID, err)
		}
		if inserted {
			recorded++
		}

		urls := mergeLinks(ExtractURLs(m.Text), m.Links)
		if len(urls) == 0 {
			continue
		}
		resolved := ing.resolver.ResolveAll(ctx, urls)
		if len(resolved) == 0 {
			continue
		}
		payload, err := json.Marshal(resolved)
		if err != nil {
			ing.log.Warn("encode resolved links failed", "message_id", m.ID, "error", err)
			continue
		}
		if err := ing.storage.AttachResolvedLinks(ctx, rowID, string(payload)); err != nil {
			ing.log.Warn("attach resolved links failed", "message_id", m.ID, "error", err)
		}
	}
	return recorded, nil
}

// mergeLinks combines regex-extracted URLs with links the client carried
// from message entities, preserving order and dropping duplicates.
func mergeLinks(fromText, fromEntities []string) []string {
	if len(fromEntities) == 0 {
		return fromText
	}
	seen := make(map[string]struct{}, len(fromText)+len(fromEntities))
	out := make([]string, 0, len(fromText)+len(fromEntities))
	for _, u := range fromText {
		seen[u] = struct{}{}
		out = append(out, u)
	}
	for _, u := range fromEntities {
		if _, dup := seen[u]; dup || u == "" {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// batchTracker serializes counter advancement and rate-limits emissions.
// Error events and the final counter always emit.
type batchTracker struct {
	mu       sync.Mutex
	done     int
	total    int
	lastEmit time.Time
	interval time.Duration
}

func (t *batchTracker) advance(failed bool) (done int, emit bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done++
	now := time.Now()
	if failed || t.done == t.total || now.Sub(t.lastEmit) >= t.interval {
		t.lastEmit = now
		return t.done, true
	}
	return t.done, false
}
