// Package links resolves outbound URLs found in ingested messages to short
// content summaries, with durable memoization and request coalescing.
package links

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/newshack/newshack/internal/otel"
)

// Summarizer produces a content summary for a URL.
type Summarizer interface {
	Summarize(ctx context.Context, url string) (string, error)
}

// Cache is the durable memo layer behind the resolver.
type Cache interface {
	GetLinkSummary(ctx context.Context, url string) (string, bool, error)
	PutLinkSummary(ctx context.Context, url, content string) error
}

// Resolver turns URLs into summaries. Successful resolutions are written
// through to the cache; failures yield "" and are never cached, so later
// requests retry until the per-URL attempt cap is exhausted.
type Resolver struct {
	summarizer Summarizer
	cache      Cache
	log        *slog.Logger
	metrics    *otel.Metrics

	group singleflight.Group
	sem   *semaphore.Weighted

	mu         sync.Mutex
	attempts   map[string]int
	attemptCap int
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithMaxInFlight bounds concurrent upstream calls across all requests.
func WithMaxInFlight(n int64) ResolverOption {
	return func(r *Resolver) {
		if n > 0 {
			r.sem = semaphore.NewWeighted(n)
		}
	}
}

// WithAttemptCap bounds failed upstream attempts per URL; once hit, the URL
// resolves to "" without further calls.
func WithAttemptCap(n int) ResolverOption {
	return func(r *Resolver) {
		if n > 0 {
			r.attemptCap = n
		}
	}
}

// WithResolverLogger sets the logger.
func WithResolverLogger(log *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		if log != nil {
			r.log = log
		}
	}
}

// WithResolverMetrics records cache hits and upstream calls.
func WithResolverMetrics(m *otel.Metrics) ResolverOption {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// NewResolver creates a resolver over the given summarizer and cache.
func NewResolver(s Summarizer, c Cache, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		summarizer: s,
		cache:      c,
		log:        slog.Default(),
		sem:        semaphore.NewWeighted(8),
		attempts:   make(map[string]int),
		attemptCap: 5,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the summary for url, or "" when resolution is impossible.
// Concurrent calls for the same URL share one upstream request.
func (r *Resolver) Resolve(ctx context.Context, url string) string {
	if cached, ok, err := r.cache.GetLinkSummary(ctx, url); err == nil && ok {
		if r.metrics != nil {
			r.metrics.LinkCacheHits.Add(ctx, 1)
		}
		return cached
	} else if err != nil {
		r.log.Warn("link cache read failed", "url", url, "error", err)
	}

	v, err, _ := r.group.Do(url, func() (any, error) {
		// Re-check under the flight: a previous holder may have populated
		// the cache while this call was queued.
		if cached, ok, err := r.cache.GetLinkSummary(ctx, url); err == nil && ok {
			if r.metrics != nil {
				r.metrics.LinkCacheHits.Add(ctx, 1)
			}
			return cached, nil
		}
		if r.exhausted(url) {
			return "", nil
		}
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return "", err
		}
		defer r.sem.Release(1)

		if r.metrics != nil {
			r.metrics.LinkResolutions.Add(ctx, 1)
		}
		summary, err := r.summarizer.Summarize(ctx, url)
		if err != nil {
			n := r.recordFailure(url)
			r.log.Warn("link resolution failed", "url", url, "attempt", n, "error", err)
			return "", nil
		}
		if err := r.cache.PutLinkSummary(ctx, url, summary); err != nil {
			r.log.Warn("link cache write failed", "url", url, "error", err)
		}
		return summary, nil
	})
	if err != nil {
		return ""
	}
	return v.(string)
}

// ResolveAll resolves every URL, dropping failures. The returned map holds
// only URLs that produced a non-empty summary.
func (r *Resolver) ResolveAll(ctx context.Context, urls []string) map[string]string {
	out := make(map[string]string, len(urls))
	for _, u := range urls {
		if ctx.Err() != nil {
			break
		}
		if summary := r.Resolve(ctx, u); summary != "" {
			out[u] = summary
		}
	}
	return out
}

func (r *Resolver) exhausted(url string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts[url] >= r.attemptCap
}

func (r *Resolver) recordFailure(url string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts[url]++
	return r.attempts[url]
}
