package links

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/newshack/newshack/internal/otel"
)

type memoryCache struct {
	mu sync.Mutex
	m  map[string]string
}

func newMemoryCache() *memoryCache { return &memoryCache{m: make(map[string]string)} }

func (c *memoryCache) GetLinkSummary(_ context.Context, url string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[url]
	return v, ok, nil
}

func (c *memoryCache) PutLinkSummary(_ context.Context, url, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[url] = content
	return nil
}

type stubSummarizer struct {
	calls   atomic.Int64
	inUse   atomic.Int64
	maxSeen atomic.Int64
	delay   time.Duration
	fn      func(url string) (string, error)
}

func (s *stubSummarizer) Summarize(_ context.Context, url string) (string, error) {
	s.calls.Add(1)
	cur := s.inUse.Add(1)
	for {
		max := s.maxSeen.Load()
		if cur <= max || s.maxSeen.CompareAndSwap(max, cur) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.inUse.Add(-1)
	if s.fn != nil {
		return s.fn(url)
	}
	return "summary of " + url, nil
}

func TestResolve_CacheHitSkipsUpstream(t *testing.T) {
	cache := newMemoryCache()
	cache.m["https://ex.com/a"] = "cached"
	stub := &stubSummarizer{}
	r := NewResolver(stub, cache)

	if got := r.Resolve(context.Background(), "https://ex.com/a"); got != "cached" {
		t.Fatalf("got %q, want cached value", got)
	}
	if stub.calls.Load() != 0 {
		t.Fatalf("upstream called %d times on cache hit", stub.calls.Load())
	}
}

func TestResolve_SuccessWritesThrough(t *testing.T) {
	cache := newMemoryCache()
	stub := &stubSummarizer{}
	r := NewResolver(stub, cache)

	got := r.Resolve(context.Background(), "https://ex.com/a")
	if got != "summary of https://ex.com/a" {
		t.Fatalf("got %q", got)
	}
	if _, ok, _ := cache.GetLinkSummary(context.Background(), "https://ex.com/a"); !ok {
		t.Fatal("success not written to cache")
	}

	// Second call served from cache.
	r.Resolve(context.Background(), "https://ex.com/a")
	if stub.calls.Load() != 1 {
		t.Fatalf("upstream called %d times, want 1", stub.calls.Load())
	}
}

func TestResolve_FailureUncached(t *testing.T) {
	cache := newMemoryCache()
	stub := &stubSummarizer{fn: func(string) (string, error) {
		return "", errors.New("upstream down")
	}}
	r := NewResolver(stub, cache)

	if got := r.Resolve(context.Background(), "https://ex.com/a"); got != "" {
		t.Fatalf("got %q, want empty on failure", got)
	}
	if _, ok, _ := cache.GetLinkSummary(context.Background(), "https://ex.com/a"); ok {
		t.Fatal("failure must not be cached")
	}

	// Failure does not poison the URL: a later call retries upstream.
	r.Resolve(context.Background(), "https://ex.com/a")
	if stub.calls.Load() != 2 {
		t.Fatalf("upstream called %d times, want 2", stub.calls.Load())
	}
}

func TestResolve_AttemptCapStopsRetries(t *testing.T) {
	cache := newMemoryCache()
	stub := &stubSummarizer{fn: func(string) (string, error) {
		return "", errors.New("permanent failure")
	}}
	r := NewResolver(stub, cache, WithAttemptCap(3))

	for i := 0; i < 10; i++ {
		r.Resolve(context.Background(), "https://ex.com/a")
	}
	if stub.calls.Load() != 3 {
		t.Fatalf("upstream called %d times, want cap of 3", stub.calls.Load())
	}
}

func TestResolve_SingleFlightCoalesces(t *testing.T) {
	cache := newMemoryCache()
	stub := &stubSummarizer{delay: 50 * time.Millisecond}
	r := NewResolver(stub, cache)

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Resolve(context.Background(), "https://ex.com/hot")
		}(i)
	}
	wg.Wait()

	if stub.calls.Load() != 1 {
		t.Fatalf("upstream called %d times for one hot URL, want 1", stub.calls.Load())
	}
	for i, got := range results {
		if got != "summary of https://ex.com/hot" {
			t.Fatalf("caller %d got %q", i, got)
		}
	}
}

func TestResolve_SemaphoreBoundsConcurrency(t *testing.T) {
	cache := newMemoryCache()
	stub := &stubSummarizer{delay: 20 * time.Millisecond}
	r := NewResolver(stub, cache, WithMaxInFlight(2))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Resolve(context.Background(), "https://ex.com/"+string(rune('a'+i)))
		}(i)
	}
	wg.Wait()

	if max := stub.maxSeen.Load(); max > 2 {
		t.Fatalf("observed %d concurrent upstream calls, limit is 2", max)
	}
}

func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s data is %T, want Sum[int64]", name, m.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestResolve_RecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := otel.NewMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	cache := newMemoryCache()
	stub := &stubSummarizer{}
	r := NewResolver(stub, cache, WithResolverMetrics(m))

	// First call goes upstream, second is served from the cache.
	r.Resolve(context.Background(), "https://ex.com/a")
	r.Resolve(context.Background(), "https://ex.com/a")

	if got := counterValue(t, reader, "newshack.links.resolutions"); got != 1 {
		t.Fatalf("resolutions = %d, want 1", got)
	}
	if got := counterValue(t, reader, "newshack.links.cache_hits"); got != 1 {
		t.Fatalf("cache hits = %d, want 1", got)
	}
}

func TestResolveAll_DropsFailures(t *testing.T) {
	cache := newMemoryCache()
	stub := &stubSummarizer{fn: func(url string) (string, error) {
		if url == "https://bad.example" {
			return "", errors.New("no")
		}
		return "ok", nil
	}}
	r := NewResolver(stub, cache)

	got := r.ResolveAll(context.Background(),
		[]string{"https://good.example", "https://bad.example"})
	if len(got) != 1 {
		t.Fatalf("got %d entries, want 1", len(got))
	}
	if got["https://good.example"] != "ok" {
		t.Fatalf("map = %v", got)
	}
}

func TestResolveAll_StopsOnCancelledContext(t *testing.T) {
	cache := newMemoryCache()
	stub := &stubSummarizer{}
	r := NewResolver(stub, cache)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got := r.ResolveAll(ctx, []string{"https://ex.com/a", "https://ex.com/b"})
	if len(got) != 0 {
		t.Fatalf("got %d entries under cancelled context, want 0", len(got))
	}
	if stub.calls.Load() != 0 {
		t.Fatalf("upstream called %d times under cancelled context", stub.calls.Load())
	}
}
