// Package progress is an in-process registry of per-request progress
// streams. Long-running jobs emit events keyed by a caller-supplied request
// ID; SSE handlers subscribe and drain them. Streams are evicted a grace
// period after their terminal event so late subscribers can still replay it.
package progress

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultQueueSize = 256
	defaultGrace     = 30 * time.Second

	// CompletionText is the currentChannel payload of a successful terminal
	// event. Clients key off this literal.
	CompletionText = "Clustering complete!"
)

// ErrUnknownRequest is returned by Subscribe for request IDs that have no
// live stream (never emitted, or already evicted).
var ErrUnknownRequest = errors.New("progress: unknown request id")

// Event is one progress update. The JSON field names are part of the SSE
// wire contract.
type Event struct {
	ProcessedChannels int    `json:"processedChannels"`
	TotalChannels     int    `json:"totalChannels"`
	CurrentChannel    string `json:"currentChannel"`
	Error             string `json:"error,omitempty"`

	// Terminal marks the final event of a stream. Per-source failures carry
	// an Error without being terminal, so this cannot be derived from the
	// wire fields alone.
	Terminal bool `json:"-"`
}

type stream struct {
	buf    []Event
	subs   map[int]chan Event
	nextID int
	done   bool
	evict  *time.Timer
}

// Bus multiplexes progress events to any number of subscribers per request
// ID. Emission never blocks the producer: the retained buffer drops its
// oldest event when full, and so does each subscriber queue.
type Bus struct {
	mu      sync.Mutex
	streams map[string]*stream

	size   int
	grace  time.Duration
	logger *slog.Logger
}

type Option func(*Bus)

// WithQueueSize overrides the retained-event buffer size.
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.size = n
		}
	}
}

// WithGracePeriod overrides how long a finished stream stays subscribable.
func WithGracePeriod(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.grace = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

func New(opts ...Option) *Bus {
	b := &Bus{
		streams: make(map[string]*stream),
		size:    defaultQueueSize,
		grace:   defaultGrace,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Touch ensures a stream exists for the request ID so a subscriber arriving
// before the job's first emit is not rejected.
func (b *Bus) Touch(requestID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ensureLocked(requestID)
}

// Exists reports whether the request ID has a live stream.
func (b *Bus) Exists(requestID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.streams[requestID]
	return ok
}

func (b *Bus) ensureLocked(requestID string) *stream {
	st, ok := b.streams[requestID]
	if !ok {
		st = &stream{subs: make(map[int]chan Event)}
		b.streams[requestID] = st
	}
	return st
}

// Emit records an event and fans it out. The stream is created lazily on
// first emit. Events after the terminal one are dropped.
func (b *Bus) Emit(requestID string, ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.ensureLocked(requestID)
	if st.done {
		return
	}
	b.emitLocked(requestID, st, ev)
}

func (b *Bus) emitLocked(requestID string, st *stream, ev Event) {
	if len(st.buf) >= b.size {
		// Drop the oldest retained event; the newest must always survive.
		st.buf = st.buf[1:]
	}
	st.buf = append(st.buf, ev)

	for _, ch := range st.subs {
		send(ch, ev)
	}

	if ev.Terminal {
		st.done = true
		st.evict = time.AfterFunc(b.grace, func() { b.drop(requestID) })
	}
}

// send delivers without blocking: if the subscriber queue is full, its
// oldest entry is discarded to make room.
func send(ch chan Event, ev Event) {
	select {
	case ch <- ev:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- ev:
	default:
	}
}

// Complete emits the successful terminal event, carrying forward the last
// known counters.
func (b *Bus) Complete(requestID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.ensureLocked(requestID)
	if st.done {
		return
	}
	processed, total := lastCounts(st)
	b.emitLocked(requestID, st, Event{
		ProcessedChannels: processed,
		TotalChannels:     total,
		CurrentChannel:    CompletionText,
		Terminal:          true,
	})
}

// Fail emits a terminal event carrying the failure reason.
func (b *Bus) Fail(requestID, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.ensureLocked(requestID)
	if st.done {
		return
	}
	processed, total := lastCounts(st)
	b.emitLocked(requestID, st, Event{
		ProcessedChannels: processed,
		TotalChannels:     total,
		CurrentChannel:    "Failed",
		Error:             reason,
		Terminal:          true,
	})
}

func lastCounts(st *stream) (processed, total int) {
	if n := len(st.buf); n > 0 {
		last := st.buf[n-1]
		return last.ProcessedChannels, last.TotalChannels
	}
	return 0, 0
}

// Subscription is one subscriber's view of a stream: the retained history
// replayed first, then live events in emission order.
type Subscription struct {
	bus       *Bus
	requestID string
	id        int
	ch        chan Event
}

// Ch returns the event channel. It is closed when the stream is evicted.
func (s *Subscription) Ch() <-chan Event {
	return s.ch
}

// Subscribe attaches to the stream for requestID. The returned subscription
// first yields all retained events, then follows the live stream.
func (b *Bus) Subscribe(requestID string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.streams[requestID]
	if !ok {
		return nil, ErrUnknownRequest
	}

	// Headroom beyond the retained buffer so the replay plus a burst of live
	// events fit without dropping.
	ch := make(chan Event, b.size*2)
	for _, ev := range st.buf {
		ch <- ev
	}

	st.nextID++
	sub := &Subscription{bus: b, requestID: requestID, id: st.nextID, ch: ch}
	st.subs[sub.id] = ch
	return sub, nil
}

// Unsubscribe detaches and closes the subscription channel. Safe to call
// after eviction.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.streams[sub.requestID]
	if !ok {
		return
	}
	if _, ok := st.subs[sub.id]; ok {
		delete(st.subs, sub.id)
		close(sub.ch)
	}
}

// drop evicts a stream after its grace period, closing any remaining
// subscriber channels.
func (b *Bus) drop(requestID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.streams[requestID]
	if !ok {
		return
	}
	for id, ch := range st.subs {
		delete(st.subs, id)
		close(ch)
	}
	delete(b.streams, requestID)
	b.logger.Debug("progress stream evicted", "request_id", requestID)
}

// StreamCount returns the number of live streams. Used by health reporting
// and tests.
func (b *Bus) StreamCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.streams)
}
