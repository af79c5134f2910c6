package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/newshack/newshack/internal/store"
)

const (
	// messageTextCap bounds each message's contribution to the prompt.
	messageTextCap = 2000

	// maxTopics caps how many topic summaries one run may produce.
	maxTopics = 20
)

// ParsePeriod maps the API's period tokens to durations.
func ParsePeriod(period string) (time.Duration, error) {
	switch period {
	case "1d":
		return 24 * time.Hour, nil
	case "2d":
		return 48 * time.Hour, nil
	case "1w":
		return 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown period %q (want 1d, 2d or 1w)", period)
	}
}

// SummaryStorage is the slice of the store the summarizer reads and writes.
type SummaryStorage interface {
	MessagesInWindow(ctx context.Context, sourceURLs []string, since, until time.Time) ([]store.Message, error)
	SaveTopicSummary(ctx context.Context, ts store.TopicSummary) (int64, error)
	MarkMessagesProcessed(ctx context.Context, ids []int64) error
}

// SummaryResult is one summarizer run's outcome.
type SummaryResult struct {
	Topics          []store.TopicSummary
	NoMessagesFound bool
}

// Summarizer turns a window of messages into ranked topic summaries.
type Summarizer struct {
	storage   SummaryStorage
	gen       Generator
	validator *StructuredValidator
	log       *slog.Logger
}

// NewSummarizer creates a summarizer.
func NewSummarizer(storage SummaryStorage, gen Generator, log *slog.Logger) (*Summarizer, error) {
	if log == nil {
		log = slog.Default()
	}
	v, err := NewStructuredValidator(topicsSchema)
	if err != nil {
		return nil, fmt.Errorf("compile topics schema: %w", err)
	}
	return &Summarizer{storage: storage, gen: gen, validator: v, log: log}, nil
}

// Run summarizes the messages of the given sources over period. An empty
// sources slice means all sources. An empty window short-circuits without a
// model call.
func (s *Summarizer) Run(ctx context.Context, period string, sources []string) (SummaryResult, error) {
	window, err := ParsePeriod(period)
	if err != nil {
		return SummaryResult{}, err
	}
	until := time.Now().UTC()
	since := until.Add(-window)

	msgs, err := s.storage.MessagesInWindow(ctx, sources, since, until)
	if err != nil {
		return SummaryResult{}, fmt.Errorf("load messages: %w", err)
	}
	if len(msgs) == 0 {
		s.log.Info("summaries requested over empty window", "period", period, "sources", len(sources))
		return SummaryResult{Topics: []store.TopicSummary{}, NoMessagesFound: true}, nil
	}

	raw, err := generateValidated(ctx, s.gen, s.log, s.buildPrompt(msgs), s.validator)
	if err != nil {
		return SummaryResult{}, err
	}

	var parsed struct {
		Topics []store.TopicSummary `json:"topics"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return SummaryResult{}, fmt.Errorf("%w: decode topics: %v", ErrBadResponse, err)
	}

	topics := sanitizeTopics(parsed.Topics, msgs)
	if len(topics) > maxTopics {
		topics = topics[:maxTopics]
	}

	var memberIDs []int64
	for i := range topics {
		id, err := s.storage.SaveTopicSummary(ctx, topics[i])
		if err != nil {
			return SummaryResult{}, fmt.Errorf("persist topic %q: %w", topics[i].Topic, err)
		}
		topics[i].ID = id
		memberIDs = append(memberIDs, topics[i].MessageIDs...)
	}
	if err := s.storage.MarkMessagesProcessed(ctx, memberIDs); err != nil {
		s.log.Warn("mark messages processed failed", "error", err)
	}

	s.log.Info("summaries generated", "period", period, "messages", len(msgs), "topics", len(topics))
	return SummaryResult{Topics: topics}, nil
}

// buildPrompt assembles the single summarization prompt: every message's
// truncated text plus its resolved-link summaries, then the output schema.
func (s *Summarizer) buildPrompt(msgs []store.Message) string {
	var b strings.Builder
	b.WriteString("You are a news analyst. Below are messages collected from news channels.\n")
	b.WriteString("Group them into the most salient topics and summarize each.\n\n")

	for _, m := range msgs {
		text := truncateUTF8(m.Text, messageTextCap)
		fmt.Fprintf(&b, "Message %d (%s, %s):\n%s\n",
			m.ID, m.SourceURL, m.Date.Format(time.RFC3339), text)
		if m.ResolvedLinks != "" {
			var links map[string]string
			if json.Unmarshal([]byte(m.ResolvedLinks), &links) == nil && len(links) > 0 {
				b.WriteString("Linked content:\n")
				urls := make([]string, 0, len(links))
				for u := range links {
					urls = append(urls, u)
				}
				sort.Strings(urls)
				for _, u := range urls {
					fmt.Fprintf(&b, "- %s: %s\n", u, links[u])
				}
			}
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Return up to %d topics, each referencing the message IDs it covers.\n", maxTopics)
	b.WriteString("Respond with ONLY valid JSON matching this schema:\n")
	b.Write(s.validator.SchemaJSON())
	return b.String()
}

// truncateUTF8 cuts s to at most max bytes without splitting a rune.
func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// sanitizeTopics drops member IDs that do not refer to a loaded message,
// clamps importance and discards topics left without members.
func sanitizeTopics(topics []store.TopicSummary, msgs []store.Message) []store.TopicSummary {
	known := make(map[int64]struct{}, len(msgs))
	for _, m := range msgs {
		known[m.ID] = struct{}{}
	}

	out := make([]store.TopicSummary, 0, len(topics))
	for _, t := range topics {
		var members []int64
		for _, id := range t.MessageIDs {
			if _, ok := known[id]; ok {
				members = append(members, id)
			}
		}
		if len(members) == 0 {
			continue
		}
		t.MessageIDs = members
		if t.Importance < 1 {
			t.Importance = 1
		}
		if t.Importance > 10 {
			t.Importance = 10
		}
		out = append(out, t)
	}
	return out
}
