package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/newshack/newshack/internal/store"
)

// InsightStorage persists generated insights keyed by topic.
type InsightStorage interface {
	SaveInsight(ctx context.Context, topic string, ins store.Insight) error
}

// Insights produces the structured analytical record for one topic summary.
type Insights struct {
	storage   InsightStorage
	gen       Generator
	validator *StructuredValidator
	log       *slog.Logger
}

// NewInsights creates the insights generator.
func NewInsights(storage InsightStorage, gen Generator, log *slog.Logger) (*Insights, error) {
	if log == nil {
		log = slog.Default()
	}
	v, err := NewStructuredValidator(insightSchema)
	if err != nil {
		return nil, fmt.Errorf("compile insight schema: %w", err)
	}
	return &Insights{storage: storage, gen: gen, validator: v, log: log}, nil
}

// Generate builds the insight for one topic and persists it, replacing any
// prior record for the same topic string.
func (g *Insights) Generate(ctx context.Context, topic store.TopicSummary) (store.Insight, error) {
	raw, err := generateValidated(ctx, g.gen, g.log, g.buildPrompt(topic), g.validator)
	if err != nil {
		return store.Insight{}, err
	}

	var ins store.Insight
	if err := json.Unmarshal([]byte(raw), &ins); err != nil {
		return store.Insight{}, fmt.Errorf("%w: decode insight: %v", ErrBadResponse, err)
	}
	normalizeInsight(&ins)

	if err := g.storage.SaveInsight(ctx, topic.Topic, ins); err != nil {
		return store.Insight{}, fmt.Errorf("persist insight: %w", err)
	}
	g.log.Info("insight generated", "topic", topic.Topic, "stance", ins.Stance)
	return ins, nil
}

func (g *Insights) buildPrompt(topic store.TopicSummary) string {
	var b strings.Builder
	b.WriteString("You are a markets analyst. Produce a structured analytical record for\n")
	b.WriteString("the news topic below. Take a stance only when the evidence supports one;\n")
	b.WriteString("otherwise use \"neutral\" or \"no-actionable-insight\". Omit list fields\n")
	b.WriteString("that do not apply rather than returning empty ones.\n\n")
	fmt.Fprintf(&b, "Topic: %s\nCategory: %s\nImportance: %d/10\n\nSummary:\n%s\n",
		topic.Topic, topic.Metatopic, topic.Importance, topic.Summary)
	b.WriteString("\nRespond with ONLY valid JSON matching this schema:\n")
	b.Write(g.validator.SchemaJSON())
	return b.String()
}

// normalizeInsight collapses empty list fields to absent so the stored
// record follows the "absent or non-empty" rule.
func normalizeInsight(ins *store.Insight) {
	if len(ins.RisksAndWatchouts) == 0 {
		ins.RisksAndWatchouts = nil
	}
	if len(ins.KeyQuestionsForUser) == 0 {
		ins.KeyQuestionsForUser = nil
	}
	if len(ins.SuggestedInstrumentsLong) == 0 {
		ins.SuggestedInstrumentsLong = nil
	}
	if len(ins.SuggestedInstrumentsShort) == 0 {
		ins.SuggestedInstrumentsShort = nil
	}
	if len(ins.UsefulResources) == 0 {
		ins.UsefulResources = nil
	}
}
