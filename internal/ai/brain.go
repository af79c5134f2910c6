// Package ai holds the model-facing pipeline: a Genkit-backed generator and
// the clusterer, summarizer and insights stages built on top of it.
package ai

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	genkitai "github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"golang.org/x/sync/semaphore"

	"github.com/newshack/newshack/internal/otel"
)

// Generator is the LLM abstraction the pipeline stages depend on.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// BrainConfig holds the Gemini generator's settings.
type BrainConfig struct {
	APIKey      string
	Model       string
	MaxInFlight int64
	CallTimeout time.Duration
}

// Brain wraps a Genkit instance with the GoogleAI plugin for Gemini and
// bounds in-flight calls.
type Brain struct {
	g       *genkit.Genkit
	model   string
	llmOn   bool
	sem     *semaphore.Weighted
	timeout time.Duration
	log     *slog.Logger
}

// NewBrain initializes Genkit. Without an API key the brain stays up but
// every Generate returns ErrUnavailable.
func NewBrain(ctx context.Context, cfg BrainConfig, log *slog.Logger) *Brain {
	if log == nil {
		log = slog.Default()
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-2.0-flash"
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 2
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 60 * time.Second
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	var g *genkit.Genkit
	llmOn := false
	if apiKey != "" {
		_ = os.Setenv("GEMINI_API_KEY", apiKey)
		g = genkit.Init(ctx,
			genkit.WithPlugins(&googlegenai.GoogleAI{}),
			genkit.WithDefaultModel("googleai/"+model),
		)
		llmOn = true
		log.Info("genkit brain initialized", "provider", "google", "model", "googleai/"+model)
	} else {
		g = genkit.Init(ctx)
		log.Warn("Gemini API key missing; AI endpoints will report unavailable")
	}

	return &Brain{
		g:       g,
		model:   model,
		llmOn:   llmOn,
		sem:     semaphore.NewWeighted(cfg.MaxInFlight),
		timeout: cfg.CallTimeout,
		log:     log,
	}
}

// Ready reports whether the brain can serve model calls.
func (b *Brain) Ready() bool { return b.llmOn }

// Generate runs a single prompt through the model.
func (b *Brain) Generate(ctx context.Context, prompt string) (string, error) {
	if !b.llmOn {
		return "", fmt.Errorf("%w: no API key configured", ErrUnavailable)
	}
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer b.sem.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	started := time.Now()
	resp, err := genkit.Generate(callCtx, b.g, genkitai.WithPrompt(prompt))
	if err != nil {
		b.log.Error("genkit generate failed", "error", err, "elapsed", time.Since(started))
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	b.log.Debug("genkit generate finished", "elapsed", time.Since(started))
	return resp.Text(), nil
}

// InstrumentGenerator wraps gen so every model call records its duration,
// successful or not. A nil metrics set returns gen unchanged.
func InstrumentGenerator(gen Generator, m *otel.Metrics) Generator {
	if m == nil {
		return gen
	}
	return &instrumentedGenerator{gen: gen, metrics: m}
}

type instrumentedGenerator struct {
	gen     Generator
	metrics *otel.Metrics
}

func (g *instrumentedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	started := time.Now()
	reply, err := g.gen.Generate(ctx, prompt)
	g.metrics.LLMCallDuration.Record(ctx, time.Since(started).Seconds())
	return reply, err
}

// generateValidated runs prompt through gen and validates the reply against
// v. An invalid reply triggers one corrective re-prompt; a second failure is
// ErrBadResponse. Transport failures get one retry with backoff before
// surfacing ErrUnavailable.
func generateValidated(ctx context.Context, gen Generator, log *slog.Logger, prompt string, v *StructuredValidator) (string, error) {
	reply, err := generateWithRetry(ctx, gen, log, prompt)
	if err != nil {
		return "", err
	}

	result, valErr := v.ValidateResponse(reply)
	if valErr == nil {
		return result.JSON, nil
	}
	log.Warn("model response failed validation, re-prompting", "error", valErr)

	retryPrompt := fmt.Sprintf(
		"Your previous response did not match the required JSON schema. Error: %s\n\n"+
			"Respond again with ONLY valid JSON matching the schema.\n\nOriginal request:\n%s",
		valErr, prompt)
	reply, err = generateWithRetry(ctx, gen, log, retryPrompt)
	if err != nil {
		return "", err
	}
	result, valErr = v.ValidateResponse(reply)
	if valErr != nil {
		return "", fmt.Errorf("%w: %v", ErrBadResponse, valErr)
	}
	return result.JSON, nil
}

// generateWithRetry gives transient model failures one retry with backoff.
func generateWithRetry(ctx context.Context, gen Generator, log *slog.Logger, prompt string) (string, error) {
	reply, err := gen.Generate(ctx, prompt)
	if err == nil {
		return reply, nil
	}
	if ctx.Err() != nil {
		return "", err
	}
	log.Warn("model call failed, retrying", "error", err)
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(2 * time.Second):
	}
	reply, err = gen.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return reply, nil
}
