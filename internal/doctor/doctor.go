// Package doctor runs offline diagnostic checks so a misconfigured install
// can be debugged without starting the server.
package doctor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/newshack/newshack/internal/config"
	"github.com/newshack/newshack/internal/store"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Failed reports whether any check ended in FAIL.
func (d Diagnosis) Failed() bool {
	for _, r := range d.Results {
		if r.Status == "FAIL" {
			return true
		}
	}
	return false
}

// Run executes all diagnostic checks.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, *config.Config) CheckResult{
		checkConfig,
		checkDataDir,
		checkDatabase,
		checkGeminiKey,
		checkPerplexityKey,
		checkFetcher,
		checkNotifierBot,
	}
	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}
	return d
}

func checkConfig(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: "FAIL", Message: "Configuration not loaded"}
	}
	if err := cfg.Validate(); err != nil {
		return CheckResult{Name: "Config", Status: "FAIL", Message: "Invalid configuration", Detail: err.Error()}
	}
	return CheckResult{Name: "Config", Status: "PASS", Message: fmt.Sprintf("Environment %q, data dir %s", cfg.Env, cfg.DataDir)}
}

func checkDataDir(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Data dir", Status: "SKIP", Message: "Config missing"}
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return CheckResult{Name: "Data dir", Status: "FAIL", Message: "Cannot create data dir", Detail: err.Error()}
	}
	probe := filepath.Join(cfg.DataDir, ".doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return CheckResult{Name: "Data dir", Status: "FAIL", Message: "Data dir is not writable", Detail: err.Error()}
	}
	_ = os.Remove(probe)
	return CheckResult{Name: "Data dir", Status: "PASS", Message: cfg.DataDir}
}

func checkDatabase(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Database", Status: "SKIP", Message: "Config missing"}
	}
	st, err := store.Open(cfg.DBPath())
	if err != nil {
		return CheckResult{Name: "Database", Status: "FAIL", Message: "Cannot open database", Detail: err.Error()}
	}
	defer st.Close()
	if err := st.Ping(ctx); err != nil {
		return CheckResult{Name: "Database", Status: "FAIL", Message: "Database does not respond", Detail: err.Error()}
	}
	return CheckResult{Name: "Database", Status: "PASS", Message: cfg.DBPath()}
}

func checkGeminiKey(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil || cfg.LLM.GeminiAPIKey == "" {
		return CheckResult{
			Name: "Gemini API key", Status: "WARN",
			Message: "Not configured; summaries, clustering and insights will return 503",
		}
	}
	return CheckResult{Name: "Gemini API key", Status: "PASS", Message: fmt.Sprintf("Set, model %s", cfg.LLM.Model)}
}

func checkPerplexityKey(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil || cfg.Links.PerplexityAPIKey == "" {
		return CheckResult{
			Name: "Perplexity API key", Status: "WARN",
			Message: "Not configured; outbound links will be stored without summaries",
		}
	}
	return CheckResult{Name: "Perplexity API key", Status: "PASS", Message: "Set"}
}

func checkFetcher(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil || cfg.Telegram.FetcherBaseURL == "" {
		return CheckResult{
			Name: "Channel fetcher", Status: "WARN",
			Message: "Fetcher URL not configured; channel ingest will fail per source",
		}
	}
	return CheckResult{Name: "Channel fetcher", Status: "PASS", Message: cfg.Telegram.FetcherBaseURL}
}

func checkNotifierBot(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil || !cfg.Telegram.BotEnabled {
		return CheckResult{Name: "Notification bot", Status: "SKIP", Message: "Disabled"}
	}
	if cfg.Telegram.BotToken == "" || cfg.Telegram.AdminChatID == 0 {
		return CheckResult{
			Name: "Notification bot", Status: "FAIL",
			Message: "Enabled but token or admin chat id is missing",
		}
	}
	return CheckResult{Name: "Notification bot", Status: "PASS", Message: "Configured"}
}
