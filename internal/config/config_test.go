package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENV", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Env != "development" {
		t.Fatalf("Env = %q, want development", cfg.Env)
	}
	if got := filepath.Base(cfg.DBPath()); got != "sources_dev.db" {
		t.Fatalf("DBPath = %q, want sources_dev.db", got)
	}
	if cfg.Ingest.MaxConcurrentFetches != 4 {
		t.Fatalf("MaxConcurrentFetches = %d, want 4", cfg.Ingest.MaxConcurrentFetches)
	}
	if cfg.Links.MaxInFlight != 8 {
		t.Fatalf("Links.MaxInFlight = %d, want 8", cfg.Links.MaxInFlight)
	}
	if cfg.LLM.MaxInFlight != 2 {
		t.Fatalf("LLM.MaxInFlight = %d, want 2", cfg.LLM.MaxInFlight)
	}
	if cfg.Progress.QueueSize != 256 {
		t.Fatalf("Progress.QueueSize = %d, want 256", cfg.Progress.QueueSize)
	}
}

func TestLoad_ProductionDB(t *testing.T) {
	t.Setenv("ENV", "production")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := filepath.Base(cfg.DBPath()); got != "sources.db" {
		t.Fatalf("DBPath = %q, want sources.db", got)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "gk-test")
	t.Setenv("PERPLEXITY_API_KEY", "pk-test")
	t.Setenv("ENABLE_TELEGRAM_BOT", "true")
	t.Setenv("TELEGRAM_ADMIN_CHAT_ID", "4242")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.GeminiAPIKey != "gk-test" {
		t.Fatalf("GeminiAPIKey = %q", cfg.LLM.GeminiAPIKey)
	}
	if cfg.Links.PerplexityAPIKey != "pk-test" {
		t.Fatalf("PerplexityAPIKey = %q", cfg.Links.PerplexityAPIKey)
	}
	if !cfg.Telegram.BotEnabled {
		t.Fatal("BotEnabled = false, want true")
	}
	if cfg.Telegram.AdminChatID != 4242 {
		t.Fatalf("AdminChatID = %d, want 4242", cfg.Telegram.AdminChatID)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "bind_addr: \"0.0.0.0:9000\"\ningest:\n  max_sources: 10\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BindAddr != "0.0.0.0:9000" {
		t.Fatalf("BindAddr = %q", cfg.BindAddr)
	}
	if cfg.Ingest.MaxSources != 10 {
		t.Fatalf("MaxSources = %d, want 10", cfg.Ingest.MaxSources)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{Env: "staging"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("want error for unknown env")
	}
	cfg = &Config{Env: "production", Ingest: IngestConfig{Schedule: "* *"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("want error for malformed cron expression")
	}
	cfg = &Config{Env: "production", Ingest: IngestConfig{Schedule: "0 * * * *"}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}
