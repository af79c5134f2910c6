package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TelegramConfig holds credentials for the external channel fetcher and the
// admin notification bot.
type TelegramConfig struct {
	APIID   string `yaml:"api_id"`
	APIHash string `yaml:"api_hash"`

	// FetcherBaseURL is the HTTP endpoint of the channel-fetcher sidecar.
	// The MTProto client lives outside this process; we only consume its API.
	FetcherBaseURL string `yaml:"fetcher_base_url"`

	BotToken    string `yaml:"bot_token"`
	AdminChatID int64  `yaml:"admin_chat_id"`
	BotEnabled  bool   `yaml:"bot_enabled"`
}

// LLMConfig holds settings for the Gemini brain.
type LLMConfig struct {
	GeminiAPIKey string `yaml:"gemini_api_key"`
	Model        string `yaml:"model"`

	// MaxInFlight bounds concurrent model calls.
	MaxInFlight        int `yaml:"max_in_flight"`
	CallTimeoutSeconds int `yaml:"call_timeout_seconds"`

	// SummaryTimeoutSeconds is the wall-clock cap for a whole summarization run.
	SummaryTimeoutSeconds int `yaml:"summary_timeout_seconds"`
}

// LinksConfig holds settings for the link resolver.
type LinksConfig struct {
	PerplexityAPIKey   string `yaml:"perplexity_api_key"`
	MaxInFlight        int    `yaml:"max_in_flight"`
	AttemptCap         int    `yaml:"attempt_cap"`
	CallTimeoutSeconds int    `yaml:"call_timeout_seconds"`
}

// IngestConfig holds settings for the channel ingestor.
type IngestConfig struct {
	MaxConcurrentFetches int `yaml:"max_concurrent_fetches"`
	FetchTimeoutSeconds  int `yaml:"fetch_timeout_seconds"`
	MaxSources           int `yaml:"max_sources"`

	// Schedule is a 5-field cron expression for background re-ingestion of all
	// known sources. Empty disables the scheduler.
	Schedule string `yaml:"schedule"`
}

// ProgressConfig tunes the SSE progress bus.
type ProgressConfig struct {
	QueueSize        int `yaml:"queue_size"`
	KeepaliveSeconds int `yaml:"keepalive_seconds"`
	GraceSeconds     int `yaml:"grace_seconds"`
}

// CORSConfig controls the browser-facing CORS middleware.
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// OtelConfig controls metrics export.
type OtelConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

type Config struct {
	// Env selects the environment: "development" (default) or "production".
	// It picks the database file, matching the deployed layout.
	Env string `yaml:"-"`

	DataDir  string `yaml:"data_dir"`
	BindAddr string `yaml:"bind_addr"`
	LogLevel string `yaml:"log_level"`

	Telegram TelegramConfig `yaml:"telegram"`
	LLM      LLMConfig      `yaml:"llm"`
	Links    LinksConfig    `yaml:"links"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Progress ProgressConfig `yaml:"progress"`
	CORS     CORSConfig     `yaml:"cors"`
	Otel     OtelConfig     `yaml:"otel"`
}

// DBPath returns the sqlite file for the active environment.
func (c *Config) DBPath() string {
	name := "sources_dev.db"
	if c.Env == "production" {
		name = "sources.db"
	}
	return filepath.Join(c.DataDir, name)
}

// LogFile returns the log file for the active environment.
func (c *Config) LogFile() string {
	name := "log_dev.log"
	if c.Env == "production" {
		name = "log.log"
	}
	return filepath.Join(c.DataDir, name)
}

// Load reads the optional YAML config file, applies environment overrides and
// fills defaults. A missing file is not an error; env vars alone are enough.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// Config file is optional.
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ENV"); v != "" {
		c.Env = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("TELEGRAM_API_ID"); v != "" {
		c.Telegram.APIID = v
	}
	if v := os.Getenv("TELEGRAM_API_HASH"); v != "" {
		c.Telegram.APIHash = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_ADMIN_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Telegram.AdminChatID = id
		}
	}
	if v := os.Getenv("TELEGRAM_FETCHER_URL"); v != "" {
		c.Telegram.FetcherBaseURL = v
	}
	if v := os.Getenv("ENABLE_TELEGRAM_BOT"); v != "" {
		c.Telegram.BotEnabled = parseBool(v)
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.LLM.GeminiAPIKey = v
	}
	if v := os.Getenv("PERPLEXITY_API_KEY"); v != "" {
		c.Links.PerplexityAPIKey = v
	}
}

func (c *Config) applyDefaults() {
	if c.Env == "" {
		c.Env = "development"
	}
	if c.DataDir == "" {
		c.DataDir = "."
	}
	if c.BindAddr == "" {
		c.BindAddr = "127.0.0.1:8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gemini-2.0-flash"
	}
	if c.LLM.MaxInFlight <= 0 {
		c.LLM.MaxInFlight = 2
	}
	if c.LLM.CallTimeoutSeconds <= 0 {
		c.LLM.CallTimeoutSeconds = 60
	}
	if c.LLM.SummaryTimeoutSeconds <= 0 {
		c.LLM.SummaryTimeoutSeconds = 300
	}
	if c.Links.MaxInFlight <= 0 {
		c.Links.MaxInFlight = 8
	}
	if c.Links.AttemptCap <= 0 {
		c.Links.AttemptCap = 5
	}
	if c.Links.CallTimeoutSeconds <= 0 {
		c.Links.CallTimeoutSeconds = 30
	}
	if c.Ingest.MaxConcurrentFetches <= 0 {
		c.Ingest.MaxConcurrentFetches = 4
	}
	if c.Ingest.FetchTimeoutSeconds <= 0 {
		c.Ingest.FetchTimeoutSeconds = 120
	}
	if c.Ingest.MaxSources <= 0 {
		c.Ingest.MaxSources = 50
	}
	if c.Progress.QueueSize <= 0 {
		c.Progress.QueueSize = 256
	}
	if c.Progress.KeepaliveSeconds <= 0 {
		c.Progress.KeepaliveSeconds = 15
	}
	if c.Progress.GraceSeconds <= 0 {
		c.Progress.GraceSeconds = 30
	}
	if c.Otel.ServiceName == "" {
		c.Otel.ServiceName = "newshack"
	}
}

// KeepaliveInterval returns the SSE keepalive period.
func (c *Config) KeepaliveInterval() time.Duration {
	return time.Duration(c.Progress.KeepaliveSeconds) * time.Second
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Validate reports fatal misconfiguration. Missing API keys are not fatal;
// the affected component degrades with a clear runtime error instead.
func (c *Config) Validate() error {
	switch c.Env {
	case "development", "production":
	default:
		return fmt.Errorf("unknown ENV %q (want development or production)", c.Env)
	}
	if c.Ingest.Schedule != "" {
		if len(strings.Fields(c.Ingest.Schedule)) != 5 {
			return fmt.Errorf("ingest schedule %q: want 5-field cron expression", c.Ingest.Schedule)
		}
	}
	return nil
}
