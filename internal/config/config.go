package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config contains all runtime settings for the retrospect service.
type Config struct {
	BindAddr         string        `env:"APP_BIND_ADDR" envDefault:":8080"`
	ShutdownTimeout  time.Duration `env:"APP_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	MetricsNamespace string        `env:"APP_METRICS_NAMESPACE" envDefault:"retrotalk"`
	AllowAnyOrigin   bool          `env:"APP_ALLOW_ANY_ORIGIN" envDefault:"false"`
	DefaultUserID    string        `env:"APP_DEFAULT_USER_ID" envDefault:"local"`
	ManagerCacheSize int           `env:"APP_MANAGER_CACHE_SIZE" envDefault:"128"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`

	// Empty DatabaseURL keeps everything in memory.
	DatabaseURL string `env:"DATABASE_URL"`
	// Empty RedisURL keeps retrospect locks in-process.
	RedisURL string        `env:"REDIS_URL"`
	LockTTL  time.Duration `env:"RETROSPECT_LOCK_TTL" envDefault:"7m"`

	AssistantMode       string        `env:"ASSISTANT_MODE" envDefault:"auto"`
	AssistantHTTPURL    string        `env:"ASSISTANT_HTTP_URL"`
	OpenAIAPIKey        string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL       string        `env:"OPENAI_BASE_URL"`
	OpenAIModel         string        `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	AssistantPrompts    string        `env:"ASSISTANT_PROMPTS_PATH"`
	AssistantTimeout    time.Duration `env:"ASSISTANT_TIMEOUT" envDefault:"60s"`
	AssistantMaxRetries int           `env:"ASSISTANT_MAX_RETRIES" envDefault:"2"`
	AssistantRetryBase  time.Duration `env:"ASSISTANT_RETRY_BASE" envDefault:"200ms"`
	AssistantRedactPII  bool          `env:"ASSISTANT_REDACT_PII" envDefault:"true"`
}

// Load reads environment variables, applies defaults and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env config: %w", err)
	}

	cfg.DefaultUserID = strings.TrimSpace(cfg.DefaultUserID)
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	cfg.RedisURL = strings.TrimSpace(cfg.RedisURL)
	cfg.AssistantHTTPURL = strings.TrimSpace(cfg.AssistantHTTPURL)
	cfg.OpenAIAPIKey = strings.TrimSpace(cfg.OpenAIAPIKey)
	cfg.OpenAIBaseURL = strings.TrimSpace(cfg.OpenAIBaseURL)
	cfg.AssistantMode = strings.ToLower(strings.TrimSpace(cfg.AssistantMode))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))

	if cfg.DefaultUserID == "" {
		return Config{}, fmt.Errorf("APP_DEFAULT_USER_ID must not be empty")
	}
	if cfg.ShutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("APP_SHUTDOWN_TIMEOUT must be positive")
	}
	if cfg.ManagerCacheSize <= 0 {
		return Config{}, fmt.Errorf("APP_MANAGER_CACHE_SIZE must be positive")
	}
	if cfg.LockTTL < time.Second {
		return Config{}, fmt.Errorf("RETROSPECT_LOCK_TTL must be at least 1s")
	}
	switch cfg.LogFormat {
	case "console", "json":
	default:
		return Config{}, fmt.Errorf("LOG_FORMAT must be console or json, got %q", cfg.LogFormat)
	}
	switch cfg.AssistantMode {
	case "auto", "mock":
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return Config{}, fmt.Errorf("OPENAI_API_KEY is required when ASSISTANT_MODE=openai")
		}
	case "http":
		if cfg.AssistantHTTPURL == "" {
			return Config{}, fmt.Errorf("ASSISTANT_HTTP_URL is required when ASSISTANT_MODE=http")
		}
	default:
		return Config{}, fmt.Errorf("ASSISTANT_MODE must be auto, openai, http or mock, got %q", cfg.AssistantMode)
	}
	if cfg.AssistantTimeout <= 0 {
		return Config{}, fmt.Errorf("ASSISTANT_TIMEOUT must be positive")
	}
	if cfg.AssistantMaxRetries < 0 {
		return Config{}, fmt.Errorf("ASSISTANT_MAX_RETRIES must be >= 0")
	}
	if worst := cfg.WorstAssistantCall(); cfg.LockTTL <= worst {
		return Config{}, fmt.Errorf("RETROSPECT_LOCK_TTL (%s) must exceed the worst-case assistant call (%s)", cfg.LockTTL, worst)
	}

	return cfg, nil
}

// maxAssistantRetryDelay mirrors the assistant retry backoff cap.
const maxAssistantRetryDelay = 5 * time.Second

// WorstAssistantCall is the longest a single assistant call may hold a
// retrospect lock: every attempt timing out plus the capped backoff between
// attempts, once per provider in an auto fallback chain.
func (c Config) WorstAssistantCall() time.Duration {
	attempts := time.Duration(c.AssistantMaxRetries + 1)
	perProvider := c.AssistantTimeout*attempts + time.Duration(c.AssistantMaxRetries)*maxAssistantRetryDelay
	if c.AssistantMode == "auto" && c.OpenAIAPIKey != "" && c.AssistantHTTPURL != "" {
		return 2 * perProvider
	}
	return perProvider
}
