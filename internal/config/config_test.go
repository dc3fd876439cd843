package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.AssistantMode != "auto" {
		t.Fatalf("AssistantMode = %q, want %q", cfg.AssistantMode, "auto")
	}
	if cfg.DefaultUserID != "local" {
		t.Fatalf("DefaultUserID = %q, want %q", cfg.DefaultUserID, "local")
	}
	if cfg.LockTTL != 7*time.Minute {
		t.Fatalf("LockTTL = %v, want 7m", cfg.LockTTL)
	}
	if cfg.AssistantRetryBase != 200*time.Millisecond {
		t.Fatalf("AssistantRetryBase = %v, want 200ms", cfg.AssistantRetryBase)
	}
	if !cfg.AssistantRedactPII {
		t.Fatalf("AssistantRedactPII = false, want true")
	}
	if cfg.DatabaseURL != "" || cfg.RedisURL != "" {
		t.Fatalf("DatabaseURL/RedisURL = %q/%q, want empty defaults", cfg.DatabaseURL, cfg.RedisURL)
	}
}

func TestLoadExplicitValues(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9191")
	t.Setenv("ASSISTANT_MODE", " HTTP ")
	t.Setenv("ASSISTANT_HTTP_URL", " http://localhost:7777/assist ")
	t.Setenv("APP_MANAGER_CACHE_SIZE", "16")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AssistantMode != "http" {
		t.Fatalf("AssistantMode = %q, want http", cfg.AssistantMode)
	}
	if cfg.AssistantHTTPURL != "http://localhost:7777/assist" {
		t.Fatalf("AssistantHTTPURL = %q, want trimmed value", cfg.AssistantHTTPURL)
	}
	if cfg.ManagerCacheSize != 16 {
		t.Fatalf("ManagerCacheSize = %d, want 16", cfg.ManagerCacheSize)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		key, value string
	}{
		{"APP_SHUTDOWN_TIMEOUT", "soon"},
		{"APP_MANAGER_CACHE_SIZE", "0"},
		{"RETROSPECT_LOCK_TTL", "10ms"},
		{"RETROSPECT_LOCK_TTL", "90s"},
		{"ASSISTANT_TIMEOUT", "2m"},
		{"LOG_FORMAT", "xml"},
		{"ASSISTANT_MODE", "openai"},
		{"ASSISTANT_MODE", "http"},
		{"ASSISTANT_MODE", "oracle"},
		{"ASSISTANT_MAX_RETRIES", "-1"},
		{"APP_DEFAULT_USER_ID", "   "},
	}
	for _, tc := range cases {
		t.Run(tc.key+"="+tc.value, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() error = nil, want failure for %s=%q", tc.key, tc.value)
			}
		})
	}
}

func TestLoadLockTTLMustOutlastAssistantCall(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("ASSISTANT_TIMEOUT", "30s")
	t.Setenv("ASSISTANT_MAX_RETRIES", "3")

	// 4 attempts of 30s plus 3 capped backoffs.
	t.Setenv("RETROSPECT_LOCK_TTL", "135s")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want failure for a lock TTL equal to the worst-case call")
	}

	t.Setenv("RETROSPECT_LOCK_TTL", "136s")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got, want := cfg.WorstAssistantCall(), 135*time.Second; got != want {
		t.Fatalf("WorstAssistantCall() = %v, want %v", got, want)
	}
}

func TestLoadLockTTLCoversAutoFallbackChain(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("ASSISTANT_HTTP_URL", "http://localhost:7777/assist")

	// Defaults: two providers of 3 attempts at 60s plus 2 capped backoffs.
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got, want := cfg.WorstAssistantCall(), 380*time.Second; got != want {
		t.Fatalf("WorstAssistantCall() = %v, want %v", got, want)
	}

	t.Setenv("RETROSPECT_LOCK_TTL", "5m")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want failure when the lock TTL misses the fallback provider")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_DEFAULT_USER_ID",
		"APP_MANAGER_CACHE_SIZE",
		"LOG_LEVEL",
		"LOG_FORMAT",
		"DATABASE_URL",
		"REDIS_URL",
		"RETROSPECT_LOCK_TTL",
		"ASSISTANT_MODE",
		"ASSISTANT_HTTP_URL",
		"OPENAI_API_KEY",
		"OPENAI_BASE_URL",
		"OPENAI_MODEL",
		"ASSISTANT_PROMPTS_PATH",
		"ASSISTANT_TIMEOUT",
		"ASSISTANT_MAX_RETRIES",
		"ASSISTANT_RETRY_BASE",
		"ASSISTANT_REDACT_PII",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
