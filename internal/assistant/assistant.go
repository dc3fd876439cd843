package assistant

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/retrotalk/internal/retrospect"
)

// Config controls assistant construction.
type Config struct {
	Mode          string
	HTTPURL       string
	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string
	PromptsPath   string
	Timeout       time.Duration
	MaxRetries    int
	RetryBase     time.Duration
	RedactPII     bool
}

// Named is implemented by assistants that report a provider label for
// metrics and health output.
type Named interface {
	Provider() string
}

// ProviderName returns the provider label of a, or "unknown".
func ProviderName(a retrospect.Assistant) string {
	if n, ok := a.(Named); ok {
		return n.Provider()
	}
	return "unknown"
}

// New builds the assistant selected by cfg.Mode. Remote providers are wrapped
// with retry, and outbound content is redacted when cfg.RedactPII is set.
func New(cfg Config) (retrospect.Assistant, error) {
	prompts, err := LoadPrompts(cfg.PromptsPath)
	if err != nil {
		return nil, err
	}

	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	var base retrospect.Assistant
	switch mode {
	case "auto":
		base = newAutoAssistant(cfg, prompts)
	case "openai":
		if strings.TrimSpace(cfg.OpenAIKey) == "" {
			return nil, errors.New("openai api key is required for openai mode")
		}
		base = withRetry(NewOpenAIAssistant(cfg, prompts), cfg)
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("assistant HTTP url is required for http mode")
		}
		base = withRetry(NewHTTPAssistant(cfg.HTTPURL, cfg.Timeout, prompts), cfg)
	case "mock":
		base = NewMockAssistant()
	default:
		return nil, fmt.Errorf("unsupported assistant mode %q", cfg.Mode)
	}

	if cfg.RedactPII {
		base = NewRedactingAssistant(base)
	}
	return base, nil
}

func newAutoAssistant(cfg Config, prompts Prompts) retrospect.Assistant {
	var remote []retrospect.Assistant
	if strings.TrimSpace(cfg.OpenAIKey) != "" {
		remote = append(remote, withRetry(NewOpenAIAssistant(cfg, prompts), cfg))
	}
	if strings.TrimSpace(cfg.HTTPURL) != "" {
		remote = append(remote, withRetry(NewHTTPAssistant(cfg.HTTPURL, cfg.Timeout, prompts), cfg))
	}

	switch len(remote) {
	case 0:
		return NewMockAssistant()
	case 1:
		return remote[0]
	default:
		return NewFallbackAssistant(remote[0], remote[1])
	}
}

func withRetry(a retrospect.Assistant, cfg Config) retrospect.Assistant {
	if cfg.MaxRetries <= 0 {
		return a
	}
	return NewRetryingAssistant(a, cfg.MaxRetries, cfg.RetryBase)
}
