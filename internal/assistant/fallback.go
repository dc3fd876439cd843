package assistant

import (
	"context"
	"errors"
	"fmt"

	"github.com/ent0n29/retrotalk/internal/retrospect"
)

// FallbackAssistant attempts a primary assistant first and falls back on error.
type FallbackAssistant struct {
	primary  retrospect.Assistant
	fallback retrospect.Assistant
}

func NewFallbackAssistant(primary, fallback retrospect.Assistant) *FallbackAssistant {
	return &FallbackAssistant{primary: primary, fallback: fallback}
}

func (a *FallbackAssistant) Provider() string {
	return ProviderName(a.primary) + "+" + ProviderName(a.fallback)
}

func (a *FallbackAssistant) NextReply(ctx context.Context, history []retrospect.Message) (retrospect.Message, error) {
	if a.primary == nil {
		if a.fallback == nil {
			return retrospect.Message{}, errors.New("fallback assistant misconfigured")
		}
		return a.fallback.NextReply(ctx, history)
	}
	reply, err := a.primary.NextReply(ctx, history)
	if err == nil || !shouldFallback(ctx, err) || a.fallback == nil {
		return reply, err
	}
	reply, fallbackErr := a.fallback.NextReply(ctx, history)
	if fallbackErr != nil {
		return retrospect.Message{}, fmt.Errorf("primary assistant error: %w; fallback assistant error: %v", err, fallbackErr)
	}
	return reply, nil
}

func (a *FallbackAssistant) Summarize(ctx context.Context, history []retrospect.Message) (string, error) {
	if a.primary == nil {
		if a.fallback == nil {
			return "", errors.New("fallback assistant misconfigured")
		}
		return a.fallback.Summarize(ctx, history)
	}
	summary, err := a.primary.Summarize(ctx, history)
	if err == nil || !shouldFallback(ctx, err) || a.fallback == nil {
		return summary, err
	}
	summary, fallbackErr := a.fallback.Summarize(ctx, history)
	if fallbackErr != nil {
		return "", fmt.Errorf("primary assistant error: %w; fallback assistant error: %v", err, fallbackErr)
	}
	return summary, nil
}

func shouldFallback(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
