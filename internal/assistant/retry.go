package assistant

import (
	"context"
	"errors"
	"time"

	"github.com/ent0n29/retrotalk/internal/reliability"
	"github.com/ent0n29/retrotalk/internal/retrospect"
)

const maxRetryDelay = 5 * time.Second

// RetryingAssistant retries transient provider failures with capped
// exponential backoff.
type RetryingAssistant struct {
	inner      retrospect.Assistant
	maxRetries int
	base       time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewRetryingAssistant(inner retrospect.Assistant, maxRetries int, base time.Duration) *RetryingAssistant {
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	return &RetryingAssistant{
		inner:      inner,
		maxRetries: maxRetries,
		base:       base,
		sleep:      sleepContext,
	}
}

func (a *RetryingAssistant) Provider() string { return ProviderName(a.inner) }

func (a *RetryingAssistant) NextReply(ctx context.Context, history []retrospect.Message) (retrospect.Message, error) {
	var reply retrospect.Message
	err := a.do(ctx, func() error {
		var err error
		reply, err = a.inner.NextReply(ctx, history)
		return err
	})
	return reply, err
}

func (a *RetryingAssistant) Summarize(ctx context.Context, history []retrospect.Message) (string, error) {
	var summary string
	err := a.do(ctx, func() error {
		var err error
		summary, err = a.inner.Summarize(ctx, history)
		return err
	})
	return summary, err
}

func (a *RetryingAssistant) do(ctx context.Context, call func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = call()
		if err == nil || attempt >= a.maxRetries || !IsRetryable(err) {
			return err
		}
		if sleepErr := a.sleep(ctx, reliability.ExponentialBackoff(attempt, a.base, maxRetryDelay)); sleepErr != nil {
			return err
		}
	}
}

// IsRetryable classifies assistant errors. Status errors follow the HTTP
// classification; cancellation is final; other transport errors are retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return reliability.IsRetryableHTTPStatus(statusErr.Code)
	}
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
