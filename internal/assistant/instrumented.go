package assistant

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/retrotalk/internal/observability"
	"github.com/ent0n29/retrotalk/internal/retrospect"
)

// InstrumentedAssistant records latency, errors and spans for every call.
type InstrumentedAssistant struct {
	inner    retrospect.Assistant
	provider string
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

func NewInstrumentedAssistant(inner retrospect.Assistant, metrics *observability.Metrics, logger zerolog.Logger) *InstrumentedAssistant {
	provider := ProviderName(inner)
	return &InstrumentedAssistant{
		inner:    inner,
		provider: provider,
		metrics:  metrics,
		logger:   logger.With().Str("provider", provider).Logger(),
	}
}

func (a *InstrumentedAssistant) Provider() string { return a.provider }

func (a *InstrumentedAssistant) NextReply(ctx context.Context, history []retrospect.Message) (retrospect.Message, error) {
	ctx, span := observability.StartAssistantSpan(ctx, a.provider, "reply", len(history))
	defer span.End()

	start := time.Now()
	reply, err := a.inner.NextReply(ctx, history)
	a.observe("reply", time.Since(start), err)
	observability.RecordError(span, err)
	return reply, err
}

func (a *InstrumentedAssistant) Summarize(ctx context.Context, history []retrospect.Message) (string, error) {
	ctx, span := observability.StartAssistantSpan(ctx, a.provider, "summary", len(history))
	defer span.End()

	start := time.Now()
	summary, err := a.inner.Summarize(ctx, history)
	a.observe("summary", time.Since(start), err)
	observability.RecordError(span, err)
	return summary, err
}

func (a *InstrumentedAssistant) observe(operation string, d time.Duration, err error) {
	if a.metrics != nil {
		a.metrics.ObserveAssistant(operation, d, callErrorCode(err))
		if err != nil {
			a.metrics.AssistantErrors.WithLabelValues(a.provider, operation).Inc()
		}
	}
	if err != nil {
		a.logger.Warn().Err(err).Str("operation", operation).Dur("elapsed", d).Msg("assistant call failed")
		return
	}
	a.logger.Debug().Str("operation", operation).Dur("elapsed", d).Msg("assistant call finished")
}

func callErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "assistant_error"
	}
}
