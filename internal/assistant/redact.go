package assistant

import (
	"context"

	"github.com/ent0n29/retrotalk/internal/policy"
	"github.com/ent0n29/retrotalk/internal/retrospect"
)

// RedactingAssistant masks PII in the conversation before it leaves the
// process. Stored messages are not touched.
type RedactingAssistant struct {
	inner retrospect.Assistant
}

func NewRedactingAssistant(inner retrospect.Assistant) *RedactingAssistant {
	return &RedactingAssistant{inner: inner}
}

func (a *RedactingAssistant) Provider() string { return ProviderName(a.inner) }

func (a *RedactingAssistant) NextReply(ctx context.Context, history []retrospect.Message) (retrospect.Message, error) {
	return a.inner.NextReply(ctx, redactHistory(history))
}

func (a *RedactingAssistant) Summarize(ctx context.Context, history []retrospect.Message) (string, error) {
	return a.inner.Summarize(ctx, redactHistory(history))
}

func redactHistory(history []retrospect.Message) []retrospect.Message {
	out := make([]retrospect.Message, len(history))
	for i, m := range history {
		m.Content, _ = policy.RedactPII(m.Content)
		out[i] = m
	}
	return out
}
