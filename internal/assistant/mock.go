package assistant

import (
	"context"
	"fmt"
	"strings"

	"github.com/ent0n29/retrotalk/internal/retrospect"
)

var mockQuestions = []string{
	"How did today go?",
	"What did you spend most of your time on?",
	"What went better than you expected?",
	"Was there anything that slowed you down?",
	"What would you do differently tomorrow?",
}

// MockAssistant provides deterministic local replies when no provider is
// configured.
type MockAssistant struct{}

func NewMockAssistant() *MockAssistant { return &MockAssistant{} }

func (a *MockAssistant) Provider() string { return "mock" }

func (a *MockAssistant) NextReply(ctx context.Context, history []retrospect.Message) (retrospect.Message, error) {
	if err := ctx.Err(); err != nil {
		return retrospect.Message{}, err
	}
	turns := countRole(history, retrospect.RoleUser)
	question := mockQuestions[turns%len(mockQuestions)]
	last := lastContent(history, retrospect.RoleUser)
	if last == "" {
		return retrospect.Message{Role: retrospect.RoleAssistant, Content: question}, nil
	}
	return retrospect.Message{
		Role:    retrospect.RoleAssistant,
		Content: fmt.Sprintf("I heard you: %s\n%s", last, question),
	}, nil
}

func (a *MockAssistant) Summarize(ctx context.Context, history []retrospect.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var parts []string
	for _, m := range history {
		if m.Role != retrospect.RoleUser {
			continue
		}
		if s := strings.TrimSpace(m.Content); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return "Nothing was discussed.", nil
	}
	return strings.Join(parts, " "), nil
}

func countRole(history []retrospect.Message, role retrospect.Role) int {
	n := 0
	for _, m := range history {
		if m.Role == role {
			n++
		}
	}
	return n
}

func lastContent(history []retrospect.Message, role retrospect.Role) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == role {
			return strings.TrimSpace(history[i].Content)
		}
	}
	return ""
}
