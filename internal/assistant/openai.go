package assistant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ent0n29/retrotalk/internal/retrospect"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIAssistant talks to any OpenAI-compatible chat completion endpoint.
type OpenAIAssistant struct {
	client  *openai.Client
	model   string
	prompts Prompts
}

func NewOpenAIAssistant(cfg Config, prompts Prompts) *OpenAIAssistant {
	clientCfg := openai.DefaultConfig(strings.TrimSpace(cfg.OpenAIKey))
	if base := strings.TrimSpace(cfg.OpenAIBaseURL); base != "" {
		clientCfg.BaseURL = base
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}

	model := strings.TrimSpace(cfg.OpenAIModel)
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIAssistant{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   model,
		prompts: prompts,
	}
}

func (a *OpenAIAssistant) Provider() string { return "openai" }

func (a *OpenAIAssistant) NextReply(ctx context.Context, history []retrospect.Message) (retrospect.Message, error) {
	text, err := a.complete(ctx, a.prompts.Reply, history)
	if err != nil {
		return retrospect.Message{}, err
	}
	return retrospect.Message{Role: retrospect.RoleAssistant, Content: text}, nil
}

func (a *OpenAIAssistant) Summarize(ctx context.Context, history []retrospect.Message) (string, error) {
	return a.complete(ctx, a.prompts.Summary, history)
}

func (a *OpenAIAssistant) complete(ctx context.Context, system string, history []retrospect.Message) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:    a.model,
		Messages: toChatMessages(system, history),
	}
	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", normalizeOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai response had no choices")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("openai response was empty")
	}
	return text, nil
}

func toChatMessages(system string, history []retrospect.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if strings.TrimSpace(system) != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range history {
		role := openai.ChatMessageRoleUser
		if m.Role == retrospect.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

// normalizeOpenAIError maps SDK errors carrying an HTTP status onto
// StatusError so retry classification sees one shape.
func normalizeOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &StatusError{Provider: "openai", Code: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &StatusError{Provider: "openai", Code: reqErr.HTTPStatusCode, Body: reqErr.Error()}
	}
	return fmt.Errorf("openai chat completion: %w", err)
}
