package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/ent0n29/retrotalk/internal/retrospect"
)

const (
	taskReply   = "reply"
	taskSummary = "summary"
)

// StatusError reports a non-2xx answer from a provider.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s http status %d: %s", e.Provider, e.Code, e.Body)
}

type httpMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type httpRequest struct {
	Task         string        `json:"task"`
	SystemPrompt string        `json:"system_prompt"`
	Messages     []httpMessage `json:"messages"`
}

// HTTPAssistant forwards conversations to a JSON endpoint. The endpoint
// answers with plain text or an object carrying the text under one of the
// usual keys.
type HTTPAssistant struct {
	url     string
	client  *resty.Client
	prompts Prompts
}

func NewHTTPAssistant(url string, timeout time.Duration, prompts Prompts) *HTTPAssistant {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", "retrotalk/1.0")
	return &HTTPAssistant{
		url:     strings.TrimSpace(url),
		client:  client,
		prompts: prompts,
	}
}

func (a *HTTPAssistant) Provider() string { return "http" }

func (a *HTTPAssistant) NextReply(ctx context.Context, history []retrospect.Message) (retrospect.Message, error) {
	text, err := a.call(ctx, taskReply, a.prompts.Reply, history)
	if err != nil {
		return retrospect.Message{}, err
	}
	return retrospect.Message{Role: retrospect.RoleAssistant, Content: text}, nil
}

func (a *HTTPAssistant) Summarize(ctx context.Context, history []retrospect.Message) (string, error) {
	return a.call(ctx, taskSummary, a.prompts.Summary, history)
}

func (a *HTTPAssistant) call(ctx context.Context, task, prompt string, history []retrospect.Message) (string, error) {
	payload := httpRequest{
		Task:         task,
		SystemPrompt: prompt,
		Messages:     make([]httpMessage, 0, len(history)),
	}
	for _, m := range history {
		payload.Messages = append(payload.Messages, httpMessage{Role: string(m.Role), Content: m.Content})
	}

	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(a.url)
	if err != nil {
		return "", fmt.Errorf("send %s request: %w", task, err)
	}
	if resp.IsError() {
		body := resp.String()
		if len(body) > 4<<10 {
			body = body[:4<<10]
		}
		return "", &StatusError{Provider: "assistant", Code: resp.StatusCode(), Body: body}
	}

	text := parseText(resp.Body())
	if text == "" {
		return "", fmt.Errorf("%s response was empty", task)
	}
	return text, nil
}

func parseText(body []byte) string {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return strings.TrimSpace(string(body))
	}
	return strings.TrimSpace(extractText(obj))
}

func extractText(obj map[string]any) string {
	for _, k := range []string{"text", "summary", "output", "message", "content"} {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}
