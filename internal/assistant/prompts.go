package assistant

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	defaultReplyPrompt = "You are a calm retrospective coach. Ask one short, open follow-up " +
		"question about the user's day, building on what they just said."
	defaultSummaryPrompt = "Summarise the retrospective conversation in two or three sentences " +
		"written from the user's point of view. Mention what went well and what to improve."
)

// Prompts holds the system prompts sent with reply and summary requests.
type Prompts struct {
	Reply   string `yaml:"reply"`
	Summary string `yaml:"summary"`
}

func DefaultPrompts() Prompts {
	return Prompts{Reply: defaultReplyPrompt, Summary: defaultSummaryPrompt}
}

// LoadPrompts reads a YAML prompt file. An empty path yields the defaults, and
// empty entries in the file fall back to them.
func LoadPrompts(path string) (Prompts, error) {
	prompts := DefaultPrompts()
	path = strings.TrimSpace(path)
	if path == "" {
		return prompts, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Prompts{}, fmt.Errorf("read prompts file: %w", err)
	}
	var loaded Prompts
	if err := yaml.Unmarshal(raw, &loaded); err != nil {
		return Prompts{}, fmt.Errorf("parse prompts file %s: %w", path, err)
	}
	if s := strings.TrimSpace(loaded.Reply); s != "" {
		prompts.Reply = s
	}
	if s := strings.TrimSpace(loaded.Summary); s != "" {
		prompts.Summary = s
	}
	return prompts, nil
}
