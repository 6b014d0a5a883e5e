// Package llm is the language-model gateway: prompts in, text or a stream of
// text fragments out.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bull/course-tutor/internal/config"
	"github.com/bull/course-tutor/internal/embedding"
	"github.com/bull/course-tutor/internal/retry"
)

// ErrGateway reports that the language model failed after bounded retries.
var ErrGateway = errors.New("language model gateway error")

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation message.
type Message struct {
	Role    Role
	Content string
}

// Prompt is a system instruction followed by messages, oldest first.
type Prompt struct {
	System   string
	Messages []Message
}

// String renders the prompt as plain text, mainly for logs and token counting.
func (p Prompt) String() string {
	var sb strings.Builder
	if p.System != "" {
		sb.WriteString("[system]\n")
		sb.WriteString(p.System)
		sb.WriteString("\n")
	}
	for _, m := range p.Messages {
		fmt.Fprintf(&sb, "[%s]\n%s\n", m.Role, m.Content)
	}
	return sb.String()
}

// Stream yields response fragments in order. It is finite and cannot be
// restarted; Close must be called when done.
type Stream interface {
	Next() bool
	Fragment() string
	Err() error
	Close() error
}

// Gateway generates text for a prompt.
type Gateway interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
	Stream(ctx context.Context, prompt Prompt) (Stream, error)
}

// New builds the gateway for cfg.Provider.
func New(cfg config.LLMConfig, az config.AzureConfig, policy retry.Policy, logger *slog.Logger) (Gateway, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI, config.ProviderAzure:
		client, err := embedding.NewClient(cfg.Provider, cfg.APIKey, cfg.BaseURL, az)
		if err != nil {
			return nil, err
		}
		return NewOpenAI(client.Client(), cfg, policy, logger), nil
	case config.ProviderAnthropic:
		return NewAnthropic(cfg, policy, logger)
	default:
		return nil, fmt.Errorf("%w: unknown llm provider %q", config.ErrConfig, cfg.Provider)
	}
}

// Collect drains a stream into a single string and closes it.
func Collect(s Stream) (string, error) {
	defer s.Close()
	var sb strings.Builder
	for s.Next() {
		sb.WriteString(s.Fragment())
	}
	if err := s.Err(); err != nil {
		return "", err
	}
	return sb.String(), nil
}
