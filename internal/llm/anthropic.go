package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/bull/course-tutor/internal/config"
	"github.com/bull/course-tutor/internal/retry"
)

// Anthropic talks to the Claude messages API.
type Anthropic struct {
	client      *anthropic.Client
	model       string
	temperature float64
	maxTokens   int
	policy      retry.Policy
	logger      *slog.Logger
}

// NewAnthropic creates a messages API gateway. The API key comes from cfg.APIKey.
func NewAnthropic(cfg config.LLMConfig, policy retry.Policy, logger *slog.Logger) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: ANTHROPIC_API_KEY environment variable not set", config.ErrConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Anthropic{
		client:      &client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
		policy:      policy,
		logger:      logger,
	}, nil
}

// Generate returns the concatenated text blocks of the reply.
func (a *Anthropic) Generate(ctx context.Context, prompt Prompt) (string, error) {
	params := a.params(prompt)

	var answer string
	err := retry.Do(ctx, a.policy, isRetryableAnthropic, func(ctx context.Context) error {
		rsp, err := a.client.Messages.New(ctx, params)
		if err != nil {
			a.logger.Warn("anthropic message failed", "model", a.model, "error", err)
			return err
		}

		var b strings.Builder
		for _, content := range rsp.Content {
			if text, ok := content.AsAny().(anthropic.TextBlock); ok {
				b.WriteString(text.Text)
			}
		}
		if b.Len() == 0 {
			return errEmptyResponse
		}
		answer = b.String()
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: anthropic: %w", ErrGateway, err)
	}
	return answer, nil
}

// Stream starts a streaming reply under the same retry and timeout rules as
// the OpenAI gateway.
func (a *Anthropic) Stream(ctx context.Context, prompt Prompt) (Stream, error) {
	params := a.params(prompt)
	return openStream(ctx, a.policy, isRetryableAnthropic, a.logger,
		func(ctx context.Context) eventStream[anthropic.MessageStreamEventUnion] {
			return a.client.Messages.NewStreaming(ctx, params)
		},
		func(event anthropic.MessageStreamEventUnion) string {
			delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				return ""
			}
			if text, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok {
				return text.Text
			}
			return ""
		})
}

func (a *Anthropic) params(prompt Prompt) anthropic.MessageNewParams {
	messages := make([]anthropic.MessageParam, 0, len(prompt.Messages))
	for _, m := range prompt.Messages {
		block := anthropic.NewTextBlock(m.Content)
		switch m.Role {
		case RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(block))
		default:
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   int64(a.maxTokens),
		Messages:    messages,
		Temperature: anthropic.Float(a.temperature),
	}
	if prompt.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: prompt.System}}
	}
	return params
}

func isRetryableAnthropic(err error) bool {
	if errors.Is(err, errEmptyResponse) {
		return false
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return true
}
