package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go"

	"github.com/bull/course-tutor/internal/config"
	"github.com/bull/course-tutor/internal/retry"
)

// OpenAI talks to the chat completions API (OpenAI or Azure OpenAI).
type OpenAI struct {
	client      *openai.Client
	model       string
	temperature float64
	maxTokens   int
	policy      retry.Policy
	logger      *slog.Logger
}

// NewOpenAI creates a chat completions gateway. A nil logger uses slog.Default().
func NewOpenAI(client *openai.Client, cfg config.LLMConfig, policy retry.Policy, logger *slog.Logger) *OpenAI {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAI{
		client:      client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		policy:      policy,
		logger:      logger,
	}
}

// Generate returns the full completion, retrying transient failures.
func (o *OpenAI) Generate(ctx context.Context, prompt Prompt) (string, error) {
	params := o.params(prompt)

	var answer string
	err := retry.Do(ctx, o.policy, isRetryableOpenAI, func(ctx context.Context) error {
		resp, err := o.client.Chat.Completions.New(ctx, params)
		if err != nil {
			o.logger.Warn("chat completion failed", "model", o.model, "error", err)
			return err
		}
		if len(resp.Choices) == 0 {
			return errEmptyResponse
		}
		answer = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: chat completion: %w", ErrGateway, err)
	}
	return answer, nil
}

// Stream starts a streaming completion. Opening the stream is retried like
// Generate; once fragments flow, a stall longer than the attempt timeout ends
// the stream with a gateway error.
func (o *OpenAI) Stream(ctx context.Context, prompt Prompt) (Stream, error) {
	params := o.params(prompt)
	return openStream(ctx, o.policy, isRetryableOpenAI, o.logger,
		func(ctx context.Context) eventStream[openai.ChatCompletionChunk] {
			return o.client.Chat.Completions.NewStreaming(ctx, params)
		},
		func(chunk openai.ChatCompletionChunk) string {
			if len(chunk.Choices) == 0 {
				return ""
			}
			return chunk.Choices[0].Delta.Content
		})
}

func (o *OpenAI) params(prompt Prompt) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(prompt.Messages)+1)
	if prompt.System != "" {
		messages = append(messages, openai.SystemMessage(prompt.System))
	}
	for _, m := range prompt.Messages {
		switch m.Role {
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(o.model),
		Messages:    messages,
		Temperature: openai.Float(o.temperature),
	}
	if o.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(o.maxTokens))
	}
	return params
}

var errEmptyResponse = errors.New("model returned no choices")

// isRetryableOpenAI retries rate limits (HTTP 429), server errors, network
// failures and attempt timeouts.
func isRetryableOpenAI(err error) bool {
	if errors.Is(err, errEmptyResponse) {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return true
}
