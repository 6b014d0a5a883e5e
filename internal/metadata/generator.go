// Package metadata derives a short summary and key topics for ingested course documents.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bull/course-tutor/internal/llm"
	"github.com/bull/course-tutor/internal/tokenizer"
)

// DefaultMaxTokens is the maximum content length before truncation (in tokens).
const DefaultMaxTokens = 4000

// maxTopics caps the topic list kept per document.
const maxTopics = 8

var errNoJSON = errors.New("response contains no JSON object")

// DocumentMetadata contains LLM-generated metadata for a document.
type DocumentMetadata struct {
	Summary string   `json:"summary"`
	Topics  []string `json:"topics"`
}

// Generator produces metadata through a language model gateway.
type Generator struct {
	gateway   llm.Gateway
	maxTokens int
	logger    *slog.Logger
}

// NewGenerator creates a metadata generator. A maxTokens of 0 uses DefaultMaxTokens.
func NewGenerator(gateway llm.Gateway, maxTokens int, logger *slog.Logger) *Generator {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		gateway:   gateway,
		maxTokens: maxTokens,
		logger:    logger,
	}
}

// GenerateMetadata asks the model for a summary and topic list of a course document.
func (g *Generator) GenerateMetadata(ctx context.Context, path, content string) (*DocumentMetadata, error) {
	truncated := g.truncateContent(path, content)

	prompt := fmt.Sprintf(`Analyze this course material and provide:
1. A concise summary (1-2 sentences) of what it teaches
2. A list of the key mathematical topics, theorems or techniques it covers

Document path: %s

Document content:
%s

Respond with JSON only:
{"summary": "Brief description of the material", "topics": ["Topic1", "Topic2"]}`, path, truncated)

	resp, err := g.gateway.Generate(ctx, llm.Prompt{
		System:   "You catalogue mathematics course materials. Answer with a single JSON object.",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}},
	})
	if err != nil {
		return nil, fmt.Errorf("metadata generation failed: %w", err)
	}

	metadata, err := parseResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return metadata, nil
}

// parseResponse extracts the JSON object from a model reply, tolerating code fences.
func parseResponse(resp string) (*DocumentMetadata, error) {
	start := strings.Index(resp, "{")
	end := strings.LastIndex(resp, "}")
	if start < 0 || end < start {
		return nil, errNoJSON
	}

	var metadata DocumentMetadata
	if err := json.Unmarshal([]byte(resp[start:end+1]), &metadata); err != nil {
		return nil, err
	}
	metadata.Summary = strings.TrimSpace(metadata.Summary)

	topics := make([]string, 0, len(metadata.Topics))
	seen := make(map[string]struct{}, len(metadata.Topics))
	for _, topic := range metadata.Topics {
		topic = strings.TrimSpace(topic)
		key := strings.ToLower(topic)
		if _, dup := seen[key]; dup || topic == "" {
			continue
		}
		seen[key] = struct{}{}
		topics = append(topics, topic)
		if len(topics) == maxTopics {
			break
		}
	}
	metadata.Topics = topics
	return &metadata, nil
}

// truncateContent keeps at most maxTokens tokens, cutting after a whole token.
func (g *Generator) truncateContent(path, content string) string {
	spans := tokenizer.Tokenize(content)
	if len(spans) <= g.maxTokens {
		return content
	}

	cut := spans[g.maxTokens-1].End
	g.logger.Warn("truncating document for metadata", "path", path, "tokens", len(spans), "kept", g.maxTokens)
	return content[:cut]
}
