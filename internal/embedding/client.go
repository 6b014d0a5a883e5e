package embedding

import (
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"

	"github.com/bull/course-tutor/internal/config"
)

// Client wraps the OpenAI client used by the embedding and language-model gateways.
type Client struct {
	client *openai.Client
}

// NewClient creates an OpenAI or Azure OpenAI client. The SDK's own retries are
// disabled; callers retry through their retry policy.
func NewClient(provider, apiKey, baseURL string, az config.AzureConfig) (*Client, error) {
	opts := []option.RequestOption{option.WithMaxRetries(0)}

	switch provider {
	case config.ProviderAzure:
		if az.Endpoint == "" || az.APIKey == "" || az.APIVersion == "" {
			return nil, fmt.Errorf("%w: AZURE_OPENAI_ENDPOINT, AZURE_OPENAI_API_KEY and AZURE_OPENAI_API_VERSION must be set", config.ErrConfig)
		}
		opts = append(opts,
			azure.WithEndpoint(az.Endpoint, az.APIVersion),
			azure.WithAPIKey(az.APIKey),
		)
	case config.ProviderOpenAI:
		if apiKey == "" {
			return nil, fmt.Errorf("%w: OPENAI_API_KEY environment variable not set", config.ErrConfig)
		}
		opts = append(opts, option.WithAPIKey(apiKey))
		if baseURL != "" {
			opts = append(opts, option.WithBaseURL(baseURL))
		}
	default:
		return nil, fmt.Errorf("%w: provider %q has no OpenAI client", config.ErrConfig, provider)
	}

	client := openai.NewClient(opts...)
	return &Client{client: &client}, nil
}

// Client returns the underlying OpenAI client for use in other packages (e.g., the llm gateway).
func (c *Client) Client() *openai.Client {
	return c.client
}
