package embedding

import (
	"fmt"

	"github.com/Harshitk-cp/twinledger/internal/domain"
)

const (
	ProviderOpenAI = "openai"
	ProviderMock   = "mock"
)

var (
	_ domain.BatchEmbedder = (*OpenAIClient)(nil)
	_ domain.BatchEmbedder = (*MockClient)(nil)
)

// NewClient returns the embedder for provider. Only mock runs without a key.
func NewClient(provider, apiKey string) (domain.EmbeddingClient, error) {
	switch provider {
	case ProviderOpenAI:
		if apiKey == "" {
			return nil, fmt.Errorf("an API key is required for the %s embedding provider", provider)
		}
		return NewOpenAIClient(apiKey), nil
	case ProviderMock:
		return NewMockClient(), nil
	}
	return nil, fmt.Errorf("unknown embedding provider: %s (valid options: openai, mock)", provider)
}
