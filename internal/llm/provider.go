package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Harshitk-cp/twinledger/internal/domain"
)

// Provider constants
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderCerebras  = "cerebras"
	ProviderMock      = "mock"
)

const defaultHTTPTimeout = 60 * time.Second

// NewClient creates an answer generator for the named provider. Every
// provider except mock needs an API key.
func NewClient(provider, apiKey string) (domain.LLMClient, error) {
	if provider != ProviderMock && apiKey == "" {
		return nil, fmt.Errorf("an API key is required for the %s provider", provider)
	}
	switch provider {
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey), nil
	case ProviderCerebras:
		return NewCerebrasClient(apiKey), nil
	case ProviderAnthropic:
		return NewAnthropicClient(apiKey), nil
	case ProviderGemini:
		return NewGeminiClient(apiKey), nil
	case ProviderMock:
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (supported: openai, anthropic, gemini, cerebras, mock)", provider)
	}
}

// postJSON sends in as a JSON POST and decodes a 200 response into out.
// Transport failures, rate limits and 5xx responses wrap ErrInfrastructure.
func postJSON(ctx context.Context, hc *http.Client, provider, url string, header http.Header, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", provider, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", provider, err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s request failed: %w", domain.ErrInfrastructure, provider, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read %s response: %w", domain.ErrInfrastructure, provider, err)
	}
	if resp.StatusCode != http.StatusOK {
		return statusError(provider, resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("unmarshal %s response: %w", provider, err)
	}
	return nil
}

func statusError(provider string, code int, body []byte) error {
	if code == http.StatusTooManyRequests || code >= 500 {
		return fmt.Errorf("%w: %s API returned status %d: %s", domain.ErrInfrastructure, provider, code, string(body))
	}
	return fmt.Errorf("%s API returned status %d: %s", provider, code, string(body))
}
