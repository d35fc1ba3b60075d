package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

const (
	anthropicMessagesURL = "https://api.anthropic.com/v1/messages"
	anthropicModel       = "claude-3-5-haiku-20241022"
	anthropicVersion     = "2023-06-01"
)

type AnthropicClient struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

func NewAnthropicClient(apiKey string) *AnthropicClient {
	return &AnthropicClient{
		url:        anthropicMessagesURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
}

type anthropicRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float32       `json:"temperature"`
	System      string        `json:"system,omitempty"`
	Messages    []chatMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate sends the answer system prompt in the messages API system slot.
// Only text blocks are kept.
func (c *AnthropicClient) Generate(ctx context.Context, prompt string) (string, error) {
	var res anthropicResponse
	err := postJSON(ctx, c.httpClient, ProviderAnthropic, c.url,
		http.Header{
			"X-Api-Key":         {c.apiKey},
			"Anthropic-Version": {anthropicVersion},
		},
		anthropicRequest{
			Model:       anthropicModel,
			MaxTokens:   answerMaxTokens,
			Temperature: answerTemperature,
			System:      answerSystemPrompt,
			Messages:    []chatMessage{{Role: "user", Content: prompt}},
		}, &res)
	if err != nil {
		return "", err
	}
	if res.Error != nil {
		return "", fmt.Errorf("anthropic API error: %s", res.Error.Message)
	}
	var parts []string
	for _, block := range res.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("anthropic API returned no content")
	}
	return strings.TrimSpace(strings.Join(parts, "")), nil
}
