package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

const (
	openAIChatURL   = "https://api.openai.com/v1/chat/completions"
	openAIModel     = "gpt-4o-mini"
	cerebrasChatURL = "https://api.cerebras.ai/v1/chat/completions"
	cerebrasModel   = "llama-3.3-70b"
)

// ChatClient generates answers through an OpenAI-compatible chat completions
// endpoint. OpenAI and Cerebras share it.
type ChatClient struct {
	provider   string
	url        string
	model      string
	apiKey     string
	httpClient *http.Client
}

func NewOpenAIClient(apiKey string) *ChatClient {
	return newChatClient(ProviderOpenAI, openAIChatURL, openAIModel, apiKey)
}

func NewCerebrasClient(apiKey string) *ChatClient {
	return newChatClient(ProviderCerebras, cerebrasChatURL, cerebrasModel, apiKey)
}

func newChatClient(provider, url, model, apiKey string) *ChatClient {
	return &ChatClient{
		provider:   provider,
		url:        url,
		model:      model,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate answers prompt with the answer system prompt in front.
func (c *ChatClient) Generate(ctx context.Context, prompt string) (string, error) {
	var res chatResponse
	err := postJSON(ctx, c.httpClient, c.provider, c.url,
		http.Header{"Authorization": {"Bearer " + c.apiKey}},
		chatRequest{
			Model: c.model,
			Messages: []chatMessage{
				{Role: "system", Content: answerSystemPrompt},
				{Role: "user", Content: prompt},
			},
			Temperature: answerTemperature,
			MaxTokens:   answerMaxTokens,
		}, &res)
	if err != nil {
		return "", err
	}
	if res.Error != nil {
		return "", fmt.Errorf("%s API error: %s", c.provider, res.Error.Message)
	}
	if len(res.Choices) == 0 {
		return "", fmt.Errorf("%s API returned no choices", c.provider)
	}
	return strings.TrimSpace(res.Choices[0].Message.Content), nil
}
