package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

const geminiGenerateURL = "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.0-flash:generateContent"

type GeminiClient struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

func NewGeminiClient(apiKey string) *GeminiClient {
	return &GeminiClient{
		url:        geminiGenerateURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature     float32 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

// Generate inlines the answer system prompt ahead of the user prompt.
func (c *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	var res geminiResponse
	err := postJSON(ctx, c.httpClient, ProviderGemini, c.url,
		http.Header{"X-Goog-Api-Key": {c.apiKey}},
		geminiRequest{
			Contents: []geminiContent{{
				Role:  "user",
				Parts: []geminiPart{{Text: answerSystemPrompt + "\n\n" + prompt}},
			}},
			GenerationConfig: geminiGenerationConfig{
				Temperature:     answerTemperature,
				MaxOutputTokens: answerMaxTokens,
			},
		}, &res)
	if err != nil {
		return "", err
	}
	if res.Error != nil {
		return "", fmt.Errorf("gemini API error: %s", res.Error.Message)
	}
	if len(res.Candidates) == 0 || len(res.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini API returned no content")
	}
	return strings.TrimSpace(res.Candidates[0].Content.Parts[0].Text), nil
}
