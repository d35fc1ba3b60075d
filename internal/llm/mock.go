package llm

import (
	"context"
	"sync"
)

// MockClient is a configurable LLM client for testing.
// Set GenerateResponse or GenerateError to control what Generate returns.
type MockClient struct {
	mu sync.Mutex

	GenerateResponse string
	GenerateError    error

	// Call tracking for assertions
	GenerateCalls []string
}

func NewMockClient() *MockClient {
	return &MockClient{
		GenerateResponse: "I'm not sure yet. The owner will follow up.",
	}
}

func (m *MockClient) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GenerateCalls = append(m.GenerateCalls, prompt)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.GenerateError != nil {
		return "", m.GenerateError
	}
	return m.GenerateResponse, nil
}

// Calls returns the number of Generate calls so far.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.GenerateCalls)
}
