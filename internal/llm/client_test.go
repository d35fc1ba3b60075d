package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Harshitk-cp/twinledger/internal/domain"
)

func TestChatClientGenerate(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  We open at 9 [1]. "}}]}`))
	}))
	defer srv.Close()

	c := newChatClient(ProviderOpenAI, srv.URL, "test-model", "sk-test")
	out, err := c.Generate(context.Background(), "hours?")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "We open at 9 [1]." {
		t.Fatalf("unexpected answer %q", out)
	}
	if got.Model != "test-model" || len(got.Messages) != 2 {
		t.Fatalf("unexpected request %+v", got)
	}
	if got.Messages[0].Role != "system" || got.Messages[1].Content != "hours?" {
		t.Fatalf("unexpected messages %+v", got.Messages)
	}
}

func TestChatClientServerErrorIsInfrastructure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newChatClient(ProviderCerebras, srv.URL, "m", "k")
	_, err := c.Generate(context.Background(), "p")
	if !errors.Is(err, domain.ErrInfrastructure) {
		t.Fatalf("expected infrastructure error, got %v", err)
	}
}

func TestAnthropicClientJoinsTextBlocks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "ak" {
			t.Errorf("missing api key header")
		}
		var req anthropicRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.System != answerSystemPrompt {
			t.Errorf("expected system prompt in the system slot")
		}
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"Yes "},{"type":"tool_use"},{"type":"text","text":"[1]."}]}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient("ak")
	c.url = srv.URL
	out, err := c.Generate(context.Background(), "p")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "Yes [1]." {
		t.Fatalf("unexpected answer %q", out)
	}
}

func TestGeminiClientEmptyCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	c := NewGeminiClient("gk")
	c.url = srv.URL
	if _, err := c.Generate(context.Background(), "p"); err == nil {
		t.Fatal("expected an error for an empty response")
	}
}
