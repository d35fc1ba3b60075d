package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Harshitk-cp/twinledger/internal/domain"
)

func TestBuildAnswerPromptNumbersEvidence(t *testing.T) {
	prompt := BuildAnswerPrompt(" Do you offer refunds? ", []domain.Evidence{
		{Ref: "chunk:a", Text: "Refunds are\navailable within 30 days."},
		{Ref: "belief:b", Text: "Annual plans are non-refundable.", OwnerVerified: true},
	})

	if !strings.Contains(prompt, "[1] Refunds are available within 30 days.\n") {
		t.Fatalf("expected first evidence line, got:\n%s", prompt)
	}
	if !strings.Contains(prompt, "[2] (confirmed by the owner) Annual plans are non-refundable.") {
		t.Fatalf("expected owner-verified marker, got:\n%s", prompt)
	}
	if !strings.HasSuffix(prompt, "Question: Do you offer refunds?\n\nAnswer:") {
		t.Fatalf("unexpected prompt tail:\n%s", prompt)
	}
}

func TestBuildAnswerPromptWithoutEvidence(t *testing.T) {
	prompt := BuildAnswerPrompt("hours?", nil)
	if !strings.Contains(prompt, "(none)") {
		t.Fatalf("expected empty evidence marker, got:\n%s", prompt)
	}
}

func TestMockClientGenerate(t *testing.T) {
	m := NewMockClient()
	m.GenerateResponse = "We open at 9 [1]."

	out, err := m.Generate(context.Background(), "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "We open at 9 [1]." {
		t.Fatalf("unexpected response %q", out)
	}

	m.GenerateError = errors.New("boom")
	if _, err := m.Generate(context.Background(), "p2"); err == nil {
		t.Fatal("expected configured error")
	}
	if m.Calls() != 2 {
		t.Fatalf("expected 2 calls, got %d", m.Calls())
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(ProviderOpenAI, ""); err == nil {
		t.Fatal("expected error for missing key")
	}
	if _, err := NewClient("bogus", "k"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
	c, err := NewClient(ProviderMock, "")
	if err != nil || c == nil {
		t.Fatalf("mock provider: %v", err)
	}
}

func TestStatusErrorClassification(t *testing.T) {
	if !errors.Is(statusError("chat", 503, nil), domain.ErrInfrastructure) {
		t.Fatal("5xx should be infrastructure")
	}
	if !errors.Is(statusError("chat", 429, nil), domain.ErrInfrastructure) {
		t.Fatal("429 should be infrastructure")
	}
	if errors.Is(statusError("chat", 400, nil), domain.ErrInfrastructure) {
		t.Fatal("400 should not be infrastructure")
	}
}
