package embedding

import (
	"context"
	"testing"
)

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func TestMockEmbedDeterministic(t *testing.T) {
	c := NewMockClient()
	a, err := c.Embed(context.Background(), "The pro plan costs $50")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	b, _ := c.Embed(context.Background(), "the PRO plan costs 50")
	if len(a) != MockDimensions {
		t.Fatalf("expected %d dims, got %d", MockDimensions, len(a))
	}
	if got := cosine(a, b); got < 0.999 {
		t.Fatalf("expected identical vectors for the same words, got cosine %v", got)
	}

	other, _ := c.Embed(context.Background(), "refund window fourteen days")
	if cosine(a, other) >= cosine(a, b) {
		t.Fatalf("expected unrelated text to score lower")
	}
}

func TestMockEmbedEmptyText(t *testing.T) {
	vec, err := NewMockClient().Embed(context.Background(), "  ")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	for _, v := range vec {
		if v != 0 {
			t.Fatalf("expected a zero vector for empty text")
		}
	}
}
