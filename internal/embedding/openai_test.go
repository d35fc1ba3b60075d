package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Harshitk-cp/twinledger/internal/domain"
)

func vector(v float32) []float32 {
	out := make([]float32, Dimensions)
	out[0] = v
	return out
}

func TestOpenAIEmbedBatchOrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if len(req.Input) != 2 {
			t.Errorf("expected 2 inputs, got %d", len(req.Input))
		}
		resp := map[string]any{"data": []map[string]any{
			{"index": 1, "embedding": vector(2)},
			{"index": 0, "embedding": vector(1)},
		}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewOpenAIClient("k")
	c.SetURL(srv.URL)
	vecs, err := c.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if vecs[0][0] != 1 || vecs[1][0] != 2 {
		t.Fatalf("vectors out of order: %v %v", vecs[0][0], vecs[1][0])
	}
}

func TestOpenAIEmbedRateLimitIsInfrastructure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewOpenAIClient("k")
	c.SetURL(srv.URL)
	if _, err := c.Embed(context.Background(), "x"); !errors.Is(err, domain.ErrInfrastructure) {
		t.Fatalf("expected infrastructure error, got %v", err)
	}
}

func TestOpenAIEmbedBatchLimit(t *testing.T) {
	texts := make([]string, MaxBatch+1)
	if _, err := NewOpenAIClient("k").EmbedBatch(context.Background(), texts); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestNewClient(t *testing.T) {
	if _, err := NewClient(ProviderOpenAI, ""); err == nil {
		t.Fatal("expected missing key error")
	}
	if _, err := NewClient("nope", "k"); err == nil {
		t.Fatal("expected unknown provider error")
	}
	if c, err := NewClient(ProviderMock, ""); err != nil || c == nil {
		t.Fatalf("mock: %v", err)
	}
}
