package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/Harshitk-cp/twinledger/internal/domain"
	"github.com/google/uuid"
)

func TestDocumentChunksAndSearch(t *testing.T) {
	ctx := context.Background()
	s := NewDocumentStore(openTestDB(t))
	tenantID := uuid.New()

	doc := &domain.Document{TenantID: tenantID, Title: "Pricing FAQ", SourceType: domain.SourceDoc, Content: "..."}
	if err := s.Create(ctx, doc); err != nil {
		t.Fatalf("Create: %v", err)
	}

	chunks := []domain.Chunk{
		{Ordinal: 0, Text: "pricing", Embedding: []float32{1, 0, 0}},
		{Ordinal: 1, Text: "mostly pricing", Embedding: []float32{0.8, 0.6, 0}},
		{Ordinal: 2, Text: "unrelated", Embedding: []float32{0, 0, 1}},
	}
	if err := s.ReplaceChunks(ctx, tenantID, doc.ID, chunks); err != nil {
		t.Fatalf("ReplaceChunks: %v", err)
	}

	got, err := s.GetByID(ctx, tenantID, doc.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.ChunkCount != 3 {
		t.Fatalf("expected chunk_count 3, got %d", got.ChunkCount)
	}

	results, err := s.Search(ctx, tenantID, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Text != "pricing" || results[1].Text != "mostly pricing" {
		t.Fatalf("unexpected ranking: %q, %q", results[0].Text, results[1].Text)
	}
	if results[0].Score < results[1].Score {
		t.Fatalf("expected descending scores, got %v then %v", results[0].Score, results[1].Score)
	}

	other, err := s.Search(ctx, uuid.New(), []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Search other tenant: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("expected tenant isolation, got %d results", len(other))
	}

	if err := s.ReplaceChunks(ctx, tenantID, doc.ID, chunks[:1]); err != nil {
		t.Fatalf("ReplaceChunks again: %v", err)
	}
	listed, err := s.ListChunks(ctx, tenantID, doc.ID)
	if err != nil {
		t.Fatalf("ListChunks: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected old chunks to be replaced, got %d", len(listed))
	}
}

func TestDocumentUpdateHealthNotFound(t *testing.T) {
	s := NewDocumentStore(openTestDB(t))
	err := s.UpdateHealth(context.Background(), uuid.New(), uuid.New(), domain.HealthHealthy)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
