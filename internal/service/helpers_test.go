package service

import (
	"context"
	"sync"
	"testing"

	"github.com/Harshitk-cp/twinledger/internal/domain"
	"github.com/Harshitk-cp/twinledger/internal/store/sqlite"
	"github.com/google/uuid"
)

func openTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func ownerProvenance() domain.Provenance {
	return domain.Provenance{SourceType: domain.SourceRevision, SourceID: "owner-console", Actor: "owner"}
}

func docProvenance() domain.Provenance {
	return domain.Provenance{SourceType: domain.SourceDoc, SourceID: "doc-1"}
}

type publishedEvent struct {
	tenantID uuid.UUID
	topic    string
	payload  any
}

// recordingPublisher captures events instead of sending them anywhere.
type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(_ context.Context, tenantID uuid.UUID, topic string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{tenantID: tenantID, topic: topic, payload: payload})
}

func (p *recordingPublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.topic
	}
	return out
}
