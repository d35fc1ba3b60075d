package events

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func TestSubject(t *testing.T) {
	tenant := uuid.MustParse("6f1c2b1e-0000-4000-8000-000000000001")

	p := NewNATSPublisher(nil, "", zap.NewNop())
	if got, want := p.Subject(tenant, "job.complete"), "twinledger."+tenant.String()+".job.complete"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}

	p = NewNATSPublisher(nil, "acme", zap.NewNop())
	if got := p.Subject(tenant, "belief.verified"); got != "acme."+tenant.String()+".belief.verified" {
		t.Fatalf("unexpected subject %q", got)
	}
}

func TestPublishSkipsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// A nil connection would panic if Publish reached it.
	NewNATSPublisher(nil, "", zap.NewNop()).Publish(ctx, uuid.New(), "job.queued", nil)
	Noop{}.Publish(context.Background(), uuid.New(), "job.queued", map[string]string{"k": "v"})
}
