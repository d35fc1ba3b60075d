package service

import (
	"context"
	"testing"
	"time"

	"github.com/Harshitk-cp/twinledger/internal/domain"
	"github.com/Harshitk-cp/twinledger/internal/store/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type escalationFixture struct {
	router  *EscalationRouter
	beliefs *BeliefService
	jobs    *JobService
	events  *recordingPublisher
}

func newEscalationFixture(t *testing.T) escalationFixture {
	t.Helper()
	db := openTestDB(t)
	beliefs := NewBeliefService(sqlite.NewBeliefStore(db), zap.NewNop())
	jobs := NewJobService(sqlite.NewJobStore(db), zap.NewNop())
	router := NewEscalationRouter(NewConfidenceEvaluator(DefaultConfidenceConfig()), beliefs, jobs, DefaultEscalationConfig(), zap.NewNop())
	pub := &recordingPublisher{}
	router.SetEventPublisher(pub)
	return escalationFixture{router: router, beliefs: beliefs, jobs: jobs, events: pub}
}

var weakEvidence = []domain.Evidence{{Ref: "chunk:7", Text: "Our office is in Berlin.", Similarity: 0.3}}

func TestRouteEscalatesBelowThreshold(t *testing.T) {
	ctx := context.Background()
	f := newEscalationFixture(t)
	tenantID := uuid.New()

	d, err := f.router.Route(ctx, RouteInput{
		TenantID: tenantID, Query: "What does the pro plan cost?", Answer: "Probably $40.", Evidence: weakEvidence,
	})
	require.NoError(t, err)
	assert.True(t, d.Escalated)
	assert.Less(t, d.Confidence, DefaultEscalationThreshold)
	assert.Equal(t, "what does the pro plan cost", d.Topic)
	require.NotNil(t, d.Job)
	assert.Equal(t, domain.JobTypeEscalationReview, d.Job.Type)
	assert.Equal(t, domain.PriorityHigh, d.Job.Priority)
	assert.Equal(t, domain.JobQueued, d.Job.Status)
	assert.Equal(t, []string{"chunk:7"}, d.Job.Metadata.EvidenceRefs)
	assert.Equal(t, "Probably $40.", d.Job.Metadata.Answer)
	require.NotNil(t, d.Job.Metadata.Confidence)
	assert.InDelta(t, d.Confidence, *d.Job.Metadata.Confidence, 1e-9)

	require.NotNil(t, d.ProposedBeliefID)
	assert.Equal(t, d.ProposedBeliefID, d.Job.Metadata.ProposedBeliefID)
	proposal, err := f.beliefs.Get(ctx, tenantID, *d.ProposedBeliefID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProposed, proposal.Status)
	assert.Equal(t, domain.SourceAutoExtract, proposal.Provenance.SourceType)

	assert.Equal(t, []string{"escalation"}, f.events.topics())
}

func TestRouteConfidentAnswerNotEscalated(t *testing.T) {
	f := newEscalationFixture(t)
	evidence := []domain.Evidence{{Ref: "chunk:1", Text: "The pro plan costs $50 per month.", Similarity: 0.9}}

	d, err := f.router.Route(context.Background(), RouteInput{
		TenantID: uuid.New(), Query: "pro plan price", Answer: "The pro plan is $50 a month [1].", Evidence: evidence,
	})
	require.NoError(t, err)
	assert.False(t, d.Escalated)
	assert.Nil(t, d.Job)
	assert.Nil(t, d.ProposedBeliefID)
	assert.GreaterOrEqual(t, d.Confidence, DefaultEscalationThreshold)
}

func TestRouteSkipsWhenVerifiedBeliefExists(t *testing.T) {
	ctx := context.Background()
	f := newEscalationFixture(t)
	tenantID := uuid.New()

	p, err := f.beliefs.Propose(ctx, BeliefInput{TenantID: tenantID, Topic: "pro plan price", Value: "$50", MemoryType: domain.MemoryTypeFact, Provenance: docProvenance()})
	require.NoError(t, err)
	v, err := f.beliefs.Verify(ctx, tenantID, p.ID, ownerProvenance())
	require.NoError(t, err)

	d, err := f.router.Route(ctx, RouteInput{TenantID: tenantID, Query: "Pro plan price?", Answer: "No idea.", Evidence: weakEvidence})
	require.NoError(t, err)
	assert.False(t, d.Escalated)
	assert.True(t, d.Covered)
	assert.Equal(t, 1.0, d.Confidence)
	require.NotNil(t, d.VerifiedBeliefID)
	assert.Equal(t, v.ID, *d.VerifiedBeliefID)

	d, err = f.router.Route(ctx, RouteInput{
		TenantID: tenantID, Query: "office location", Answer: "Berlin.",
		Evidence: []domain.Evidence{{Text: "Berlin", Similarity: 0.1, OwnerVerified: true}},
	})
	require.NoError(t, err)
	assert.False(t, d.Escalated)
	assert.Equal(t, 1.0, d.Confidence)
}

func TestResolveWithOwnerAnswer(t *testing.T) {
	ctx := context.Background()
	f := newEscalationFixture(t)
	tenantID := uuid.New()

	d, err := f.router.Route(ctx, RouteInput{TenantID: tenantID, Query: "What does the pro plan cost?", Answer: "Probably $40.", Evidence: weakEvidence})
	require.NoError(t, err)
	require.True(t, d.Escalated)

	res, err := f.router.Resolve(ctx, tenantID, d.Job.ID, ResolveInput{OwnerAnswer: "$50 per month", Owner: ownerProvenance()})
	require.NoError(t, err)
	assert.Equal(t, domain.JobComplete, res.Job.Status)
	assert.Equal(t, "answered", res.Job.Metadata.Resolution)
	assert.Equal(t, domain.StatusVerified, res.Belief.Status)
	assert.Equal(t, "$50 per month", res.Belief.Value)

	cur, err := f.beliefs.CurrentVerified(ctx, domain.BeliefKey{TenantID: tenantID, Topic: d.Topic})
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, res.Belief.ID, cur.ID)

	proposal, err := f.beliefs.Get(ctx, tenantID, *d.ProposedBeliefID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeprecated, proposal.Status)

	_, err = f.router.Resolve(ctx, tenantID, d.Job.ID, ResolveInput{OwnerAnswer: "$60", Owner: ownerProvenance()})
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
}

func TestResolveApprovesProposal(t *testing.T) {
	ctx := context.Background()
	f := newEscalationFixture(t)
	tenantID := uuid.New()

	d, err := f.router.Route(ctx, RouteInput{TenantID: tenantID, Query: "Support hours", Answer: "Nine to five.", Evidence: weakEvidence})
	require.NoError(t, err)

	res, err := f.router.Resolve(ctx, tenantID, d.Job.ID, ResolveInput{ApproveProposal: true, Owner: ownerProvenance()})
	require.NoError(t, err)
	assert.Equal(t, "approved", res.Job.Metadata.Resolution)
	assert.Equal(t, *d.ProposedBeliefID, res.Belief.ID)
	assert.Equal(t, domain.StatusVerified, res.Belief.Status)
}

func TestResolveStaleApprovalLeavesEscalationQueued(t *testing.T) {
	ctx := context.Background()
	f := newEscalationFixture(t)
	tenantID := uuid.New()

	d, err := f.router.Route(ctx, RouteInput{TenantID: tenantID, Query: "Support hours", Answer: "Nine to five.", Evidence: weakEvidence})
	require.NoError(t, err)
	require.True(t, d.Escalated)

	// The owner settles the topic elsewhere after the escalation was raised.
	time.Sleep(2 * time.Millisecond)
	newer, err := f.beliefs.Propose(ctx, BeliefInput{TenantID: tenantID, Topic: d.Topic, Value: "Ten to six.", MemoryType: domain.MemoryTypeFact, Provenance: docProvenance()})
	require.NoError(t, err)
	_, err = f.beliefs.Verify(ctx, tenantID, newer.ID, ownerProvenance())
	require.NoError(t, err)

	for range 3 {
		_, err = f.router.Resolve(ctx, tenantID, d.Job.ID, ResolveInput{ApproveProposal: true, Owner: ownerProvenance()})
		require.ErrorIs(t, err, domain.ErrValidation)

		job, err := f.jobs.Get(ctx, d.Job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobQueued, job.Status)
		assert.Equal(t, 0, job.Attempts)
	}

	res, err := f.router.Resolve(ctx, tenantID, d.Job.ID, ResolveInput{OwnerAnswer: "Eight to four.", Owner: ownerProvenance()})
	require.NoError(t, err)
	assert.Equal(t, domain.JobComplete, res.Job.Status)
	assert.Equal(t, "Eight to four.", res.Belief.Value)
}

func TestResolveReusesWrittenAnswer(t *testing.T) {
	ctx := context.Background()
	f := newEscalationFixture(t)
	tenantID := uuid.New()

	d, err := f.router.Route(ctx, RouteInput{TenantID: tenantID, Query: "Refund window", Answer: "A week?", Evidence: weakEvidence})
	require.NoError(t, err)

	// A previous resolve wrote the answer but never completed the job.
	written, err := f.router.writeResolution(ctx, tenantID, d.Job.Metadata, ResolveInput{OwnerAnswer: "30 days", Owner: ownerProvenance()})
	require.NoError(t, err)

	res, err := f.router.Resolve(ctx, tenantID, d.Job.ID, ResolveInput{OwnerAnswer: "30 days", Owner: ownerProvenance()})
	require.NoError(t, err)
	assert.Equal(t, written.ID, res.Belief.ID)
	assert.Equal(t, domain.JobComplete, res.Job.Status)

	history, err := f.beliefs.History(ctx, domain.BeliefKey{TenantID: tenantID, Topic: d.Topic})
	require.NoError(t, err)
	verified := 0
	for _, b := range history {
		if b.Status == domain.StatusVerified {
			verified++
		}
	}
	assert.Equal(t, 1, verified)
}

func TestResolveRequiresAnswer(t *testing.T) {
	ctx := context.Background()
	f := newEscalationFixture(t)
	tenantID := uuid.New()

	d, err := f.router.Route(ctx, RouteInput{TenantID: tenantID, Query: "Support hours", Answer: "Nine to five.", Evidence: weakEvidence})
	require.NoError(t, err)

	_, err = f.router.Resolve(ctx, tenantID, d.Job.ID, ResolveInput{Owner: ownerProvenance()})
	assert.ErrorIs(t, err, domain.ErrValidation)

	// Another tenant cannot see the escalation.
	_, err = f.router.Resolve(ctx, uuid.New(), d.Job.ID, ResolveInput{OwnerAnswer: "x", Owner: ownerProvenance()})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	job, err := f.jobs.Get(ctx, d.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobQueued, job.Status)
}

func TestDismissEscalation(t *testing.T) {
	ctx := context.Background()
	f := newEscalationFixture(t)
	tenantID := uuid.New()

	d, err := f.router.Route(ctx, RouteInput{TenantID: tenantID, Query: "Favourite colour", Answer: "Blue.", Evidence: weakEvidence})
	require.NoError(t, err)

	job, err := f.router.Dismiss(ctx, tenantID, d.Job.ID, "not worth answering", ownerProvenance())
	require.NoError(t, err)
	assert.Equal(t, domain.JobNeedsAttention, job.Status)
	assert.True(t, job.Metadata.Cancelled)

	proposal, err := f.beliefs.Get(ctx, tenantID, *d.ProposedBeliefID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeprecated, proposal.Status)

	status := domain.JobNeedsAttention
	listed, err := f.router.List(ctx, tenantID, &status, 0)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}
