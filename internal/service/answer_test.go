package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Harshitk-cp/twinledger/internal/domain"
	"github.com/Harshitk-cp/twinledger/internal/embedding"
	"github.com/Harshitk-cp/twinledger/internal/llm"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fixedSearcher returns the same ranked chunks for every query.
type fixedSearcher struct {
	hits  []domain.ScoredChunk
	calls int
	topK  int
}

func (s *fixedSearcher) Search(_ context.Context, _ uuid.UUID, _ []float32, topK int) ([]domain.ScoredChunk, error) {
	s.calls++
	s.topK = topK
	if len(s.hits) > topK {
		return s.hits[:topK], nil
	}
	return s.hits, nil
}

func scored(text string, score float32) domain.ScoredChunk {
	return domain.ScoredChunk{Chunk: domain.Chunk{ID: uuid.New(), Text: text}, Score: score}
}

type answerFixture struct {
	svc      *AnswerService
	llm      *llm.MockClient
	searcher *fixedSearcher
	esc      escalationFixture
}

func newAnswerFixture(t *testing.T, hits ...domain.ScoredChunk) answerFixture {
	t.Helper()
	esc := newEscalationFixture(t)
	searcher := &fixedSearcher{hits: hits}
	mock := llm.NewMockClient()
	svc := NewAnswerService(esc.beliefs, searcher, embedding.NewMockClient(), mock, esc.router, zap.NewNop())
	return answerFixture{svc: svc, llm: mock, searcher: searcher, esc: esc}
}

func TestAskConfidentAnswer(t *testing.T) {
	f := newAnswerFixture(t, scored("The pro plan costs $50 per month.", 0.9))
	f.llm.GenerateResponse = "The pro plan is $50 a month [1]."

	res, err := f.svc.Ask(context.Background(), AskInput{TenantID: uuid.New(), Query: "pro plan price"})
	require.NoError(t, err)
	assert.Equal(t, "The pro plan is $50 a month [1].", res.Answer)
	assert.False(t, res.Escalated)
	assert.GreaterOrEqual(t, res.Confidence, DefaultEscalationThreshold)
	require.Len(t, res.Citations, 1)
	assert.Equal(t, 1, res.Citations[0].Index)
	assert.True(t, strings.HasPrefix(res.Citations[0].Ref, "chunk:"))
	assert.InDelta(t, 0.9, res.Citations[0].Similarity, 1e-6)

	require.Len(t, f.llm.GenerateCalls, 1)
	assert.Contains(t, f.llm.GenerateCalls[0], "[1] The pro plan costs $50 per month.")
	assert.Equal(t, DefaultRetrievalTopK, f.searcher.topK)
}

func TestAskEscalatesWeakAnswer(t *testing.T) {
	f := newAnswerFixture(t, scored("Our office is in Berlin.", 0.3))
	f.llm.GenerateResponse = "Probably $40."
	tenantID := uuid.New()

	res, err := f.svc.Ask(context.Background(), AskInput{TenantID: tenantID, Query: "What does the pro plan cost?"})
	require.NoError(t, err)
	assert.True(t, res.Escalated)
	require.NotNil(t, res.Decision)
	require.NotNil(t, res.Decision.Job)
	assert.Equal(t, domain.JobTypeEscalationReview, res.Decision.Job.Type)
	assert.Equal(t, "What does the pro plan cost?", res.Decision.Job.Metadata.Query)
}

func TestAskUsesVerifiedBelief(t *testing.T) {
	ctx := context.Background()
	f := newAnswerFixture(t, scored("irrelevant", 0.1))
	tenantID := uuid.New()

	p, err := f.esc.beliefs.Propose(ctx, BeliefInput{TenantID: tenantID, Topic: "pro plan price", Value: "$50 per month", MemoryType: domain.MemoryTypeFact, Provenance: docProvenance()})
	require.NoError(t, err)
	v, err := f.esc.beliefs.Verify(ctx, tenantID, p.ID, ownerProvenance())
	require.NoError(t, err)

	res, err := f.svc.Ask(ctx, AskInput{TenantID: tenantID, Query: "Pro plan price?"})
	require.NoError(t, err)
	assert.Equal(t, "$50 per month", res.Answer)
	assert.Equal(t, 1.0, res.Confidence)
	require.Len(t, res.Citations, 1)
	assert.Equal(t, "belief:"+v.ID.String(), res.Citations[0].Ref)
	assert.Equal(t, 0, f.llm.Calls())
	assert.Equal(t, 0, f.searcher.calls)
}

func TestAskGenerationFailure(t *testing.T) {
	f := newAnswerFixture(t, scored("anything", 0.5))
	f.llm.GenerateError = domain.ErrInfrastructure

	_, err := f.svc.Ask(context.Background(), AskInput{TenantID: uuid.New(), Query: "hours"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInfrastructure))

	_, err = f.svc.Ask(context.Background(), AskInput{TenantID: uuid.New(), Query: "  ?  "})
	assert.True(t, errors.Is(err, domain.ErrValidation))
}
