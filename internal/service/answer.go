package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Harshitk-cp/twinledger/internal/domain"
	"github.com/Harshitk-cp/twinledger/internal/llm"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultRetrievalTopK = 5
	DefaultLLMTimeout    = 30 * time.Second
)

// AnswerService is the chat path: verified beliefs first, then retrieval plus
// generation, then the escalation router.
type AnswerService struct {
	beliefs  *BeliefService
	searcher domain.ChunkSearcher
	embedder domain.EmbeddingClient
	llm      domain.LLMClient
	router   *EscalationRouter
	topK     int
	timeout  time.Duration
	logger   *zap.Logger
}

func NewAnswerService(
	beliefs *BeliefService,
	searcher domain.ChunkSearcher,
	embedder domain.EmbeddingClient,
	llmClient domain.LLMClient,
	router *EscalationRouter,
	logger *zap.Logger,
) *AnswerService {
	return &AnswerService{
		beliefs:  beliefs,
		searcher: searcher,
		embedder: embedder,
		llm:      llmClient,
		router:   router,
		topK:     DefaultRetrievalTopK,
		timeout:  DefaultLLMTimeout,
		logger:   logger,
	}
}

func (s *AnswerService) SetTopK(k int) {
	if k > 0 {
		s.topK = k
	}
}

func (s *AnswerService) SetLLMTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

type AskInput struct {
	TenantID   uuid.UUID
	SubjectKey string
	Query      string
}

type Citation struct {
	Index      int     `json:"index"`
	Ref        string  `json:"ref"`
	Text       string  `json:"text"`
	Similarity float64 `json:"similarity"`
}

type AskResult struct {
	Answer     string         `json:"answer"`
	Citations  []Citation     `json:"citations"`
	Confidence float64        `json:"confidence"`
	Escalated  bool           `json:"escalated"`
	Decision   *RouteDecision `json:"decision,omitempty"`
}

func (s *AnswerService) Ask(ctx context.Context, in AskInput) (*AskResult, error) {
	if in.TenantID == uuid.Nil {
		return nil, fmt.Errorf("%w: tenant is required", domain.ErrValidation)
	}
	query := strings.TrimSpace(in.Query)
	topic := TopicForQuery(query)
	if topic == "" {
		return nil, fmt.Errorf("%w: query is required", domain.ErrValidation)
	}

	key := domain.BeliefKey{TenantID: in.TenantID, SubjectKey: in.SubjectKey, Topic: topic}
	verified, err := s.beliefs.CurrentVerified(ctx, key)
	if err != nil {
		return nil, err
	}
	if verified != nil {
		return &AskResult{
			Answer:     verified.Value,
			Citations:  []Citation{{Index: 1, Ref: "belief:" + verified.ID.String(), Text: verified.Value, Similarity: 1}},
			Confidence: 1.0,
		}, nil
	}

	evidence, err := s.retrieve(ctx, in.TenantID, query)
	if err != nil {
		return nil, err
	}

	gctx, cancel := context.WithTimeout(ctx, s.timeout)
	answer, err := s.llm.Generate(gctx, llm.BuildAnswerPrompt(query, evidence))
	cancel()
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	decision, err := s.router.Route(ctx, RouteInput{
		TenantID:   in.TenantID,
		SubjectKey: in.SubjectKey,
		Query:      query,
		Answer:     answer,
		Evidence:   evidence,
		Topic:      topic,
	})
	if err != nil {
		return nil, err
	}

	citations := make([]Citation, len(evidence))
	for i, ev := range evidence {
		citations[i] = Citation{Index: i + 1, Ref: ev.Ref, Text: ev.Text, Similarity: ev.Similarity}
	}

	s.logger.Debug("question answered",
		zap.String("tenant_id", in.TenantID.String()),
		zap.String("topic", topic),
		zap.Int("evidence", len(evidence)),
		zap.Float64("confidence", decision.Confidence),
		zap.Bool("escalated", decision.Escalated))

	return &AskResult{
		Answer:     answer,
		Citations:  citations,
		Confidence: decision.Confidence,
		Escalated:  decision.Escalated,
		Decision:   decision,
	}, nil
}

func (s *AnswerService) retrieve(ctx context.Context, tenantID uuid.UUID, query string) ([]domain.Evidence, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := s.searcher.Search(ctx, tenantID, vec, s.topK)
	if err != nil {
		return nil, err
	}
	evidence := make([]domain.Evidence, len(hits))
	for i, h := range hits {
		evidence[i] = domain.Evidence{
			Ref:        "chunk:" + h.ID.String(),
			Text:       h.Text,
			Similarity: float64(h.Score),
		}
	}
	return evidence, nil
}
