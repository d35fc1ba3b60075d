package service

import (
	"math"
	"testing"

	"github.com/Harshitk-cp/twinledger/internal/domain"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestScoreEmptyEvidenceIsZero(t *testing.T) {
	e := NewConfidenceEvaluator(DefaultConfidenceConfig())
	if got := e.Score(nil, "X"); got != 0.0 {
		t.Fatalf("expected 0.0, got %v", got)
	}
	if got := e.Score([]domain.Evidence{}, "X"); got != 0.0 {
		t.Fatalf("expected 0.0, got %v", got)
	}
}

func TestScoreCitedAnswer(t *testing.T) {
	e := NewConfidenceEvaluator(DefaultConfidenceConfig())
	evidence := []domain.Evidence{{Ref: "chunk:1", Text: "The pro plan costs $50 per month.", Similarity: 0.9}}

	b := e.Explain(evidence, "The pro plan is $50 a month [1].")
	if !approx(b.SimilaritySignal, 0.9) {
		t.Fatalf("expected similarity 0.9, got %v", b.SimilaritySignal)
	}
	if b.Sentences != 1 || b.SupportedSentences != 1 {
		t.Fatalf("expected 1/1 supported sentences, got %d/%d", b.SupportedSentences, b.Sentences)
	}
	if !approx(b.Score, 0.6*0.9+0.4*1.0) {
		t.Fatalf("expected 0.94, got %v", b.Score)
	}
}

func TestScoreWeakEvidenceDoesNotCover(t *testing.T) {
	e := NewConfidenceEvaluator(DefaultConfidenceConfig())
	evidence := []domain.Evidence{{Text: "The pro plan costs $50 per month.", Similarity: 0.3}}

	b := e.Explain(evidence, "The pro plan costs $50 per month [1].")
	if b.CoverageSignal != 0 {
		t.Fatalf("expected no coverage below the similarity floor, got %v", b.CoverageSignal)
	}
	if !approx(b.Score, 0.6*0.3) {
		t.Fatalf("expected 0.18, got %v", b.Score)
	}
}

func TestScoreTokenOverlapSupport(t *testing.T) {
	e := NewConfidenceEvaluator(DefaultConfidenceConfig())
	evidence := []domain.Evidence{{Text: "Refunds are processed within fourteen days of cancellation.", Similarity: 0.8}}

	b := e.Explain(evidence, "Refunds are processed within fourteen days. Our office has a purple door.")
	if b.Sentences != 2 || b.SupportedSentences != 1 {
		t.Fatalf("expected 1/2 supported sentences, got %d/%d", b.SupportedSentences, b.Sentences)
	}
	if !approx(b.CoverageSignal, 0.5) {
		t.Fatalf("expected coverage 0.5, got %v", b.CoverageSignal)
	}
}

func TestSimilaritySignalRankDecay(t *testing.T) {
	e := NewConfidenceEvaluator(ConfidenceConfig{TopK: 5, Decay: 0.5})
	evidence := []domain.Evidence{{Similarity: 0}, {Similarity: 1}}

	b := e.Explain(evidence, "")
	if !approx(b.SimilaritySignal, 1.0/1.5) {
		t.Fatalf("expected %v, got %v", 1.0/1.5, b.SimilaritySignal)
	}
	if b.EvidenceUsed != 2 {
		t.Fatalf("expected 2 evidence items used, got %d", b.EvidenceUsed)
	}
}

func TestSimilaritySignalTopKAndClamp(t *testing.T) {
	e := NewConfidenceEvaluator(ConfidenceConfig{TopK: 1})
	evidence := []domain.Evidence{{Similarity: 1.7}, {Similarity: 0.2}, {Similarity: -3}}

	b := e.Explain(evidence, "")
	if b.EvidenceUsed != 1 || !approx(b.SimilaritySignal, 1) {
		t.Fatalf("expected one clamped item at 1.0, got %d items at %v", b.EvidenceUsed, b.SimilaritySignal)
	}
}

func TestScoreDeterministicAndMonotone(t *testing.T) {
	e := NewConfidenceEvaluator(DefaultConfidenceConfig())
	answer := "The pro plan costs $50. Annual billing gets two months free [2]."
	evidence := []domain.Evidence{
		{Text: "Pro plan pricing: $50 monthly.", Similarity: 0.55},
		{Text: "Annual billing includes two free months.", Similarity: 0.45},
		{Text: "Unrelated onboarding notes.", Similarity: 0.2},
	}

	first := e.Score(evidence, answer)
	for range 10 {
		if got := e.Score(evidence, answer); got != first {
			t.Fatalf("expected deterministic score %v, got %v", first, got)
		}
	}

	prev := first
	for i := range evidence {
		raised := append([]domain.Evidence(nil), evidence...)
		raised[i].Similarity += 0.3
		got := e.Score(raised, answer)
		if got < prev {
			t.Fatalf("raising evidence %d lowered the score: %v -> %v", i, prev, got)
		}
	}
}

func TestEvaluatorNormalizesWeights(t *testing.T) {
	e := NewConfidenceEvaluator(ConfidenceConfig{SimilarityWeight: 3, CoverageWeight: 1})
	cfg := e.Config()
	if !approx(cfg.SimilarityWeight, 0.75) || !approx(cfg.CoverageWeight, 0.25) {
		t.Fatalf("expected weights 0.75/0.25, got %v/%v", cfg.SimilarityWeight, cfg.CoverageWeight)
	}

	e = NewConfidenceEvaluator(ConfidenceConfig{SimilarityWeight: -1})
	if cfg := e.Config(); !approx(cfg.SimilarityWeight, 0.6) {
		t.Fatalf("expected default weights for invalid input, got %v", cfg.SimilarityWeight)
	}
}
