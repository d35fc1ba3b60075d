package service

import (
	"regexp"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"github.com/Harshitk-cp/twinledger/internal/domain"
)

const (
	DefaultConfidenceTopK            = 5
	DefaultConfidenceDecay           = 0.7
	DefaultConfidenceSimilarityFloor = 0.5
	DefaultConfidenceMinOverlap      = 0.3
	DefaultConfidenceSimWeight       = 0.6
	DefaultConfidenceCovWeight       = 0.4

	minContentTokenLen = 3
)

// ConfidenceConfig tunes the evaluator. Zero values fall back to defaults.
type ConfidenceConfig struct {
	TopK             int
	Decay            float64
	SimilarityFloor  float64
	MinOverlap       float64
	SimilarityWeight float64
	CoverageWeight   float64
}

func DefaultConfidenceConfig() ConfidenceConfig {
	return ConfidenceConfig{
		TopK:             DefaultConfidenceTopK,
		Decay:            DefaultConfidenceDecay,
		SimilarityFloor:  DefaultConfidenceSimilarityFloor,
		MinOverlap:       DefaultConfidenceMinOverlap,
		SimilarityWeight: DefaultConfidenceSimWeight,
		CoverageWeight:   DefaultConfidenceCovWeight,
	}
}

// ConfidenceBreakdown explains how a score was reached.
type ConfidenceBreakdown struct {
	Score              float64 `json:"score"`
	SimilaritySignal   float64 `json:"similarity_signal"`
	CoverageSignal     float64 `json:"coverage_signal"`
	SimilarityWeight   float64 `json:"similarity_weight"`
	CoverageWeight     float64 `json:"coverage_weight"`
	EvidenceUsed       int     `json:"evidence_used"`
	Sentences          int     `json:"sentences"`
	SupportedSentences int     `json:"supported_sentences"`
}

// ConfidenceEvaluator scores an answer against the evidence it was built
// from. It is pure and safe for concurrent use.
type ConfidenceEvaluator struct {
	cfg ConfidenceConfig
}

func NewConfidenceEvaluator(cfg ConfidenceConfig) *ConfidenceEvaluator {
	def := DefaultConfidenceConfig()
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.Decay <= 0 || cfg.Decay > 1 {
		cfg.Decay = def.Decay
	}
	if cfg.SimilarityFloor < 0 || cfg.SimilarityFloor > 1 {
		cfg.SimilarityFloor = def.SimilarityFloor
	}
	if cfg.MinOverlap <= 0 || cfg.MinOverlap > 1 {
		cfg.MinOverlap = def.MinOverlap
	}
	if cfg.SimilarityWeight < 0 || cfg.CoverageWeight < 0 || cfg.SimilarityWeight+cfg.CoverageWeight == 0 {
		cfg.SimilarityWeight, cfg.CoverageWeight = def.SimilarityWeight, def.CoverageWeight
	}
	total := cfg.SimilarityWeight + cfg.CoverageWeight
	cfg.SimilarityWeight /= total
	cfg.CoverageWeight /= total
	return &ConfidenceEvaluator{cfg: cfg}
}

func (e *ConfidenceEvaluator) Config() ConfidenceConfig {
	return e.cfg
}

// Score returns a confidence in [0, 1]. No evidence scores exactly 0.
func (e *ConfidenceEvaluator) Score(evidence []domain.Evidence, answer string) float64 {
	return e.Explain(evidence, answer).Score
}

func (e *ConfidenceEvaluator) Explain(evidence []domain.Evidence, answer string) ConfidenceBreakdown {
	b := ConfidenceBreakdown{
		SimilarityWeight: e.cfg.SimilarityWeight,
		CoverageWeight:   e.cfg.CoverageWeight,
	}
	if len(evidence) == 0 {
		return b
	}

	b.SimilaritySignal, b.EvidenceUsed = e.similaritySignal(evidence)
	b.CoverageSignal, b.Sentences, b.SupportedSentences = e.coverageSignal(evidence, answer)
	b.Score = clamp01(e.cfg.SimilarityWeight*b.SimilaritySignal + e.cfg.CoverageWeight*b.CoverageSignal)
	return b
}

// similaritySignal is the decay-weighted mean of the top-K similarities,
// best first.
func (e *ConfidenceEvaluator) similaritySignal(evidence []domain.Evidence) (float64, int) {
	sims := make([]float64, len(evidence))
	for i, ev := range evidence {
		sims[i] = clamp01(ev.Similarity)
	}
	slices.SortFunc(sims, func(a, b float64) int {
		switch {
		case a > b:
			return -1
		case a < b:
			return 1
		}
		return 0
	})
	if len(sims) > e.cfg.TopK {
		sims = sims[:e.cfg.TopK]
	}

	var num, den float64
	w := 1.0
	for _, s := range sims {
		num += w * s
		den += w
		w *= e.cfg.Decay
	}
	if den == 0 {
		return 0, len(sims)
	}
	return num / den, len(sims)
}

var citationPattern = regexp.MustCompile(`\[(\d+)\]`)

func (e *ConfidenceEvaluator) coverageSignal(evidence []domain.Evidence, answer string) (float64, int, int) {
	strong := make([]map[string]struct{}, len(evidence))
	for i, ev := range evidence {
		if clamp01(ev.Similarity) >= e.cfg.SimilarityFloor {
			strong[i] = tokenSet(ev.Text)
		}
	}

	var total, supported int
	for _, sentence := range splitSentences(answer) {
		tokens := contentTokens(citationPattern.ReplaceAllString(sentence, " "))
		cites := citedIndexes(sentence, len(evidence))
		if len(tokens) == 0 && len(cites) == 0 {
			continue
		}
		total++
		if e.sentenceSupported(tokens, cites, strong) {
			supported++
		}
	}
	if total == 0 {
		return 0, 0, 0
	}
	return float64(supported) / float64(total), total, supported
}

func (e *ConfidenceEvaluator) sentenceSupported(tokens []string, cites []int, strong []map[string]struct{}) bool {
	for _, idx := range cites {
		if strong[idx] != nil {
			return true
		}
	}
	if len(tokens) == 0 {
		return false
	}
	for _, set := range strong {
		if set == nil {
			continue
		}
		shared := 0
		for _, tok := range tokens {
			if _, ok := set[tok]; ok {
				shared++
			}
		}
		if float64(shared)/float64(len(tokens)) >= e.cfg.MinOverlap {
			return true
		}
	}
	return false
}

// citedIndexes returns the zero-based evidence indexes cited as [n].
func citedIndexes(sentence string, n int) []int {
	var out []int
	for _, m := range citationPattern.FindAllStringSubmatch(sentence, -1) {
		k, err := strconv.Atoi(m[1])
		if err != nil || k < 1 || k > n {
			continue
		}
		out = append(out, k-1)
	}
	return out
}

func splitSentences(text string) []string {
	var (
		out []string
		cur strings.Builder
	)
	runes := []rune(text)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}
	for i, r := range runes {
		if r == '\n' {
			flush()
			continue
		}
		cur.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
				flush()
			}
		}
	}
	flush()
	return out
}

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {}, "you": {}, "your": {},
	"with": {}, "this": {}, "that": {}, "from": {}, "they": {}, "them": {}, "have": {}, "has": {},
	"was": {}, "were": {}, "will": {}, "would": {}, "can": {}, "could": {}, "should": {}, "about": {},
	"into": {}, "than": {}, "then": {}, "there": {}, "their": {}, "what": {}, "which": {}, "when": {},
	"who": {}, "how": {}, "its": {}, "our": {}, "out": {}, "also": {}, "been": {}, "being": {},
	"does": {}, "did": {}, "all": {}, "any": {}, "some": {}, "such": {}, "very": {}, "just": {},
}

// contentTokens lower-cases text and keeps words that carry meaning.
func contentTokens(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < minContentTokenLen {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range contentTokens(text) {
		set[t] = struct{}{}
	}
	return set
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
