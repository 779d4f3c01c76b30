package rerank

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/support-rag/backend/internal/metrics"
	"github.com/support-rag/backend/internal/search"
	"github.com/support-rag/backend/pkg/logger"
	"github.com/support-rag/backend/pkg/utils"
)

const (
	TierAPI      = "api"
	TierLLM      = "llm"
	TierFallback = "fallback"

	maxDocumentRunes = 1000
)

// Scorer returns one relevance score in [0,1] per document, by index.
type Scorer interface {
	Score(ctx context.Context, query string, docs []string) ([]float64, error)
}

// Reranker tries the external API, then the model, then the fused scores.
// Either scorer may be nil.
type Reranker struct {
	api Scorer
	llm Scorer
}

func NewReranker(api, llm Scorer) *Reranker {
	return &Reranker{api: api, llm: llm}
}

// Rerank returns a copy of candidates with RerankScore set, sorted descending,
// and the tier that produced the ordering.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []search.Candidate) ([]search.Candidate, string) {
	if len(candidates) == 0 {
		return nil, ""
	}

	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = utils.TruncateRunes(fmt.Sprintf("Q: %s\nA: %s", c.Question, c.Answer), maxDocumentRunes)
	}

	for _, tier := range []struct {
		name   string
		scorer Scorer
	}{
		{TierAPI, r.api},
		{TierLLM, r.llm},
	} {
		if tier.scorer == nil {
			continue
		}
		scores, err := tier.scorer.Score(ctx, query, docs)
		if err == nil && len(scores) != len(candidates) {
			err = fmt.Errorf("got %d scores for %d candidates", len(scores), len(candidates))
		}
		if err != nil {
			logger.Warn("Rerank tier failed, falling through",
				zap.String("tier", tier.name),
				zap.Error(err),
			)
			continue
		}

		metrics.RerankTier.WithLabelValues(tier.name).Inc()
		return applyScores(candidates, scores), tier.name
	}

	metrics.RerankTier.WithLabelValues(TierFallback).Inc()
	return Fallback(candidates), TierFallback
}

// Fallback reuses fused scores, else the reciprocal rank of the input order.
// It never fails and never drops a candidate.
func Fallback(candidates []search.Candidate) []search.Candidate {
	scores := make([]float64, len(candidates))
	for i, c := range candidates {
		if c.FusedScore != nil {
			scores[i] = *c.FusedScore
		} else {
			scores[i] = search.RRFScore(i)
		}
	}
	return applyScores(candidates, scores)
}

func applyScores(candidates []search.Candidate, scores []float64) []search.Candidate {
	out := make([]search.Candidate, len(candidates))
	copy(out, candidates)
	for i := range out {
		out[i].RerankScore = search.Float(scores[i])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return *out[i].RerankScore > *out[j].RerankScore
	})
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// MeanScore averages RerankScore over candidates that have one.
func MeanScore(candidates []search.Candidate) float64 {
	var sum float64
	n := 0
	for _, c := range candidates {
		if c.RerankScore != nil {
			sum += *c.RerankScore
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
