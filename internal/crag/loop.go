package crag

import (
	"context"

	"go.uber.org/zap"

	"github.com/support-rag/backend/internal/llm"
	"github.com/support-rag/backend/internal/metrics"
	"github.com/support-rag/backend/internal/search"
	"github.com/support-rag/backend/pkg/logger"
)

// MaxRewriteAttempts bounds the corrective loop to MaxRewriteAttempts+1 searches.
const MaxRewriteAttempts = 2

// RetrieveFunc runs one search-and-rerank round.
type RetrieveFunc func(ctx context.Context, query string) []search.Candidate

type LoopResult struct {
	Results    []search.Candidate
	Rounds     int
	FinalQuery string
	Sufficient bool
}

// Run searches, evaluates and rewrites until the evidence is sufficient or the
// attempts are used up. When they are, the best available candidates are
// returned even though they were judged insufficient.
func (e *Evaluator) Run(ctx context.Context, query string, history []llm.Message, retrieve RetrieveFunc) LoopResult {
	q := query
	var lastNonEmpty []search.Candidate
	res := LoopResult{}

	for attempt := 0; ; attempt++ {
		results := retrieve(ctx, q)
		res.Rounds++
		if len(results) > 0 {
			lastNonEmpty = results
		}

		ev := e.Evaluate(ctx, q, results)
		if !ev.Insufficient {
			res.Results = ev.Usable()
			res.FinalQuery = q
			res.Sufficient = true
			break
		}

		if attempt >= MaxRewriteAttempts {
			res.Results = bestAvailable(results, lastNonEmpty)
			res.FinalQuery = q
			break
		}

		rewritten := e.SuggestRewrite(ctx, q, history)
		if search.Normalize(rewritten) == search.Normalize(q) {
			logger.Debug("CRAG rewrite unchanged, stopping", zap.Int("round", res.Rounds))
			res.Results = bestAvailable(results, lastNonEmpty)
			res.FinalQuery = q
			break
		}

		logger.Info("CRAG rewriting query",
			zap.Int("round", res.Rounds),
			zap.String("rewritten", rewritten),
		)
		q = rewritten
	}

	metrics.CragRounds.Observe(float64(res.Rounds))
	return res
}

func bestAvailable(final, lastNonEmpty []search.Candidate) []search.Candidate {
	if len(final) > 0 {
		return final
	}
	return lastNonEmpty
}
