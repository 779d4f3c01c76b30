package rerank

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/support-rag/backend/internal/llm"
)

const llmRerankPrompt = `You score how well each numbered document answers the user's question.
Return only a JSON array like [{"index": 0, "score": 0.85}], one entry per document,
with score between 0 and 1. 1 means the document fully answers the question.`

// LLMScorer asks the generation model for {index, score} pairs.
type LLMScorer struct {
	gen     llm.Generator
	timeout time.Duration
}

var _ Scorer = (*LLMScorer)(nil)

func NewLLMScorer(gen llm.Generator, timeout time.Duration) *LLMScorer {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &LLMScorer{gen: gen, timeout: timeout}
}

type indexScore struct {
	Index *int     `json:"index"`
	Score *float64 `json:"score"`
}

func (s *LLMScorer) Score(ctx context.Context, query string, docs []string) ([]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nDocuments:\n", query)
	for i, d := range docs {
		fmt.Fprintf(&b, "[%d] %s\n", i, d)
	}

	reply, err := llm.Complete(ctx, s.gen, llm.CompletionRequest{
		SystemPrompt: llmRerankPrompt,
		UserPrompt:   b.String(),
		Temperature:  0.01,
		MaxTokens:    300,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to score documents: %w", err)
	}

	var pairs []indexScore
	if err := llm.DecodeJSON(reply, &pairs); err != nil {
		return nil, err
	}

	scores := make([]float64, len(docs))
	mapped := 0
	for _, p := range pairs {
		if p.Index == nil || p.Score == nil || *p.Index < 0 || *p.Index >= len(docs) {
			continue
		}
		scores[*p.Index] = clamp01(*p.Score)
		mapped++
	}
	if mapped == 0 {
		return nil, fmt.Errorf("model returned no usable scores")
	}
	return scores, nil
}
