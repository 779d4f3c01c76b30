package crag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/support-rag/backend/internal/llm"
	"github.com/support-rag/backend/internal/search"
	"github.com/support-rag/backend/pkg/logger"
	"github.com/support-rag/backend/pkg/utils"
)

type Verdict string

const (
	Relevant   Verdict = "RELEVANT"
	Partial    Verdict = "PARTIAL"
	Irrelevant Verdict = "IRRELEVANT"
)

const evaluatePrompt = `You judge whether retrieved knowledge-base entries can answer a customer support question.
For every numbered entry return a verdict:
RELEVANT - answers the question directly
PARTIAL - related and partly useful
IRRELEVANT - does not help
Return only a JSON array like [{"index": 0, "verdict": "RELEVANT"}].`

const rewritePrompt = `Rewrite the customer's question so a keyword and semantic search over a support
knowledge base finds better matches. Keep the language of the question, expand abbreviations,
use the product terms a help article would use. Return only the rewritten question.`

// Evaluation partitions candidates by verdict, each list in input order.
type Evaluation struct {
	Relevant     []search.Candidate
	Partial      []search.Candidate
	Irrelevant   []search.Candidate
	Insufficient bool
	// Fallback is set when the judgment call failed and every candidate was kept.
	Fallback bool
}

// Usable returns relevant followed by partial candidates.
func (e Evaluation) Usable() []search.Candidate {
	out := make([]search.Candidate, 0, len(e.Relevant)+len(e.Partial))
	out = append(out, e.Relevant...)
	return append(out, e.Partial...)
}

type Evaluator struct {
	gen          llm.Generator
	timeout      time.Duration
	historyTurns int
}

func NewEvaluator(gen llm.Generator, timeout time.Duration) *Evaluator {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Evaluator{gen: gen, timeout: timeout, historyTurns: 4}
}

type verdictItem struct {
	Index   *int   `json:"index"`
	Verdict string `json:"verdict"`
}

// Evaluate classifies each candidate. A failed call keeps everything as relevant.
func (e *Evaluator) Evaluate(ctx context.Context, query string, results []search.Candidate) Evaluation {
	if len(results) == 0 {
		return Evaluation{Insufficient: true}
	}

	verdicts, err := e.judge(ctx, query, results)
	if err != nil {
		logger.Warn("CRAG evaluation failed, keeping all candidates", zap.Error(err))
		all := make([]search.Candidate, len(results))
		copy(all, results)
		return Evaluation{Relevant: all, Fallback: true}
	}

	var ev Evaluation
	for i, c := range results {
		switch verdicts[i] {
		case Relevant:
			ev.Relevant = append(ev.Relevant, c)
		case Irrelevant:
			ev.Irrelevant = append(ev.Irrelevant, c)
		default:
			ev.Partial = append(ev.Partial, c)
		}
	}
	ev.Insufficient = len(ev.Relevant) == 0 && len(ev.Partial) == 0

	logger.Debug("CRAG evaluation completed",
		zap.Int("relevant", len(ev.Relevant)),
		zap.Int("partial", len(ev.Partial)),
		zap.Int("irrelevant", len(ev.Irrelevant)),
	)
	return ev
}

func (e *Evaluator) judge(ctx context.Context, query string, results []search.Candidate) ([]Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nEntries:\n", query)
	for i, c := range results {
		fmt.Fprintf(&b, "[%d] Q: %s\nA: %s\n", i, c.Question, utils.TruncateRunes(c.Answer, 600))
	}

	reply, err := llm.Complete(ctx, e.gen, llm.CompletionRequest{
		SystemPrompt: evaluatePrompt,
		UserPrompt:   b.String(),
		Temperature:  0.01,
		MaxTokens:    300,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate results: %w", err)
	}

	var items []verdictItem
	if err := llm.DecodeJSON(reply, &items); err != nil {
		return nil, err
	}

	verdicts := make([]Verdict, len(results))
	for i := range verdicts {
		verdicts[i] = Partial
	}
	for _, it := range items {
		if it.Index == nil || *it.Index < 0 || *it.Index >= len(results) {
			continue
		}
		verdicts[*it.Index] = parseVerdict(it.Verdict)
	}
	return verdicts, nil
}

func parseVerdict(s string) Verdict {
	switch Verdict(strings.ToUpper(strings.TrimSpace(s))) {
	case Relevant:
		return Relevant
	case Irrelevant:
		return Irrelevant
	default:
		return Partial
	}
}

// SuggestRewrite returns a reformulated query, or query itself on failure.
func (e *Evaluator) SuggestRewrite(ctx context.Context, query string, history []llm.Message) string {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var b strings.Builder
	if recent := lastMessages(history, e.historyTurns); len(recent) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, m := range recent {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, utils.TruncateRunes(m.Content, 300))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Question: %s", query)

	reply, err := llm.Complete(ctx, e.gen, llm.CompletionRequest{
		SystemPrompt: rewritePrompt,
		UserPrompt:   b.String(),
		Temperature:  0.3,
		MaxTokens:    100,
	})
	if err != nil {
		logger.Warn("CRAG rewrite failed, keeping query", zap.Error(err))
		return query
	}

	rewritten := cleanRewrite(reply)
	if rewritten == "" {
		return query
	}
	return rewritten
}

func cleanRewrite(reply string) string {
	s := llm.StripFences(reply)
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[:nl]
	}
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), "\"'`“”‘’"))
}

func lastMessages(history []llm.Message, n int) []llm.Message {
	if len(history) > n {
		return history[len(history)-n:]
	}
	return history
}
