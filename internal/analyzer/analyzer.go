package analyzer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/support-rag/backend/internal/llm"
	"github.com/support-rag/backend/internal/metrics"
	"github.com/support-rag/backend/pkg/logger"
	"github.com/support-rag/backend/pkg/utils"
)

const (
	maxSubQueries = 3
	maxEntities   = 5
)

const systemPrompt = `You classify a customer support message. Use the conversation to resolve
pronouns and references so the standalone query can be searched without the conversation.
Return only JSON:
{
  "complexity": "simple" | "medium" | "complex",
  "intent": "greeting" | "faq" | "product_support" | "complaint" | "escalation" | "chitchat",
  "subQueries": ["..."],
  "requiresMemory": true | false,
  "requiresGraph": true | false,
  "standaloneQuery": "...",
  "entities": ["product or component names mentioned"]
}
complex means several questions at once, comparisons, or multi-step troubleshooting.
subQueries lists the separate questions of a complex message, otherwise [].
requiresMemory is true when the answer depends on what the customer said in earlier sessions.
requiresGraph is true when the answer depends on how products, parts or settings relate.`

type Analyzer struct {
	gen          llm.Generator
	timeout      time.Duration
	historyTurns int
}

func NewAnalyzer(gen llm.Generator, historyTurns int, timeout time.Duration) *Analyzer {
	if historyTurns <= 0 {
		historyTurns = 6
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Analyzer{gen: gen, timeout: timeout, historyTurns: historyTurns}
}

// Analyze classifies the utterance. It never fails: any generation or parse
// error yields the STANDARD fallback.
func (a *Analyzer) Analyze(ctx context.Context, utterance string, history []llm.Message) Analysis {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	reply, err := llm.Complete(ctx, a.gen, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   a.userPrompt(utterance, history),
		Temperature:  0.01,
		MaxTokens:    400,
	})
	if err != nil {
		logger.Warn("Query analysis failed, using fallback", zap.Error(err))
		metrics.AnalyzerFallbacks.Inc()
		return Fallback(utterance)
	}

	var raw map[string]any
	if err := llm.DecodeJSON(reply, &raw); err != nil {
		logger.Warn("Query analysis reply unparseable, using fallback", zap.Error(err))
		metrics.AnalyzerFallbacks.Inc()
		return Fallback(utterance)
	}

	analysis := fromRaw(raw, utterance)

	logger.Debug("Query analyzed",
		zap.String("complexity", analysis.Complexity),
		zap.String("intent", analysis.Intent),
		zap.String("route", string(analysis.Route)),
		zap.Int("sub_queries", len(analysis.SubQueries)),
	)
	return analysis
}

func (a *Analyzer) userPrompt(utterance string, history []llm.Message) string {
	var b strings.Builder
	if len(history) > a.historyTurns {
		history = history[len(history)-a.historyTurns:]
	}
	if len(history) > 0 {
		b.WriteString("Conversation:\n")
		for _, m := range history {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, utils.TruncateRunes(m.Content, 400))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Current message: %s", utterance)
	return b.String()
}

// fromRaw validates every field on its own and defaults the ones that are
// missing or out of domain.
func fromRaw(raw map[string]any, utterance string) Analysis {
	out := Fallback(utterance)
	out.Fallback = false

	if v, ok := enumField(raw, complexities, "complexity"); ok {
		out.Complexity = v
	}
	if v, ok := enumField(raw, intents, "intent"); ok {
		out.Intent = v
	}
	if v, ok := boolField(raw, "requiresMemory", "requires_memory"); ok {
		out.RequiresMemory = v
	}
	if v, ok := boolField(raw, "requiresGraph", "requires_graph"); ok {
		out.RequiresGraph = v
	}
	if v, ok := stringField(raw, "standaloneQuery", "standalone_query"); ok {
		out.StandaloneQuery = v
	}
	out.SubQueries = stringList(raw, maxSubQueries, "subQueries", "sub_queries")
	out.Entities = stringList(raw, maxEntities, "entities")

	out.Route = RouteFor(out.Complexity, out.Intent)
	return out
}

func lookup(raw map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func enumField(raw map[string]any, allowed map[string]bool, keys ...string) (string, bool) {
	s, ok := stringField(raw, keys...)
	if !ok {
		return "", false
	}
	s = strings.ToLower(s)
	return s, allowed[s]
}

func stringField(raw map[string]any, keys ...string) (string, bool) {
	v, ok := lookup(raw, keys...)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	s = strings.TrimSpace(s)
	return s, ok && s != ""
}

func boolField(raw map[string]any, keys ...string) (bool, bool) {
	v, ok := lookup(raw, keys...)
	if !ok {
		return false, false
	}
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	return false, false
}

func stringList(raw map[string]any, limit int, keys ...string) []string {
	out := []string{}
	v, ok := lookup(raw, keys...)
	if !ok {
		return out
	}
	items, ok := v.([]any)
	if !ok {
		return out
	}
	seen := make(map[string]bool)
	for _, it := range items {
		s, ok := it.(string)
		s = strings.TrimSpace(s)
		if !ok || s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
		if len(out) == limit {
			break
		}
	}
	return out
}
