package search

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/support-rag/backend/internal/llm"
	"github.com/support-rag/backend/internal/metrics"
	"github.com/support-rag/backend/internal/vector"
	"github.com/support-rag/backend/pkg/logger"
)

const (
	// MaxVectorDistance drops neighbours that are nearest but still unrelated.
	MaxVectorDistance = 0.8
	maxFinalResults   = 5
)

// AdaptiveTopK sizes retrieval to the knowledge base.
func AdaptiveTopK(kbSize int) int {
	switch {
	case kbSize < 50:
		return 3
	case kbSize < 500:
		return 5
	default:
		return 7
	}
}

// Engine runs lexical and, when configured, vector retrieval and fuses them.
type Engine struct {
	embedder llm.Embedder
	vectors  vector.Searcher
	timeout  time.Duration
}

type Option func(*Engine)

func WithVectorSearch(embedder llm.Embedder, vectors vector.Searcher) Option {
	return func(e *Engine) {
		e.embedder = embedder
		e.vectors = vectors
	}
}

func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{timeout: 10 * time.Second}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) vectorEnabled() bool {
	return e.embedder != nil && e.vectors != nil
}

// Search retrieves candidates for one query. kbSize drives the adaptive K and
// falls back to len(kb) when unset.
func (e *Engine) Search(ctx context.Context, query string, kb []Record, kbSize int) []Candidate {
	k := AdaptiveTopK(sizeOf(kb, kbSize))
	results := e.search(ctx, query, kb, k)
	return truncate(results, min(k, maxFinalResults))
}

// SearchMany searches each query in order and merges the lists round-robin,
// de-duplicated by identity.
func (e *Engine) SearchMany(ctx context.Context, queries []string, kb []Record, kbSize int) []Candidate {
	k := AdaptiveTopK(sizeOf(kb, kbSize))
	limit := min(k, maxFinalResults)

	var lists [][]Candidate
	for _, q := range queries {
		if q == "" {
			continue
		}
		lists = append(lists, truncate(e.search(ctx, q, kb, k), limit))
	}

	seen := make(map[string]bool)
	var merged []Candidate
	for rank := 0; len(merged) < limit; rank++ {
		progressed := false
		for _, list := range lists {
			if rank >= len(list) {
				continue
			}
			progressed = true
			c := list[rank]
			if seen[c.Key()] {
				continue
			}
			seen[c.Key()] = true
			merged = append(merged, c)
			if len(merged) == limit {
				break
			}
		}
		if !progressed {
			break
		}
	}
	return merged
}

func (e *Engine) search(ctx context.Context, query string, kb []Record, k int) []Candidate {
	lexical := LexicalSearch(query, kb, 2*k)
	vectorResults := e.vectorSearch(ctx, query, 2*k)

	switch {
	case len(lexical) > 0 && len(vectorResults) > 0:
		metrics.SearchStrategy.WithLabelValues("hybrid").Inc()
		return Fuse(lexical, vectorResults)
	case len(lexical) > 0:
		metrics.SearchStrategy.WithLabelValues("lexical").Inc()
		return lexical
	case len(vectorResults) > 0:
		metrics.SearchStrategy.WithLabelValues("vector").Inc()
		return vectorResults
	default:
		metrics.SearchStrategy.WithLabelValues("none").Inc()
		return nil
	}
}

// vectorSearch never fails the turn; any error degrades to lexical-only.
func (e *Engine) vectorSearch(ctx context.Context, query string, limit int) []Candidate {
	if !e.vectorEnabled() || query == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	embedding, err := e.embedder.Embed(ctx, query)
	if err != nil {
		logger.Warn("Query embedding failed, using lexical search only", zap.Error(err))
		return nil
	}

	neighbors, err := e.vectors.Neighbors(ctx, embedding, limit)
	if err != nil {
		logger.Warn("Vector search failed, using lexical search only", zap.Error(err))
		return nil
	}

	out := make([]Candidate, 0, len(neighbors))
	for _, n := range neighbors {
		if n.Distance > MaxVectorDistance {
			continue
		}
		out = append(out, Candidate{
			Question:       n.Question,
			Answer:         n.Answer,
			Source:         n.Source,
			VectorDistance: Float(n.Distance),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return *out[i].VectorDistance < *out[j].VectorDistance
	})
	return out
}

func sizeOf(kb []Record, kbSize int) int {
	if kbSize > 0 {
		return kbSize
	}
	return len(kb)
}

func truncate(c []Candidate, n int) []Candidate {
	if len(c) > n {
		return c[:n]
	}
	return c
}
