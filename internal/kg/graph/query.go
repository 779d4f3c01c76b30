package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/support-rag/backend/internal/storage/models"
	"github.com/support-rag/backend/pkg/logger"
)

const (
	DefaultLimit  = 10
	charsPerToken = 4
)

// EdgeStore looks up edges touching a named entity.
type EdgeStore interface {
	EdgesForEntity(ctx context.Context, name string, limit int) ([]models.GraphEdge, error)
}

type Query struct {
	store   EdgeStore
	timeout time.Duration
}

func NewQuery(store EdgeStore, timeout time.Duration) *Query {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Query{store: store, timeout: timeout}
}

// Query returns up to limit edges for the entity. Failures return an empty list.
func (q *Query) Query(ctx context.Context, entity string, limit int) []models.GraphEdge {
	entity = strings.TrimSpace(entity)
	if q == nil || q.store == nil || entity == "" {
		return nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	edges, err := q.store.EdgesForEntity(ctx, entity, limit)
	if err != nil {
		logger.Warn("Graph lookup failed", zap.String("entity", entity), zap.Error(err))
		return nil
	}
	if len(edges) > limit {
		edges = edges[:limit]
	}
	return edges
}

// FormatForPrompt renders edges as arrow lines within tokenBudget*4 characters.
func (q *Query) FormatForPrompt(ctx context.Context, entity string, tokenBudget int) string {
	edges := q.Query(ctx, entity, DefaultLimit)
	return FormatEdges(edges, tokenBudget*charsPerToken)
}

func FormatEdges(edges []models.GraphEdge, maxChars int) string {
	var b strings.Builder
	used := 0
	for _, e := range edges {
		line := fmt.Sprintf("%s --[%s]--> %s (%s)", e.SourceName, e.Relation, e.TargetName, e.TargetType)
		n := len([]rune(line))
		if used > 0 {
			n++
		}
		if used+n > maxChars {
			break
		}
		if used > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
		used += n
	}
	return b.String()
}
