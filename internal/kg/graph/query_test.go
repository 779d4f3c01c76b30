package graph

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/support-rag/backend/internal/storage/models"
)

type edgeStoreFunc func(ctx context.Context, name string, limit int) ([]models.GraphEdge, error)

func (f edgeStoreFunc) EdgesForEntity(ctx context.Context, name string, limit int) ([]models.GraphEdge, error) {
	return f(ctx, name, limit)
}

var printerEdges = []models.GraphEdge{
	{SourceName: "X200", SourceType: "product", Relation: "USES", TargetName: "TN-2420", TargetType: "toner"},
	{SourceName: "X200", SourceType: "product", Relation: "SUPPORTS", TargetName: "WiFi Direct", TargetType: "feature"},
}

func TestQueryPassesLimit(t *testing.T) {
	var gotLimit int
	q := NewQuery(edgeStoreFunc(func(ctx context.Context, name string, limit int) ([]models.GraphEdge, error) {
		gotLimit = limit
		assert.Equal(t, "X200", name)
		return printerEdges, nil
	}), 0)

	edges := q.Query(context.Background(), " X200 ", 0)
	assert.Len(t, edges, 2)
	assert.Equal(t, DefaultLimit, gotLimit)
}

func TestQueryFailureReturnsEmpty(t *testing.T) {
	q := NewQuery(edgeStoreFunc(func(ctx context.Context, name string, limit int) ([]models.GraphEdge, error) {
		return nil, errors.New("neo4j unavailable")
	}), 0)
	assert.Empty(t, q.Query(context.Background(), "X200", 5))

	var nilQuery *Query
	assert.Empty(t, nilQuery.Query(context.Background(), "X200", 5))
	assert.Empty(t, NewQuery(nil, 0).FormatForPrompt(context.Background(), "X200", 100))
}

func TestFormatForPrompt(t *testing.T) {
	q := NewQuery(edgeStoreFunc(func(ctx context.Context, name string, limit int) ([]models.GraphEdge, error) {
		return printerEdges, nil
	}), 0)

	text := q.FormatForPrompt(context.Background(), "X200", 300)
	require.Equal(t, "X200 --[USES]--> TN-2420 (toner)\nX200 --[SUPPORTS]--> WiFi Direct (feature)", text)

	text = q.FormatForPrompt(context.Background(), "X200", 10)
	assert.Equal(t, "X200 --[USES]--> TN-2420 (toner)", text)
	assert.LessOrEqual(t, len(text), 40)

	assert.Empty(t, q.FormatForPrompt(context.Background(), "X200", 1))
}

func TestFormatEdgesNeverExceedsBudget(t *testing.T) {
	edges := make([]models.GraphEdge, 50)
	for i := range edges {
		edges[i] = models.GraphEdge{SourceName: "A", Relation: "R", TargetName: strings.Repeat("b", i), TargetType: "t"}
	}
	for _, budget := range []int{0, 10, 57, 400, 5000} {
		assert.LessOrEqual(t, len(FormatEdges(edges, budget)), budget)
	}
}
