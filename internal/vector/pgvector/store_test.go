package pgvector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewStoreRejectsBadTableName(t *testing.T) {
	_, err := NewStore(context.Background(), "postgres://unused", "kb; DROP TABLE x", 8)
	assert.ErrorContains(t, err, "invalid table name")
}

func TestNewStoreRejectsBadDimension(t *testing.T) {
	_, err := NewStore(context.Background(), "postgres://unused", "kb_embeddings", 0)
	assert.ErrorContains(t, err, "dimension")
}
