package knowledge

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/support-rag/backend/internal/search"
	"github.com/support-rag/backend/internal/vector"
	"github.com/support-rag/backend/pkg/logger"
)

type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type Upserter interface {
	Upsert(ctx context.Context, docs []vector.Document) error
}

const indexBatchSize = 64

// EmbeddingText is the text embedded for a record.
func EmbeddingText(r search.Record) string {
	return r.Question + "\n" + r.Answer
}

// Index embeds every record and writes it to the vector store, in batches.
// It returns the number of documents written.
func Index(ctx context.Context, records []search.Record, embedder BatchEmbedder, store Upserter) (int, error) {
	written := 0
	for start := 0; start < len(records); start += indexBatchSize {
		batch := records[start:min(start+indexBatchSize, len(records))]

		texts := make([]string, len(batch))
		for i, r := range batch {
			texts[i] = EmbeddingText(r)
		}

		embeddings, err := embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return written, fmt.Errorf("failed to embed knowledge batch: %w", err)
		}
		if len(embeddings) != len(batch) {
			return written, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(embeddings), len(batch))
		}

		docs := make([]vector.Document, len(batch))
		for i, r := range batch {
			docs[i] = vector.Document{
				ID:        vector.DocumentID(r.Question, r.Answer),
				Question:  r.Question,
				Answer:    r.Answer,
				Source:    r.Source,
				Embedding: embeddings[i],
			}
		}
		if err := store.Upsert(ctx, docs); err != nil {
			return written, fmt.Errorf("failed to upsert knowledge batch: %w", err)
		}
		written += len(docs)
	}

	logger.Info("Knowledge base indexed", zap.Int("documents", written))
	return written, nil
}
