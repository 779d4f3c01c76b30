package zilliz

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/support-rag/backend/internal/vector"
	"github.com/support-rag/backend/pkg/logger"
	"github.com/support-rag/backend/pkg/utils"
)

const (
	maxQuestionRunes = 500
	maxAnswerRunes   = 4000
)

// Client stores knowledge-base records in a Milvus/Zilliz collection. Vectors
// are normalised and searched by inner product, so distance = 1 - IP.
type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

var _ vector.Store = (*Client)(nil)

func NewClient(ctx context.Context, endpoint, apiKey, collectionName string, vectorDim int) (*Client, error) {
	c, err := client.NewClient(ctx, client.Config{
		Address: endpoint,
		APIKey:  apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Zilliz/Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (z *Client) Close() error {
	return z.client.Close()
}

func (z *Client) CreateCollection(ctx context.Context) error {
	has, err := z.client.HasCollection(ctx, z.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		logger.Info("Collection already exists", zap.String("collection", z.collectionName))
		return z.client.LoadCollection(ctx, z.collectionName, false)
	}

	schema := &entity.Schema{
		CollectionName: z.collectionName,
		Description:    "Support knowledge base embeddings",
		Fields: []*entity.Field{
			{
				Name:       "record_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       "embedding",
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": fmt.Sprintf("%d", z.vectorDim)},
			},
			{
				Name:       "question",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "2048"},
			},
			{
				Name:       "answer",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "16384"},
			},
			{
				Name:       "source",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "512"},
			},
		},
	}

	err = z.client.CreateCollection(ctx, schema, entity.DefaultShardNumber)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.IP, 128)
	if err != nil {
		return fmt.Errorf("failed to build index params: %w", err)
	}
	err = z.client.CreateIndex(ctx, z.collectionName, "embedding", idx, false)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	err = z.client.LoadCollection(ctx, z.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", z.collectionName))

	return nil
}

func (z *Client) Upsert(ctx context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}

	ids := make([]string, len(docs))
	embeddings := make([][]float32, len(docs))
	questions := make([]string, len(docs))
	answers := make([]string, len(docs))
	sources := make([]string, len(docs))

	for i, doc := range docs {
		if len(doc.Embedding) != z.vectorDim {
			return fmt.Errorf("embedding dim %d does not match collection dim %d", len(doc.Embedding), z.vectorDim)
		}
		ids[i] = doc.ID
		if ids[i] == "" {
			ids[i] = vector.DocumentID(doc.Question, doc.Answer)
		}
		embeddings[i] = vector.Normalize(doc.Embedding)
		questions[i] = utils.TruncateRunes(doc.Question, maxQuestionRunes)
		answers[i] = utils.TruncateRunes(doc.Answer, maxAnswerRunes)
		sources[i] = utils.TruncateRunes(doc.Source, 120)
	}

	_, err := z.client.Upsert(
		ctx,
		z.collectionName,
		"",
		entity.NewColumnVarChar("record_id", ids),
		entity.NewColumnFloatVector("embedding", z.vectorDim, embeddings),
		entity.NewColumnVarChar("question", questions),
		entity.NewColumnVarChar("answer", answers),
		entity.NewColumnVarChar("source", sources),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert records: %w", err)
	}

	err = z.client.Flush(ctx, z.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Records upserted into vector DB", zap.Int("count", len(docs)))

	return nil
}

func (z *Client) Neighbors(ctx context.Context, embedding []float32, limit int) ([]vector.Neighbor, error) {
	if limit <= 0 {
		return nil, nil
	}

	sp, err := entity.NewIndexIvfFlatSearchParam(16)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	searchResult, err := z.client.Search(
		ctx,
		z.collectionName,
		[]string{},
		"",
		[]string{"question", "answer", "source"},
		[]entity.Vector{entity.FloatVector(vector.Normalize(embedding))},
		"embedding",
		entity.IP,
		limit,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	neighbors := make([]vector.Neighbor, 0, limit)
	for _, sr := range searchResult {
		questionCol := sr.Fields.GetColumn("question")
		answerCol := sr.Fields.GetColumn("answer")
		sourceCol := sr.Fields.GetColumn("source")
		if questionCol == nil || answerCol == nil {
			return nil, fmt.Errorf("search result missing output fields")
		}

		for i := 0; i < sr.ResultCount; i++ {
			question := columnString(questionCol, i)
			answer := columnString(answerCol, i)
			var source string
			if sourceCol != nil {
				source = columnString(sourceCol, i)
			}

			neighbors = append(neighbors, vector.Neighbor{
				Question: question,
				Answer:   answer,
				Source:   source,
				Distance: 1 - float64(sr.Scores[i]),
			})
		}
	}

	logger.Debug("Vector search completed",
		zap.Int("limit", limit),
		zap.Int("results", len(neighbors)),
	)

	return neighbors, nil
}

func columnString(col entity.Column, i int) string {
	v, err := col.Get(i)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}
