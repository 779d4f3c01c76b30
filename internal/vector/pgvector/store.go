package pgvector

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgv "github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/support-rag/backend/internal/vector"
	"github.com/support-rag/backend/pkg/logger"
)

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Store keeps knowledge-base embeddings in a Postgres table with a pgvector
// column, searched by cosine distance.
type Store struct {
	pool      *pgxpool.Pool
	table     string
	dimension int
}

var _ vector.Store = (*Store)(nil)

func NewStore(ctx context.Context, dsn, table string, dimension int) (*Store, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	logger.Info("pgvector store initialized", zap.String("table", table), zap.Int("dim", dimension))

	return &Store{pool: pool, table: table, dimension: dimension}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			question TEXT NOT NULL,
			answer TEXT NOT NULL,
			source TEXT,
			embedding VECTOR(%d) NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, s.table, s.dimension),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_embedding ON %s USING ivfflat (embedding vector_cosine_ops)", s.table, s.table),
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, question, answer, source, embedding, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE SET
			question = EXCLUDED.question,
			answer = EXCLUDED.answer,
			source = EXCLUDED.source,
			embedding = EXCLUDED.embedding,
			updated_at = NOW()
	`, s.table)

	batch := &pgx.Batch{}
	for _, doc := range docs {
		if len(doc.Embedding) != s.dimension {
			return fmt.Errorf("embedding dim %d does not match table dim %d", len(doc.Embedding), s.dimension)
		}
		id := doc.ID
		if id == "" {
			id = vector.DocumentID(doc.Question, doc.Answer)
		}
		batch.Queue(query, id, doc.Question, doc.Answer, doc.Source, pgv.NewVector(doc.Embedding))
	}

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to upsert records: %w", err)
	}

	logger.Info("Records upserted into pgvector", zap.Int("count", len(docs)))
	return nil
}

func (s *Store) Neighbors(ctx context.Context, embedding []float32, limit int) ([]vector.Neighbor, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("embedding is empty")
	}
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT question, answer, COALESCE(source, ''), (embedding <=> $1::vector) AS distance
		FROM %s
		ORDER BY embedding <=> $1::vector
		LIMIT $2
	`, s.table), pgv.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query neighbors: %w", err)
	}
	defer rows.Close()

	neighbors := make([]vector.Neighbor, 0, limit)
	for rows.Next() {
		var n vector.Neighbor
		if err := rows.Scan(&n.Question, &n.Answer, &n.Source, &n.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan neighbor: %w", err)
		}
		neighbors = append(neighbors, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return neighbors, nil
}
