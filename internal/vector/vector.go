package vector

import (
	"context"
	"math"

	"github.com/support-rag/backend/pkg/utils"
)

// Document is one knowledge-base record with its embedding.
type Document struct {
	ID        string
	Question  string
	Answer    string
	Source    string
	Embedding []float32
}

// Neighbor is a stored record returned by a similarity lookup. Distance is
// cosine distance in [0,2], smaller is closer.
type Neighbor struct {
	Question string
	Answer   string
	Source   string
	Distance float64
}

type Searcher interface {
	Neighbors(ctx context.Context, embedding []float32, limit int) ([]Neighbor, error)
}

type Store interface {
	Searcher
	Upsert(ctx context.Context, docs []Document) error
	Close() error
}

// DocumentID derives a stable id from the record identity.
func DocumentID(question, answer string) string {
	return utils.HashParts(question, answer)[:32]
}

// Normalize returns a unit-length copy of v; the zero vector is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		copy(out, v)
		return out
	}
	norm := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
