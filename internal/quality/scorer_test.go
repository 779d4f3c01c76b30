package quality

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/support-rag/backend/internal/llm"
	"github.com/support-rag/backend/internal/search"
	"github.com/support-rag/backend/internal/storage/models"
	"github.com/support-rag/backend/internal/storage/sqlite"
)

func gradeGen(reply string, err error) llm.Generator {
	return llm.GeneratorFunc(func(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
		if err != nil {
			return nil, err
		}
		return &llm.GenerateResponse{Reply: reply}, nil
	})
}

func newStore(t *testing.T) *sqlite.Client {
	t.Helper()
	db, err := sqlite.NewClient(filepath.Join(t.TempDir(), "quality.db"))
	require.NoError(t, err)
	require.NoError(t, db.InitSchema())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func scored(scores ...float64) []search.Candidate {
	out := make([]search.Candidate, len(scores))
	for i, s := range scores {
		out[i] = search.Candidate{Question: fmt.Sprint(i), Answer: "a", RerankScore: search.Float(s)}
	}
	return out
}

func TestConfidence(t *testing.T) {
	assert.Equal(t, 0.1, Confidence(0.9, 0))
	assert.InDelta(t, 0.3, Confidence(0.9, 1), 1e-12)
	assert.InDelta(t, 0.9, Confidence(0.9, 3), 1e-12)
	assert.InDelta(t, 0.9, Confidence(0.9, 5), 1e-12)
	assert.Zero(t, Confidence(0, 2))
}

func TestConfidenceMonotonicProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		avg := rapid.Float64Range(0.01, 0.98).Draw(t, "avg")
		count := rapid.IntRange(1, 2).Draw(t, "count")
		base := Confidence(avg, count)
		if Confidence(avg+0.01, count) <= base {
			t.Fatalf("not increasing in avg at %.3f", avg)
		}
		if Confidence(avg, count+1) <= base {
			t.Fatalf("not increasing in coverage at count %d", count)
		}
	})
}

func TestIsLowQuality(t *testing.T) {
	f := func(v float64) *float64 { return &v }

	assert.False(t, IsLowQuality(nil, f(0), 0), "no faithfulness, no verdict")
	assert.True(t, IsLowQuality(f(0.2), f(0.4), 0.3))
	assert.False(t, IsLowQuality(f(0.9), f(0.8), 0.1))
	assert.True(t, IsLowQuality(f(0.5), nil, 0.4))
}

func TestScoreGradesAndPersists(t *testing.T) {
	store := newStore(t)
	s := NewScorer(store, gradeGen(`{"faithfulness": 0.9, "relevancy": 0.8}`, nil), 0)

	got := s.Score(context.Background(), Input{
		Query: "q", Answer: "a", RagResults: scored(0.6, 0.9, 0.9), SessionID: "s1", MessageID: "m1",
	})
	require.NotNil(t, got.Faithfulness)
	assert.InDelta(t, 0.9, *got.Faithfulness, 1e-12)
	assert.InDelta(t, 0.8, got.AvgRerankScore, 1e-12)
	assert.InDelta(t, 0.8, got.Confidence, 1e-12)
	assert.False(t, got.IsLowQuality)

	rows, err := store.RecentQualityScores(context.Background(), "s1", 5)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "m1", rows[0].MessageID)
}

func TestScoreGradingFailureLeavesNulls(t *testing.T) {
	s := NewScorer(newStore(t), gradeGen("", errors.New("timeout")), 0)

	got := s.Score(context.Background(), Input{Query: "q", Answer: "a", SessionID: "s1", MessageID: "m1"})
	assert.Nil(t, got.Faithfulness)
	assert.Nil(t, got.Relevancy)
	assert.Equal(t, 0.1, got.Confidence)
	assert.False(t, got.IsLowQuality)
}

func TestScoreOutOfRangeGradeIsNull(t *testing.T) {
	s := NewScorer(nil, gradeGen(`{"faithfulness": 7, "relevancy": 0.2}`, nil), 0)

	got := s.Score(context.Background(), Input{Query: "q", Answer: "a", SessionID: "s1", MessageID: "m1"})
	assert.Nil(t, got.Faithfulness)
	require.NotNil(t, got.Relevancy)
	assert.False(t, got.IsLowQuality)
}

type failingStore struct{}

func (failingStore) InsertQualityScore(ctx context.Context, score *models.QualityScore) error {
	return errors.New("database is locked")
}

func (failingStore) RecentQualityScores(ctx context.Context, sessionID string, limit int) ([]models.QualityScore, error) {
	return nil, errors.New("database is locked")
}

func TestScoreSurvivesPersistenceFailure(t *testing.T) {
	s := NewScorer(failingStore{}, gradeGen(`{"faithfulness": 0.1, "relevancy": 0.1}`, nil), 0)

	got := s.Score(context.Background(), Input{Query: "q", Answer: "a", SessionID: "s1", MessageID: "m1"})
	assert.True(t, got.IsLowQuality)
	assert.Zero(t, s.ConsecutiveLowCount(context.Background(), "s1"))
}

func TestConsecutiveLowCountScenario(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	low := NewScorer(store, gradeGen(`{"faithfulness": 0.1, "relevancy": 0.2}`, nil), 0)
	good := NewScorer(store, gradeGen(`{"faithfulness": 0.95, "relevancy": 0.9}`, nil), 0)
	ungraded := NewScorer(store, gradeGen("", errors.New("timeout")), 0)

	evidence := scored(0.9, 0.9, 0.9)
	turn := 0
	next := func(s *Scorer) {
		turn++
		s.Score(ctx, Input{Query: "q", Answer: "a", RagResults: evidence, SessionID: "s1", MessageID: fmt.Sprintf("m%d", turn)})
	}

	next(low)
	next(low)
	assert.Equal(t, 2, low.ConsecutiveLowCount(ctx, "s1"))

	next(low)
	assert.Equal(t, 3, low.ConsecutiveLowCount(ctx, "s1"))

	next(good)
	assert.Equal(t, 0, low.ConsecutiveLowCount(ctx, "s1"))

	next(low)
	next(ungraded)
	assert.Equal(t, 0, low.ConsecutiveLowCount(ctx, "s1"), "an ungraded turn stops the count")

	assert.Equal(t, 0, low.ConsecutiveLowCount(ctx, "other-session"))
}
