package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/support-rag/backend/internal/llm"
	"github.com/support-rag/backend/internal/vector"
)

type fakeSearcher struct {
	neighbors []vector.Neighbor
	err       error
	calls     int
	limits    []int
}

func (f *fakeSearcher) Neighbors(ctx context.Context, embedding []float32, limit int) ([]vector.Neighbor, error) {
	f.calls++
	f.limits = append(f.limits, limit)
	return f.neighbors, f.err
}

var staticEmbedder = llm.EmbedderFunc(func(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
})

var printerKB = []Record{
	{Question: "Yazici nasil kurulur?", Answer: "Ayarlari kontrol edin"},
	{Question: "Fatura nasil odenir?", Answer: "Panelden odeme yapin"},
	{Question: "Sifremi unuttum", Answer: "Giris ekranindan sifirlayin"},
}

func TestAdaptiveTopK(t *testing.T) {
	assert.Equal(t, 3, AdaptiveTopK(10))
	assert.Equal(t, 3, AdaptiveTopK(49))
	assert.Equal(t, 5, AdaptiveTopK(50))
	assert.Equal(t, 5, AdaptiveTopK(100))
	assert.Equal(t, 7, AdaptiveTopK(500))
	assert.Equal(t, 7, AdaptiveTopK(1000))
}

func TestAdaptiveTopKMonotonicProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.IntRange(0, 100000).Draw(t, "a")
		b := rapid.IntRange(a, 100000).Draw(t, "b")
		ka, kb := AdaptiveTopK(a), AdaptiveTopK(b)
		if ka > kb {
			t.Fatalf("AdaptiveTopK(%d)=%d > AdaptiveTopK(%d)=%d", a, ka, b, kb)
		}
		if ka != 3 && ka != 5 && ka != 7 {
			t.Fatalf("unexpected K %d", ka)
		}
	})
}

func TestSearchHybridRanksSharedRecordFirst(t *testing.T) {
	vs := &fakeSearcher{neighbors: []vector.Neighbor{
		{Question: "Yazici nasil kurulur?", Answer: "Ayarlari kontrol edin", Distance: 0.12},
		{Question: "Sifremi unuttum", Answer: "Giris ekranindan sifirlayin", Distance: 0.95},
	}}
	engine := NewEngine(WithVectorSearch(staticEmbedder, vs))

	got := engine.Search(context.Background(), "yazıcı kurulumu nasıl yapılır", printerKB, 0)
	require.NotEmpty(t, got)
	assert.Equal(t, "Yazici nasil kurulur?", got[0].Question)
	require.NotNil(t, got[0].FusedScore)
	require.NotNil(t, got[0].VectorDistance)
	assert.InDelta(t, 0.12, *got[0].VectorDistance, 1e-9)
	assert.Positive(t, got[0].LexicalScore)

	for _, c := range got {
		assert.NotEqual(t, "Sifremi unuttum", c.Question, "distant neighbour must be dropped")
	}
	assert.Equal(t, []int{6}, vs.limits)
	assert.LessOrEqual(t, len(got), 3)
}

func TestSearchDuplicateRecordDoesNotOutrankSharedRecord(t *testing.T) {
	single := Record{Question: "Yazici nasil kurulur?", Answer: "Ayarlari kontrol edin"}
	shared := Record{Question: "Yazici nasil kurulur ve baglanir?", Answer: "Kabloyu takin"}
	kb := []Record{single, single, shared}

	vs := &fakeSearcher{neighbors: []vector.Neighbor{
		{Question: shared.Question, Answer: shared.Answer, Distance: 0.1},
	}}
	engine := NewEngine(WithVectorSearch(staticEmbedder, vs))

	got := engine.Search(context.Background(), "yazici nasil kurulur", kb, 0)
	require.Len(t, got, 2)
	assert.Equal(t, shared.Question, got[0].Question)
	assert.Equal(t, single.Question, got[1].Question)
	assert.Greater(t, *got[0].FusedScore, *got[1].FusedScore)
}

func TestSearchVectorFailureDegradesToLexical(t *testing.T) {
	vs := &fakeSearcher{err: errors.New("milvus down")}
	engine := NewEngine(WithVectorSearch(staticEmbedder, vs))

	got := engine.Search(context.Background(), "yazici nasil kurulur", printerKB, 0)
	require.NotEmpty(t, got)
	assert.Equal(t, 1, vs.calls)
	assert.Equal(t, "Yazici nasil kurulur?", got[0].Question)
	assert.Nil(t, got[0].FusedScore, "single-strategy ranking is used unmodified")
}

func TestSearchEmbedFailureSkipsVectorStore(t *testing.T) {
	vs := &fakeSearcher{}
	failing := llm.EmbedderFunc(func(ctx context.Context, text string) ([]float32, error) {
		return nil, errors.New("quota")
	})
	engine := NewEngine(WithVectorSearch(failing, vs))

	got := engine.Search(context.Background(), "fatura", printerKB, 0)
	require.Len(t, got, 1)
	assert.Zero(t, vs.calls)
}

func TestSearchVectorOnly(t *testing.T) {
	vs := &fakeSearcher{neighbors: []vector.Neighbor{
		{Question: "Q2", Answer: "A2", Distance: 0.4},
		{Question: "Q1", Answer: "A1", Distance: 0.3},
	}}
	engine := NewEngine(WithVectorSearch(staticEmbedder, vs))

	got := engine.Search(context.Background(), "zzz", printerKB, 0)
	require.Len(t, got, 2)
	assert.Equal(t, "Q1", got[0].Question)
	assert.Nil(t, got[0].FusedScore)
}

func TestSearchOutOfDomainReturnsEmpty(t *testing.T) {
	engine := NewEngine()
	assert.Empty(t, engine.Search(context.Background(), "uzay mekigi bileti", printerKB, 0))
}

func TestSearchFinalTruncation(t *testing.T) {
	kb := make([]Record, 0, 600)
	for i := 0; i < 600; i++ {
		kb = append(kb, Record{Question: "yazici sorunu " + string(rune('a'+i%26)) + string(rune('a'+i/26)), Answer: "x"})
	}
	engine := NewEngine()

	got := engine.Search(context.Background(), "yazici sorunu", kb, 0)
	assert.Len(t, got, 5)

	got = engine.Search(context.Background(), "yazici sorunu", kb, 20)
	assert.Len(t, got, 3)
}

func TestSearchManyMergesWithoutDuplicates(t *testing.T) {
	engine := NewEngine()

	got := engine.SearchMany(context.Background(),
		[]string{"yazici nasil kurulur", "fatura nasil odenir", "yazici"},
		printerKB, 0)

	keys := make(map[string]bool)
	for _, c := range got {
		assert.False(t, keys[c.Key()], "duplicate %s", c.Question)
		keys[c.Key()] = true
	}
	require.GreaterOrEqual(t, len(got), 2)
	assert.Equal(t, "Yazici nasil kurulur?", got[0].Question)
	assert.Equal(t, "Fatura nasil odenir?", got[1].Question)
	assert.LessOrEqual(t, len(got), 3)
}
