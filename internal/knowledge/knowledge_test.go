package knowledge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/support-rag/backend/internal/search"
	"github.com/support-rag/backend/internal/vector"
)

func TestParseYAMLForms(t *testing.T) {
	list := []byte("- question: Yazici nasil kurulur?\n  answer: Surucuyu yukleyin.\n")
	recs, err := Parse(list, ".yaml")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Yazici nasil kurulur?", recs[0].Question)

	wrapped := []byte("records:\n  - question: q\n    answer: a\n    source: faq\n")
	recs, err = Parse(wrapped, ".yml")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "faq", recs[0].Source)
}

func TestParseJSONForms(t *testing.T) {
	recs, err := Parse([]byte(`[{"question":"q","answer":"a"}]`), ".json")
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	recs, err = Parse([]byte(`{"records":[{"question":"q","answer":"a"},{"question":"q2","answer":"a2"}]}`), ".JSON")
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	_, err = Parse([]byte(`{not json`), ".json")
	assert.Error(t, err)
}

func TestCleanStripsMarkupAndDedupes(t *testing.T) {
	recs := Clean([]search.Record{
		{Question: "  Fatura   nerede? ", Answer: "<p>Hesabim <b>sayfasinda</b></p><script>x()</script>"},
		{Question: "Fatura nerede?", Answer: "Hesabim sayfasinda"},
		{Question: "", Answer: "orphan"},
		{Question: "no answer", Answer: "   "},
	})
	require.Len(t, recs, 1)
	assert.Equal(t, "Fatura nerede?", recs[0].Question)
	assert.Equal(t, "Hesabim sayfasinda", recs[0].Answer)
}

func TestLoadAndSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- question: q\n  answer: a\n"), 0o600))

	base, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, base.Size())

	snap := base.Snapshot()
	snap[0].Answer = "mutated"
	assert.Equal(t, "a", base.Snapshot()[0].Answer)

	require.NoError(t, os.WriteFile(path, []byte("- question: q\n  answer: a\n- question: q2\n  answer: a2\n"), 0o600))
	require.NoError(t, base.Reload())
	assert.Equal(t, 2, base.Size())
	assert.Len(t, snap, 1)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	assert.Error(t, NewBase(nil).Reload())
}

type fakeEmbedder struct {
	calls int
	err   error
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 1}
	}
	return out, nil
}

type fakeStore struct {
	docs []vector.Document
}

func (f *fakeStore) Upsert(ctx context.Context, docs []vector.Document) error {
	f.docs = append(f.docs, docs...)
	return nil
}

func TestIndexBatches(t *testing.T) {
	records := make([]search.Record, 0, 130)
	for i := 0; i < 130; i++ {
		records = append(records, search.Record{Question: "q" + string(rune('a'+i%26)), Answer: "a"})
	}
	emb := &fakeEmbedder{}
	store := &fakeStore{}

	n, err := Index(context.Background(), records, emb, store)
	require.NoError(t, err)
	assert.Equal(t, 130, n)
	assert.Equal(t, 3, emb.calls)
	require.Len(t, store.docs, 130)
	assert.Equal(t, vector.DocumentID("qa", "a"), store.docs[0].ID)
	assert.Equal(t, "qa", store.docs[0].Question)
}

func TestIndexEmbedFailure(t *testing.T) {
	emb := &fakeEmbedder{err: errors.New("down")}
	n, err := Index(context.Background(), []search.Record{{Question: "q", Answer: "a"}}, emb, &fakeStore{})
	assert.Error(t, err)
	assert.Equal(t, 0, n)
}
