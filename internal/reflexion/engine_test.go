package reflexion

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/support-rag/backend/internal/llm"
	"github.com/support-rag/backend/internal/storage/models"
	"github.com/support-rag/backend/internal/storage/sqlite"
)

func newStore(t *testing.T) *sqlite.Client {
	t.Helper()
	db, err := sqlite.NewClient(filepath.Join(t.TempDir(), "reflexion.db"))
	require.NoError(t, err)
	require.NoError(t, db.InitSchema())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func replyGen(reply string, err error) llm.Generator {
	return llm.GeneratorFunc(func(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
		if err != nil {
			return nil, err
		}
		return &llm.GenerateResponse{Reply: reply}, nil
	})
}

func TestAnalyzeStoresLesson(t *testing.T) {
	store := newStore(t)
	e := NewEngine(store, replyGen(`{"topic":"yazici kurulumu","errorType":"wrong_info","analysis":"Yanlis surucu linki verildi","correctInfo":"Uretici sitesindeki surucuyu kullanin"}`, nil), 0)

	log := e.Analyze(context.Background(), Input{SessionID: "s1", Query: "yazici nasil kurulur", Answer: "..."})
	require.NotNil(t, log)
	assert.Equal(t, models.ErrorWrongInfo, log.ErrorType)

	found, err := store.SearchReflexions(context.Background(), "yazici", 3)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, log.ID, found[0].ID)
}

func TestAnalyzeDefaultsUnknownErrorType(t *testing.T) {
	e := NewEngine(newStore(t), replyGen(`{"topic":"fatura","errorType":"rude","analysis":"Eksik bilgi"}`, nil), 0)

	log := e.Analyze(context.Background(), Input{SessionID: "s1", Query: "fatura"})
	require.NotNil(t, log)
	assert.Equal(t, models.ErrorIncomplete, log.ErrorType)
	assert.Empty(t, log.CorrectInfo)
}

func TestAnalyzeFailureDropsEvent(t *testing.T) {
	store := newStore(t)
	for _, gen := range []llm.Generator{
		replyGen("", errors.New("timeout")),
		replyGen("no json here", nil),
		replyGen(`{"topic":"x","analysis":""}`, nil),
	} {
		assert.Nil(t, NewEngine(store, gen, 0).Analyze(context.Background(), Input{SessionID: "s1", Query: "q"}))
	}

	found, err := store.SearchReflexions(context.Background(), "x", 3)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestGetWarningsDeduplicatesAndCaps(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	for _, l := range []models.ReflexionLog{
		{ID: "1", Topic: "yazici kurulumu", ErrorType: models.ErrorWrongInfo, Analysis: "Surucu linki yanlisti", CorrectInfo: "Uretici sitesi"},
		{ID: "2", Topic: "yazici kagit", ErrorType: models.ErrorIncomplete, Analysis: "Kagit sikismasi adimlari eksikti"},
		{ID: "3", Topic: "fatura", ErrorType: models.ErrorIncomplete, Analysis: "Iade suresi belirtilmedi"},
		{ID: "4", Topic: "sifre", ErrorType: models.ErrorToneIssue, Analysis: "Yanit kabaydi"},
	} {
		l := l
		require.NoError(t, store.InsertReflexion(ctx, &l))
	}

	e := NewEngine(store, nil, 0)

	text := e.GetWarnings(ctx, "yazici", WarningOptions{StandaloneQuery: "yazici fatura"})
	assert.Equal(t, 3, strings.Count(text, "DIKKAT: "))
	assert.Contains(t, text, "DIKKAT: Surucu linki yanlisti\nDogru bilgi: Uretici sitesi")

	text = e.GetWarnings(ctx, "yazici", WarningOptions{StandaloneQuery: "YAZICI", Limit: 1})
	assert.Equal(t, 1, strings.Count(text, "DIKKAT: "))

	assert.Empty(t, e.GetWarnings(ctx, "", WarningOptions{}))
	assert.Empty(t, e.GetWarnings(ctx, "kargo", WarningOptions{}))
}

type countingStore struct {
	*sqlite.Client
	searches []string
}

func (c *countingStore) SearchReflexions(ctx context.Context, text string, limit int) ([]models.ReflexionLog, error) {
	c.searches = append(c.searches, text)
	return c.Client.SearchReflexions(ctx, text, limit)
}

func TestGetWarningsSearchesAtMostTwice(t *testing.T) {
	store := &countingStore{Client: newStore(t)}
	e := NewEngine(store, nil, 0)

	e.GetWarnings(context.Background(), "fatura", WarningOptions{StandaloneQuery: "fatura iadesi"})
	assert.Equal(t, []string{"fatura", "fatura iadesi"}, store.searches)

	store.searches = nil
	e.GetWarnings(context.Background(), "fatura", WarningOptions{StandaloneQuery: "Fatura"})
	assert.Equal(t, []string{"fatura"}, store.searches)
}
