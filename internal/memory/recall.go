package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/support-rag/backend/internal/storage/models"
)

const (
	EntrySummary = "summary"
	recallLimit  = 5
)

// RecallStore holds append-only, text-searchable conversation entries.
type RecallStore interface {
	AppendRecall(ctx context.Context, entry *models.RecallEntry) error
	SearchRecall(ctx context.Context, userID, text string, limit int) ([]models.RecallEntry, error)
}

type RecallMemory struct {
	store RecallStore
}

func NewRecallMemory(store RecallStore) *RecallMemory {
	return &RecallMemory{store: store}
}

func (r *RecallMemory) Save(ctx context.Context, userID, sessionID, content, entryType string) error {
	content = strings.TrimSpace(content)
	if userID == "" || content == "" {
		return nil
	}
	if entryType == "" {
		entryType = EntrySummary
	}

	err := r.store.AppendRecall(ctx, &models.RecallEntry{
		ID:        uuid.New().String(),
		UserID:    userID,
		SessionID: sessionID,
		Type:      entryType,
		Content:   content,
		CreatedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to save recall entry: %w", err)
	}
	return nil
}

// FormatForPrompt searches the user's entries for query and renders the
// matches within tokenBudget, tagged by type.
func (r *RecallMemory) FormatForPrompt(ctx context.Context, query, userID string, tokenBudget int) (string, error) {
	if userID == "" || strings.TrimSpace(query) == "" {
		return "", nil
	}

	entries, err := r.store.SearchRecall(ctx, userID, query, recallLimit)
	if err != nil {
		return "", fmt.Errorf("failed to search recall memory: %w", err)
	}
	if len(entries) == 0 {
		return "", nil
	}

	w := newBudgetWriter(tokenBudget)
	if !w.add("Gecmis konusmalar:") {
		return "", nil
	}
	for _, e := range entries {
		line := fmt.Sprintf("- [%s %s] %s", e.Type, e.CreatedAt.Format("2006-01-02"), e.Content)
		if !w.addBody(line) {
			break
		}
	}
	return w.String(), nil
}
