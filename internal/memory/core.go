package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/support-rag/backend/internal/llm"
	"github.com/support-rag/backend/internal/storage/models"
	"github.com/support-rag/backend/pkg/logger"
	"github.com/support-rag/backend/pkg/utils"
)

// ProfileStore is a durable per-user key/value profile.
type ProfileStore interface {
	UpsertFact(ctx context.Context, userID, key, value string) error
	GetProfile(ctx context.Context, userID string) ([]models.CoreFact, error)
}

// Fact keys, in prompt order, with their labels.
var factKeys = []struct {
	key   string
	label string
}{
	{"name", "Ad"},
	{"company", "Firma"},
	{"branch", "Sube"},
	{"phone", "Telefon"},
	{"issue_history", "Gecmis sorunlar"},
	{"preferences", "Tercihler"},
}

const extractPrompt = `Extract durable facts about the customer from the conversation.
Return only a JSON object with any of these keys: name, branch, phone, company, issue_history, preferences.
Use short plain strings. Leave out keys you do not know; never guess.`

type CoreMemory struct {
	store    ProfileStore
	gen      llm.Generator
	timeout  time.Duration
	maxTurns int
}

func NewCoreMemory(store ProfileStore, gen llm.Generator, maxTurns int, timeout time.Duration) *CoreMemory {
	if maxTurns <= 0 {
		maxTurns = 10
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &CoreMemory{store: store, gen: gen, timeout: timeout, maxTurns: maxTurns}
}

// AutoExtract pulls profile facts from the last turns and upserts every
// non-empty value. It returns the number of keys written.
func (c *CoreMemory) AutoExtract(ctx context.Context, userID string, turns []llm.Message) (int, error) {
	if userID == "" || len(turns) == 0 {
		return 0, nil
	}
	if len(turns) > c.maxTurns {
		turns = turns[len(turns)-c.maxTurns:]
	}

	var b strings.Builder
	for _, m := range turns {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, utils.TruncateRunes(m.Content, 500))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reply, err := llm.Complete(ctx, c.gen, llm.CompletionRequest{
		SystemPrompt: extractPrompt,
		UserPrompt:   b.String(),
		Temperature:  0.01,
		MaxTokens:    300,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to extract facts: %w", err)
	}

	var raw map[string]any
	if err := llm.DecodeJSON(reply, &raw); err != nil {
		return 0, err
	}

	written := 0
	var errs []error
	for _, fk := range factKeys {
		value := factValue(raw[fk.key])
		if value == "" {
			continue
		}
		if err := c.store.UpsertFact(ctx, userID, fk.key, value); err != nil {
			logger.Warn("Failed to store core fact",
				zap.String("user_id", userID),
				zap.String("key", fk.key),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("failed to store fact %s: %w", fk.key, err))
			continue
		}
		written++
	}
	if len(errs) > 0 {
		return written, errors.Join(errs...)
	}

	logger.Debug("Core memory extracted", zap.String("user_id", userID), zap.Int("facts", written))
	return written, nil
}

func factValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64, bool:
		return fmt.Sprint(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			if s := factValue(p); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		return ""
	}
}

// FormatForPrompt renders the profile as labeled lines within tokenBudget.
func (c *CoreMemory) FormatForPrompt(ctx context.Context, userID string, tokenBudget int) (string, error) {
	if userID == "" {
		return "", nil
	}

	facts, err := c.store.GetProfile(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to load profile: %w", err)
	}
	if len(facts) == 0 {
		return "", nil
	}

	byKey := make(map[string]string, len(facts))
	for _, f := range facts {
		byKey[f.Key] = f.Value
	}

	w := newBudgetWriter(tokenBudget)
	if !w.add("Musteri profili:") {
		return "", nil
	}
	for _, fk := range factKeys {
		v, ok := byKey[fk.key]
		if !ok || v == "" {
			continue
		}
		if !w.addBody("- " + fk.label + ": " + v) {
			break
		}
	}
	return w.String(), nil
}
