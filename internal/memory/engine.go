package memory

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/support-rag/backend/internal/analyzer"
	"github.com/support-rag/backend/internal/llm"
	"github.com/support-rag/backend/pkg/logger"
)

// Engine composes core and recall memory behind one load/update contract.
type Engine struct {
	core        *CoreMemory
	recall      *RecallMemory
	tokenBudget int
}

func NewEngine(core *CoreMemory, recall *RecallMemory, tokenBudget int) *Engine {
	if tokenBudget <= 0 {
		tokenBudget = 400
	}
	return &Engine{core: core, recall: recall, tokenBudget: tokenBudget}
}

// LoadContext always loads the profile and searches recall memory only when
// the analysis asks for it. Load failures leave that section empty.
func (e *Engine) LoadContext(ctx context.Context, userID, query string, analysis analyzer.Analysis) string {
	var sections []string

	if e.core != nil {
		text, err := e.core.FormatForPrompt(ctx, userID, e.tokenBudget)
		if err != nil {
			logger.Warn("Core memory load failed", zap.String("user_id", userID), zap.Error(err))
		} else if text != "" {
			sections = append(sections, text)
		}
	}

	if e.recall != nil && analysis.RequiresMemory {
		text, err := e.recall.FormatForPrompt(ctx, query, userID, e.tokenBudget)
		if err != nil {
			logger.Warn("Recall memory load failed", zap.String("user_id", userID), zap.Error(err))
		} else if text != "" {
			sections = append(sections, text)
		}
	}

	return strings.Join(sections, "\n\n")
}

// UpdateAfterConversation extracts profile facts and, given a summary, saves
// it to recall memory. Failures are logged and dropped.
func (e *Engine) UpdateAfterConversation(ctx context.Context, userID, sessionID string, turns []llm.Message, summary string) {
	if e.core != nil {
		if _, err := e.core.AutoExtract(ctx, userID, turns); err != nil {
			logger.Warn("Core memory extraction failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	if e.recall != nil && strings.TrimSpace(summary) != "" {
		if err := e.recall.Save(ctx, userID, sessionID, summary, EntrySummary); err != nil {
			logger.Warn("Recall memory save failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
}
