package reflexion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/support-rag/backend/internal/llm"
	"github.com/support-rag/backend/internal/metrics"
	"github.com/support-rag/backend/internal/search"
	"github.com/support-rag/backend/internal/storage/models"
	"github.com/support-rag/backend/pkg/logger"
	"github.com/support-rag/backend/pkg/utils"
)

const DefaultWarningLimit = 3

const analyzePrompt = `A customer said the support answer below did not help. Find out what went wrong.
Return only JSON:
{
  "topic": "short topic of the question, 2-4 words",
  "errorType": "wrong_info" | "incomplete" | "irrelevant" | "tone_issue",
  "analysis": "one sentence on what the answer got wrong",
  "correctInfo": "the correct information if the evidence contains it, otherwise empty"
}`

var errorTypes = map[string]bool{
	models.ErrorWrongInfo:  true,
	models.ErrorIncomplete: true,
	models.ErrorIrrelevant: true,
	models.ErrorToneIssue:  true,
}

type Store interface {
	InsertReflexion(ctx context.Context, log *models.ReflexionLog) error
	SearchReflexions(ctx context.Context, text string, limit int) ([]models.ReflexionLog, error)
}

type Input struct {
	SessionID  string
	Query      string
	Answer     string
	RagResults []search.Candidate
}

type Engine struct {
	store   Store
	gen     llm.Generator
	timeout time.Duration
}

func NewEngine(store Store, gen llm.Generator, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Engine{store: store, gen: gen, timeout: timeout}
}

type analysisReply struct {
	Topic       string `json:"topic"`
	ErrorType   string `json:"errorType"`
	Analysis    string `json:"analysis"`
	CorrectInfo string `json:"correctInfo"`
}

// Analyze turns one dissatisfied turn into a stored lesson. Any failure drops
// the event and returns nil.
func (e *Engine) Analyze(ctx context.Context, in Input) *models.ReflexionLog {
	log, err := e.analyze(ctx, in)
	if err != nil {
		logger.Warn("Reflexion analysis dropped", zap.String("session_id", in.SessionID), zap.Error(err))
		return nil
	}
	return log
}

func (e *Engine) analyze(ctx context.Context, in Input) (*models.ReflexionLog, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nAnswer given: %s\n\nEvidence:\n", in.Query, utils.TruncateRunes(in.Answer, 2000))
	if len(in.RagResults) == 0 {
		b.WriteString("(none)\n")
	}
	for i, c := range in.RagResults {
		fmt.Fprintf(&b, "[%d] Q: %s\nA: %s\n", i+1, c.Question, utils.TruncateRunes(c.Answer, 600))
	}

	reply, err := llm.Complete(callCtx, e.gen, llm.CompletionRequest{
		SystemPrompt: analyzePrompt,
		UserPrompt:   b.String(),
		Temperature:  0.2,
		MaxTokens:    300,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to analyze feedback: %w", err)
	}

	var r analysisReply
	if err := llm.DecodeJSON(reply, &r); err != nil {
		return nil, err
	}

	r.Topic = strings.TrimSpace(r.Topic)
	r.Analysis = strings.TrimSpace(r.Analysis)
	if r.Analysis == "" {
		return nil, fmt.Errorf("model returned no analysis")
	}
	if r.Topic == "" {
		r.Topic = utils.TruncateRunes(in.Query, 60)
	}
	errorType := strings.ToLower(strings.TrimSpace(r.ErrorType))
	if !errorTypes[errorType] {
		errorType = models.ErrorIncomplete
	}

	log := &models.ReflexionLog{
		ID:          uuid.New().String(),
		SessionID:   in.SessionID,
		Topic:       r.Topic,
		ErrorType:   errorType,
		Analysis:    r.Analysis,
		CorrectInfo: strings.TrimSpace(r.CorrectInfo),
		CreatedAt:   time.Now(),
	}
	if err := e.store.InsertReflexion(ctx, log); err != nil {
		return nil, err
	}

	metrics.ReflexionLogged.WithLabelValues(errorType).Inc()
	return log, nil
}

type WarningOptions struct {
	StandaloneQuery string
	Limit           int
}

// GetWarnings renders stored lessons matching the topic or the standalone query.
func (e *Engine) GetWarnings(ctx context.Context, topic string, opts WarningOptions) string {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultWarningLimit
	}

	terms := []string{}
	if t := strings.TrimSpace(topic); t != "" {
		terms = append(terms, t)
	}
	if q := strings.TrimSpace(opts.StandaloneQuery); q != "" && !strings.EqualFold(q, strings.TrimSpace(topic)) {
		terms = append(terms, q)
	}

	seen := make(map[string]bool)
	var logs []models.ReflexionLog
	for _, term := range terms {
		found, err := e.store.SearchReflexions(ctx, term, limit)
		if err != nil {
			logger.Warn("Reflexion lookup failed", zap.String("term", term), zap.Error(err))
			continue
		}
		for _, l := range found {
			if seen[l.ID] {
				continue
			}
			seen[l.ID] = true
			logs = append(logs, l)
		}
	}
	if len(logs) > limit {
		logs = logs[:limit]
	}

	blocks := make([]string, 0, len(logs))
	for _, l := range logs {
		block := "DIKKAT: " + l.Analysis
		if l.CorrectInfo != "" {
			block += "\nDogru bilgi: " + l.CorrectInfo
		}
		blocks = append(blocks, block)
	}
	return strings.Join(blocks, "\n\n")
}
