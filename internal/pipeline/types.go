package pipeline

import (
	"context"
	"errors"

	"github.com/support-rag/backend/internal/analyzer"
	"github.com/support-rag/backend/internal/crag"
	"github.com/support-rag/backend/internal/llm"
	"github.com/support-rag/backend/internal/quality"
	"github.com/support-rag/backend/internal/reflexion"
	"github.com/support-rag/backend/internal/search"
	"github.com/support-rag/backend/internal/storage/models"
)

const (
	FinishReasonFallback = "fallback"

	// FallbackReply is returned when generation fails.
	FallbackReply = "Uzgunum, su anda yanit olusturamiyorum. Lutfen biraz sonra tekrar deneyin ya da canli destek temsilcimizle gorusun."
)

var (
	ErrEmptyMessage = errors.New("user message is empty")
	ErrTurnNotFound = errors.New("turn not found or expired")
)

// Memory is the ticketing application's structured conversation state.
type Memory struct {
	State           string            `json:"state,omitempty"`
	CollectedFields map[string]string `json:"collectedFields,omitempty"`
}

type ConversationContext struct {
	TopicIndex    string `json:"topicIndex,omitempty"`
	DetectedTopic string `json:"detectedTopic,omitempty"`
	TopicDetail   string `json:"topicDetail,omitempty"`
}

type Options struct {
	MaxOutputTokens int                `json:"maxOutputTokens,omitempty"`
	Provider        llm.ProviderConfig `json:"provider,omitempty"`
	// Summary, when set, is saved to recall memory after the turn.
	Summary string `json:"summary,omitempty"`
}

type Input struct {
	UserMessage         string              `json:"userMessage"`
	ChatHistory         []llm.Message       `json:"chatHistory"`
	SessionID           string              `json:"sessionId"`
	UserID              string              `json:"userId"`
	KnowledgeBase       []search.Record     `json:"knowledgeBase"`
	KBSize              int                 `json:"kbSize"`
	Memory              Memory              `json:"memory"`
	ConversationContext ConversationContext `json:"conversationContext"`
	Options             Options             `json:"options"`
}

type Citation struct {
	Index    int    `json:"index"`
	Question string `json:"question"`
	Source   string `json:"source,omitempty"`
}

type Result struct {
	Reply             string             `json:"reply"`
	Route             analyzer.Route     `json:"route"`
	Analysis          analyzer.Analysis  `json:"analysis"`
	Citations         []Citation         `json:"citations"`
	RagResults        []search.Candidate `json:"ragResults"`
	FinishReason      string             `json:"finishReason"`
	MessageID         string             `json:"messageId"`
	SuggestEscalation bool               `json:"suggestEscalation"`
}

// Collaborators. The concrete components in the sibling packages satisfy these.

type Analyzer interface {
	Analyze(ctx context.Context, utterance string, history []llm.Message) analyzer.Analysis
}

type Searcher interface {
	SearchMany(ctx context.Context, queries []string, kb []search.Record, kbSize int) []search.Candidate
}

type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []search.Candidate) ([]search.Candidate, string)
}

type Corrector interface {
	Run(ctx context.Context, query string, history []llm.Message, retrieve crag.RetrieveFunc) crag.LoopResult
}

type MemoryEngine interface {
	LoadContext(ctx context.Context, userID, query string, analysis analyzer.Analysis) string
	UpdateAfterConversation(ctx context.Context, userID, sessionID string, turns []llm.Message, summary string)
}

type QualityScorer interface {
	Score(ctx context.Context, in quality.Input) models.QualityScore
	ConsecutiveLowCount(ctx context.Context, sessionID string) int
}

type Reflector interface {
	Analyze(ctx context.Context, in reflexion.Input) *models.ReflexionLog
	GetWarnings(ctx context.Context, topic string, opts reflexion.WarningOptions) string
}

type GraphContext interface {
	FormatForPrompt(ctx context.Context, entity string, tokenBudget int) string
}

type TurnStore interface {
	InsertTurn(ctx context.Context, turn *models.ConversationTurn) error
	GetTurns(ctx context.Context, sessionID string, limit int) ([]models.ConversationTurn, error)
}
