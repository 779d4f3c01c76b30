package models

import "time"

// CoreFact is one key of a user's durable profile.
type CoreFact struct {
	UserID    string
	Key       string
	Value     string
	UpdatedAt time.Time
}

type RecallEntry struct {
	ID        string
	UserID    string
	SessionID string
	Type      string
	Content   string
	CreatedAt time.Time
}

// QualityScore is one graded answer. Faithfulness and Relevancy are nil when
// the grader could not produce them.
type QualityScore struct {
	ID             int64
	SessionID      string
	MessageID      string
	Faithfulness   *float64
	Relevancy      *float64
	Confidence     float64
	RagResultCount int
	AvgRerankScore float64
	IsLowQuality   bool
	CreatedAt      time.Time
}

const (
	ErrorWrongInfo  = "wrong_info"
	ErrorIncomplete = "incomplete"
	ErrorIrrelevant = "irrelevant"
	ErrorToneIssue  = "tone_issue"
)

type ReflexionLog struct {
	ID          string
	SessionID   string
	Topic       string
	ErrorType   string
	Analysis    string
	CorrectInfo string
	CreatedAt   time.Time
}

type GraphEdge struct {
	SourceName string `json:"sourceName"`
	SourceType string `json:"sourceType"`
	Relation   string `json:"relation"`
	TargetName string `json:"targetName"`
	TargetType string `json:"targetType"`
}

// ConversationTurn is the turn log row behind the history endpoint.
type ConversationTurn struct {
	MessageID     string    `json:"messageId"`
	SessionID     string    `json:"sessionId"`
	UserID        string    `json:"userId"`
	UserMessage   string    `json:"userMessage"`
	Reply         string    `json:"reply"`
	Route         string    `json:"route"`
	FinishReason  string    `json:"finishReason"`
	EvidenceCount int       `json:"evidenceCount"`
	CreatedAt     time.Time `json:"createdAt"`
}
