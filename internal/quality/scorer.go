package quality

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/support-rag/backend/internal/llm"
	"github.com/support-rag/backend/internal/metrics"
	"github.com/support-rag/backend/internal/rerank"
	"github.com/support-rag/backend/internal/search"
	"github.com/support-rag/backend/internal/storage/models"
	"github.com/support-rag/backend/pkg/logger"
	"github.com/support-rag/backend/pkg/utils"
)

const (
	// NoEvidenceConfidence is the confidence of an answer given without evidence.
	NoEvidenceConfidence = 0.1
	LowQualityThreshold  = 0.5

	corroborationCount = 3
	historyScanLimit   = 20
)

const gradePrompt = `You grade a support answer against the evidence it was given.
faithfulness: 1 when every claim in the answer is supported by the evidence, 0 when it is invented.
relevancy: 1 when the answer addresses the question, 0 when it does not.
Return only JSON: {"faithfulness": 0.0-1.0, "relevancy": 0.0-1.0}`

type Store interface {
	InsertQualityScore(ctx context.Context, score *models.QualityScore) error
	RecentQualityScores(ctx context.Context, sessionID string, limit int) ([]models.QualityScore, error)
}

type Input struct {
	Query      string
	Answer     string
	RagResults []search.Candidate
	SessionID  string
	MessageID  string
}

type Scorer struct {
	store   Store
	gen     llm.Generator
	timeout time.Duration
}

func NewScorer(store Store, gen llm.Generator, timeout time.Duration) *Scorer {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Scorer{store: store, gen: gen, timeout: timeout}
}

// Confidence rewards both relevance and corroboration.
func Confidence(avgRerankScore float64, count int) float64 {
	if count <= 0 {
		return NoEvidenceConfidence
	}
	coverage := float64(count) / corroborationCount
	if coverage > 1 {
		coverage = 1
	}
	return avgRerankScore * coverage
}

// IsLowQuality averages the available signals. Without a faithfulness grade
// an answer is never marked low quality.
func IsLowQuality(faithfulness, relevancy *float64, confidence float64) bool {
	if faithfulness == nil {
		return false
	}
	sum, n := *faithfulness+confidence, 2.0
	if relevancy != nil {
		sum += *relevancy
		n++
	}
	return sum/n < LowQualityThreshold
}

// Score grades one answer and persists the row best-effort. The returned
// score is valid whether or not persistence succeeded.
func (s *Scorer) Score(ctx context.Context, in Input) models.QualityScore {
	avg := rerank.MeanScore(in.RagResults)
	score := models.QualityScore{
		SessionID:      in.SessionID,
		MessageID:      in.MessageID,
		Confidence:     Confidence(avg, len(in.RagResults)),
		RagResultCount: len(in.RagResults),
		AvgRerankScore: avg,
	}

	faithfulness, relevancy, err := s.grade(ctx, in)
	if err != nil {
		logger.Warn("Quality grading failed",
			zap.String("session_id", in.SessionID),
			zap.String("message_id", in.MessageID),
			zap.Error(err),
		)
	}
	score.Faithfulness = faithfulness
	score.Relevancy = relevancy
	score.IsLowQuality = IsLowQuality(faithfulness, relevancy, score.Confidence)

	metrics.QualityConfidence.Observe(score.Confidence)
	if score.IsLowQuality {
		metrics.LowQualityTotal.Inc()
	}

	if s.store != nil {
		if err := s.store.InsertQualityScore(ctx, &score); err != nil {
			logger.Warn("Quality score not persisted", zap.String("session_id", in.SessionID), zap.Error(err))
		}
	}

	logger.Info("Answer scored",
		zap.String("session_id", in.SessionID),
		zap.String("message_id", in.MessageID),
		zap.Float64("confidence", score.Confidence),
		zap.Bool("low_quality", score.IsLowQuality),
	)
	return score
}

type gradeReply struct {
	Faithfulness *float64 `json:"faithfulness"`
	Relevancy    *float64 `json:"relevancy"`
}

func (s *Scorer) grade(ctx context.Context, in Input) (*float64, *float64, error) {
	if s.gen == nil {
		return nil, nil, fmt.Errorf("no grader configured")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nEvidence:\n", in.Query)
	if len(in.RagResults) == 0 {
		b.WriteString("(none)\n")
	}
	for i, c := range in.RagResults {
		fmt.Fprintf(&b, "[%d] Q: %s\nA: %s\n", i+1, c.Question, utils.TruncateRunes(c.Answer, 800))
	}
	fmt.Fprintf(&b, "\nAnswer: %s", utils.TruncateRunes(in.Answer, 2000))

	reply, err := llm.Complete(ctx, s.gen, llm.CompletionRequest{
		SystemPrompt: gradePrompt,
		UserPrompt:   b.String(),
		Temperature:  0.01,
		MaxTokens:    100,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to grade answer: %w", err)
	}

	var g gradeReply
	if err := llm.DecodeJSON(reply, &g); err != nil {
		return nil, nil, err
	}
	return unitOrNil(g.Faithfulness), unitOrNil(g.Relevancy), nil
}

func unitOrNil(v *float64) *float64 {
	if v == nil || *v < 0 || *v > 1 {
		return nil
	}
	out := *v
	return &out
}

// ConsecutiveLowCount counts the session's most recent low-quality answers,
// stopping at the first acceptable or ungraded one.
func (s *Scorer) ConsecutiveLowCount(ctx context.Context, sessionID string) int {
	if s.store == nil || sessionID == "" {
		return 0
	}

	rows, err := s.store.RecentQualityScores(ctx, sessionID, historyScanLimit)
	if err != nil {
		logger.Warn("Quality history unavailable", zap.String("session_id", sessionID), zap.Error(err))
		return 0
	}

	count := 0
	for _, r := range rows {
		if r.Faithfulness == nil || !r.IsLowQuality {
			break
		}
		count++
	}
	return count
}
