package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/support-rag/backend/internal/analyzer"
	"github.com/support-rag/backend/internal/llm"
	"github.com/support-rag/backend/internal/metrics"
	"github.com/support-rag/backend/internal/prompt"
	"github.com/support-rag/backend/internal/quality"
	"github.com/support-rag/backend/internal/reflexion"
	"github.com/support-rag/backend/internal/search"
	"github.com/support-rag/backend/internal/storage/models"
	"github.com/support-rag/backend/pkg/logger"
)

type Config struct {
	Persona            string
	GenerationHistory  int
	MaxOutputTokens    int
	GraphTokenBudget   int
	EvidenceCharBudget int
	EscalateAfterLow   int
	BackgroundWorkers  int
	BackgroundTimeout  time.Duration
	TurnCacheSize      int
	TurnCacheTTL       time.Duration
}

// Deps are the pipeline collaborators. Analyzer, Searcher, Reranker and
// Generator are required; the rest may be nil and their context is skipped.
type Deps struct {
	Analyzer  Analyzer
	Searcher  Searcher
	Reranker  Reranker
	Generator llm.Generator
	Corrector Corrector
	Memory    MemoryEngine
	Quality   QualityScorer
	Reflexion Reflector
	Graph     GraphContext
	Turns     TurnStore
}

type turnRecord struct {
	SessionID string
	UserID    string
	Query     string
	Answer    string
	Evidence  []search.Candidate
}

type Pipeline struct {
	deps  Deps
	cfg   Config
	bg    *Supervisor
	turns *expirable.LRU[string, turnRecord]
}

func New(deps Deps, cfg Config) (*Pipeline, error) {
	if deps.Analyzer == nil || deps.Searcher == nil || deps.Reranker == nil || deps.Generator == nil {
		return nil, fmt.Errorf("pipeline requires analyzer, searcher, reranker and generator")
	}
	if cfg.GenerationHistory <= 0 {
		cfg.GenerationHistory = 10
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = 800
	}
	if cfg.GraphTokenBudget <= 0 {
		cfg.GraphTokenBudget = 300
	}
	if cfg.EvidenceCharBudget <= 0 {
		cfg.EvidenceCharBudget = prompt.DefaultEvidenceBudget
	}
	if cfg.EscalateAfterLow <= 0 {
		cfg.EscalateAfterLow = 2
	}
	if cfg.TurnCacheSize <= 0 {
		cfg.TurnCacheSize = 2048
	}
	if cfg.TurnCacheTTL <= 0 {
		cfg.TurnCacheTTL = 2 * time.Hour
	}

	return &Pipeline{
		deps:  deps,
		cfg:   cfg,
		bg:    NewSupervisor(cfg.BackgroundWorkers, cfg.BackgroundTimeout),
		turns: expirable.NewLRU[string, turnRecord](cfg.TurnCacheSize, nil, cfg.TurnCacheTTL),
	}, nil
}

// Process runs one turn. The only error is ErrEmptyMessage; every downstream
// failure resolves to a fallback and the turn still gets a reply.
func (p *Pipeline) Process(ctx context.Context, in Input) (*Result, error) {
	utterance := strings.TrimSpace(in.UserMessage)
	if utterance == "" {
		return nil, ErrEmptyMessage
	}

	start := time.Now()
	messageID := uuid.New().String()

	analysis := p.deps.Analyzer.Analyze(ctx, utterance, in.ChatHistory)
	query := strings.TrimSpace(analysis.StandaloneQuery)
	if query == "" {
		query = utterance
	}

	logger.Info("Processing turn",
		zap.String("message_id", messageID),
		zap.String("session_id", in.SessionID),
		zap.String("route", string(analysis.Route)),
		zap.String("intent", analysis.Intent),
	)

	evidence := p.retrieve(ctx, query, analysis, in)

	extra := p.loadContext(ctx, query, analysis, in)

	system := prompt.Assemble(prompt.Context{
		Persona:         p.cfg.Persona,
		TopicIndex:      in.ConversationContext.TopicIndex,
		DetectedTopic:   in.ConversationContext.DetectedTopic,
		TopicDetail:     in.ConversationContext.TopicDetail,
		State:           in.Memory.State,
		CollectedFields: in.Memory.CollectedFields,
		SuggestHandoff:  extra.escalate,
		Memory:          extra.memory,
		Warnings:        extra.warnings,
		Graph:           extra.graph,
		Evidence:        evidence,
		EvidenceBudget:  p.cfg.EvidenceCharBudget,
	})

	maxTokens := in.Options.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = p.cfg.MaxOutputTokens
	}

	reply, finishReason := FallbackReply, FinishReasonFallback
	resp, err := p.deps.Generator.Generate(ctx, llm.GenerateRequest{
		Messages:          generationMessages(in.ChatHistory, p.cfg.GenerationHistory, query),
		SystemInstruction: system,
		MaxOutputTokens:   maxTokens,
		Provider:          in.Options.Provider,
	})
	switch {
	case err != nil:
		logger.Error("Generation failed, returning fallback reply",
			zap.String("message_id", messageID),
			zap.Error(err),
		)
	case strings.TrimSpace(resp.Reply) == "":
		logger.Warn("Generation returned an empty reply", zap.String("message_id", messageID))
	default:
		reply, finishReason = strings.TrimSpace(resp.Reply), resp.FinishReason
	}

	result := &Result{
		Reply:             reply,
		Route:             analysis.Route,
		Analysis:          analysis,
		Citations:         citations(evidence),
		RagResults:        evidence,
		FinishReason:      finishReason,
		MessageID:         messageID,
		SuggestEscalation: extra.escalate,
	}

	status := "ok"
	if finishReason == FinishReasonFallback {
		status = FinishReasonFallback
	}
	metrics.TurnDuration.WithLabelValues(string(analysis.Route)).Observe(time.Since(start).Seconds())
	metrics.TurnsTotal.WithLabelValues(string(analysis.Route), status).Inc()
	metrics.EvidenceCount.Observe(float64(len(evidence)))

	p.turns.Add(messageID, turnRecord{
		SessionID: in.SessionID,
		UserID:    in.UserID,
		Query:     query,
		Answer:    reply,
		Evidence:  evidence,
	})
	p.afterTurn(in, utterance, query, result)

	logger.Info("Turn completed",
		zap.String("message_id", messageID),
		zap.String("route", string(analysis.Route)),
		zap.Int("evidence", len(evidence)),
		zap.String("finish_reason", finishReason),
		zap.Duration("latency", time.Since(start)),
	)

	return result, nil
}

func (p *Pipeline) retrieve(ctx context.Context, query string, analysis analyzer.Analysis, in Input) []search.Candidate {
	round := func(ctx context.Context, q string) []search.Candidate {
		queries := []string{q}
		for _, sq := range analysis.SubQueries {
			if sq = strings.TrimSpace(sq); sq != "" && !strings.EqualFold(sq, q) {
				queries = append(queries, sq)
			}
		}
		found := p.deps.Searcher.SearchMany(ctx, queries, in.KnowledgeBase, in.KBSize)
		if len(found) == 0 {
			return nil
		}
		ranked, _ := p.deps.Reranker.Rerank(ctx, q, found)
		return ranked
	}

	var evidence []search.Candidate
	switch analysis.Route {
	case analyzer.RouteFast:
	case analyzer.RouteDeep:
		if p.deps.Corrector != nil {
			evidence = p.deps.Corrector.Run(ctx, query, in.ChatHistory, round).Results
		} else {
			evidence = round(ctx, query)
		}
	default:
		evidence = round(ctx, query)
	}

	if evidence == nil {
		evidence = []search.Candidate{}
	}
	return evidence
}

type turnContext struct {
	memory   string
	warnings string
	graph    string
	escalate bool
}

// loadContext gathers memory, lessons, graph edges and the quality history.
// The lookups are independent and each degrades to empty on its own.
func (p *Pipeline) loadContext(ctx context.Context, query string, analysis analyzer.Analysis, in Input) turnContext {
	var tc turnContext
	var g errgroup.Group

	if p.deps.Memory != nil && in.UserID != "" {
		g.Go(func() error {
			tc.memory = p.deps.Memory.LoadContext(ctx, in.UserID, query, analysis)
			return nil
		})
	}
	if p.deps.Reflexion != nil {
		g.Go(func() error {
			tc.warnings = p.deps.Reflexion.GetWarnings(ctx, in.ConversationContext.DetectedTopic, reflexion.WarningOptions{
				StandaloneQuery: query,
			})
			return nil
		})
	}
	if p.deps.Graph != nil && analysis.RequiresGraph {
		if entity := graphEntity(analysis, in.ConversationContext); entity != "" {
			g.Go(func() error {
				tc.graph = p.deps.Graph.FormatForPrompt(ctx, entity, p.cfg.GraphTokenBudget)
				return nil
			})
		}
	}
	if p.deps.Quality != nil && in.SessionID != "" {
		g.Go(func() error {
			tc.escalate = p.deps.Quality.ConsecutiveLowCount(ctx, in.SessionID) >= p.cfg.EscalateAfterLow
			return nil
		})
	}

	_ = g.Wait()
	return tc
}

func graphEntity(analysis analyzer.Analysis, cc ConversationContext) string {
	for _, e := range analysis.Entities {
		if e = strings.TrimSpace(e); e != "" {
			return e
		}
	}
	return strings.TrimSpace(cc.DetectedTopic)
}

// generationMessages copies the recent history and appends the resolved
// query as the current user turn. history itself is left untouched.
func generationMessages(history []llm.Message, n int, query string) []llm.Message {
	if len(history) > n {
		history = history[len(history)-n:]
	}
	out := make([]llm.Message, 0, len(history)+1)
	out = append(out, history...)
	return append(out, llm.Message{Role: llm.RoleUser, Content: query})
}

func citations(evidence []search.Candidate) []Citation {
	out := make([]Citation, len(evidence))
	for i, e := range evidence {
		out[i] = Citation{Index: i + 1, Question: e.Question, Source: e.Source}
	}
	return out
}

// afterTurn launches the write-backs. They only affect later turns.
func (p *Pipeline) afterTurn(in Input, utterance, query string, res *Result) {
	if p.deps.Quality != nil && in.SessionID != "" {
		evidence := res.RagResults
		p.bg.Go("quality", func(ctx context.Context) error {
			p.deps.Quality.Score(ctx, quality.Input{
				Query:      query,
				Answer:     res.Reply,
				RagResults: evidence,
				SessionID:  in.SessionID,
				MessageID:  res.MessageID,
			})
			return nil
		})
	}

	if p.deps.Memory != nil && in.UserID != "" {
		turns := make([]llm.Message, 0, len(in.ChatHistory)+2)
		turns = append(turns, in.ChatHistory...)
		turns = append(turns,
			llm.Message{Role: llm.RoleUser, Content: utterance},
			llm.Message{Role: llm.RoleAssistant, Content: res.Reply},
		)
		p.bg.Go("memory", func(ctx context.Context) error {
			p.deps.Memory.UpdateAfterConversation(ctx, in.UserID, in.SessionID, turns, in.Options.Summary)
			return nil
		})
	}

	if p.deps.Turns != nil && in.SessionID != "" {
		turn := &models.ConversationTurn{
			MessageID:     res.MessageID,
			SessionID:     in.SessionID,
			UserID:        in.UserID,
			UserMessage:   utterance,
			Reply:         res.Reply,
			Route:         string(res.Route),
			FinishReason:  res.FinishReason,
			EvidenceCount: len(res.RagResults),
			CreatedAt:     time.Now(),
		}
		p.bg.Go("turn_log", func(ctx context.Context) error {
			return p.deps.Turns.InsertTurn(ctx, turn)
		})
	}
}

// Feedback records the user's verdict on a cached turn. Negative feedback
// launches reflexion analysis in the background.
func (p *Pipeline) Feedback(ctx context.Context, sessionID, messageID string, helpful bool) error {
	turn, ok := p.turns.Get(messageID)
	if !ok || turn.SessionID != sessionID {
		return ErrTurnNotFound
	}

	logger.Info("Feedback received",
		zap.String("session_id", sessionID),
		zap.String("message_id", messageID),
		zap.Bool("helpful", helpful),
	)

	if helpful || p.deps.Reflexion == nil {
		return nil
	}

	p.bg.Go("reflexion", func(ctx context.Context) error {
		p.deps.Reflexion.Analyze(ctx, reflexion.Input{
			SessionID:  turn.SessionID,
			Query:      turn.Query,
			Answer:     turn.Answer,
			RagResults: turn.Evidence,
		})
		return nil
	})
	return nil
}

// History returns the logged turns of a session, oldest first.
func (p *Pipeline) History(ctx context.Context, sessionID string, limit int) ([]models.ConversationTurn, error) {
	if p.deps.Turns == nil {
		return []models.ConversationTurn{}, nil
	}
	turns, err := p.deps.Turns.GetTurns(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return turns, nil
}

// Wait blocks until the background tasks started so far have finished.
func (p *Pipeline) Wait() {
	p.bg.Wait()
}

func (p *Pipeline) Shutdown(ctx context.Context) error {
	return p.bg.Shutdown(ctx)
}
