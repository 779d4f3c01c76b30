package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/support-rag/backend/internal/storage/models"
	"github.com/support-rag/backend/pkg/logger"
)

const maxSearchTerms = 6

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS core_memory (
		user_id TEXT NOT NULL,
		fact_key TEXT NOT NULL,
		fact_value TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, fact_key)
	);

	CREATE TABLE IF NOT EXISTS recall_memory (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		session_id TEXT,
		entry_type TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_recall_user ON recall_memory(user_id, created_at);

	CREATE TABLE IF NOT EXISTS quality_scores (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		message_id TEXT NOT NULL,
		faithfulness REAL,
		relevancy REAL,
		confidence REAL NOT NULL,
		rag_result_count INTEGER NOT NULL,
		avg_rerank_score REAL NOT NULL,
		is_low_quality INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		UNIQUE (session_id, message_id)
	);
	CREATE INDEX IF NOT EXISTS idx_quality_session ON quality_scores(session_id, id);

	CREATE TABLE IF NOT EXISTS reflexion_logs (
		id TEXT PRIMARY KEY,
		session_id TEXT,
		topic TEXT NOT NULL,
		error_type TEXT NOT NULL,
		analysis TEXT NOT NULL,
		correct_info TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reflexion_created ON reflexion_logs(created_at);

	CREATE TABLE IF NOT EXISTS conversation_turns (
		message_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		user_id TEXT,
		user_message TEXT NOT NULL,
		reply TEXT NOT NULL,
		route TEXT NOT NULL,
		finish_reason TEXT,
		evidence_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_session ON conversation_turns(session_id, created_at);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// UpsertFact writes one profile key. Empty values are ignored.
func (c *Client) UpsertFact(ctx context.Context, userID, key, value string) error {
	if strings.TrimSpace(value) == "" {
		return nil
	}

	query := `
		INSERT INTO core_memory (user_id, fact_key, fact_value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, fact_key) DO UPDATE SET
			fact_value = excluded.fact_value,
			updated_at = excluded.updated_at
	`

	_, err := c.db.ExecContext(ctx, query, userID, key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to upsert fact: %w", err)
	}

	logger.Debug("Core fact stored", zap.String("user_id", userID), zap.String("key", key))
	return nil
}

func (c *Client) GetProfile(ctx context.Context, userID string) ([]models.CoreFact, error) {
	query := `SELECT fact_key, fact_value, updated_at FROM core_memory WHERE user_id = ? ORDER BY fact_key`

	rows, err := c.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	defer rows.Close()

	var facts []models.CoreFact
	for rows.Next() {
		f := models.CoreFact{UserID: userID}
		var updatedAt int64
		if err := rows.Scan(&f.Key, &f.Value, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		f.UpdatedAt = time.UnixMilli(updatedAt)
		facts = append(facts, f)
	}

	return facts, rows.Err()
}

func (c *Client) AppendRecall(ctx context.Context, entry *models.RecallEntry) error {
	query := `INSERT INTO recall_memory (id, user_id, session_id, entry_type, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	_, err := c.db.ExecContext(ctx, query,
		entry.ID,
		entry.UserID,
		entry.SessionID,
		entry.Type,
		entry.Content,
		entry.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to append recall entry: %w", err)
	}

	return nil
}

// SearchRecall returns the user's entries containing any word of text, newest first.
func (c *Client) SearchRecall(ctx context.Context, userID, text string, limit int) ([]models.RecallEntry, error) {
	terms := searchTerms(text)
	if len(terms) == 0 {
		return nil, nil
	}

	where, args := likeClause([]string{"content"}, terms)
	query := `SELECT id, user_id, session_id, entry_type, content, created_at FROM recall_memory
		WHERE user_id = ? AND (` + where + `) ORDER BY created_at DESC LIMIT ?`

	params := append([]any{userID}, args...)
	params = append(params, limit)

	rows, err := c.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to search recall memory: %w", err)
	}
	defer rows.Close()

	var entries []models.RecallEntry
	for rows.Next() {
		var e models.RecallEntry
		var sessionID sql.NullString
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.UserID, &sessionID, &e.Type, &e.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		e.SessionID = sessionID.String
		e.CreatedAt = time.UnixMilli(createdAt)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

func (c *Client) InsertQualityScore(ctx context.Context, score *models.QualityScore) error {
	query := `
		INSERT INTO quality_scores (session_id, message_id, faithfulness, relevancy, confidence,
			rag_result_count, avg_rerank_score, is_low_quality, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, message_id) DO UPDATE SET
			faithfulness = excluded.faithfulness,
			relevancy = excluded.relevancy,
			confidence = excluded.confidence,
			is_low_quality = excluded.is_low_quality
	`

	if score.CreatedAt.IsZero() {
		score.CreatedAt = time.Now()
	}

	lowQuality := 0
	if score.IsLowQuality {
		lowQuality = 1
	}

	_, err := c.db.ExecContext(ctx, query,
		score.SessionID,
		score.MessageID,
		nullFloat(score.Faithfulness),
		nullFloat(score.Relevancy),
		score.Confidence,
		score.RagResultCount,
		score.AvgRerankScore,
		lowQuality,
		score.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert quality score: %w", err)
	}

	logger.Debug("Quality score stored",
		zap.String("session_id", score.SessionID),
		zap.String("message_id", score.MessageID),
		zap.Bool("low_quality", score.IsLowQuality),
	)
	return nil
}

// RecentQualityScores returns the session's rows, most recent first.
func (c *Client) RecentQualityScores(ctx context.Context, sessionID string, limit int) ([]models.QualityScore, error) {
	query := `
		SELECT id, session_id, message_id, faithfulness, relevancy, confidence,
			rag_result_count, avg_rerank_score, is_low_quality, created_at
		FROM quality_scores
		WHERE session_id = ?
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get quality scores: %w", err)
	}
	defer rows.Close()

	var scores []models.QualityScore
	for rows.Next() {
		var s models.QualityScore
		var faithfulness, relevancy sql.NullFloat64
		var lowQuality int
		var createdAt int64
		err := rows.Scan(&s.ID, &s.SessionID, &s.MessageID, &faithfulness, &relevancy, &s.Confidence,
			&s.RagResultCount, &s.AvgRerankScore, &lowQuality, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if faithfulness.Valid {
			s.Faithfulness = &faithfulness.Float64
		}
		if relevancy.Valid {
			s.Relevancy = &relevancy.Float64
		}
		s.IsLowQuality = lowQuality == 1
		s.CreatedAt = time.UnixMilli(createdAt)
		scores = append(scores, s)
	}

	return scores, rows.Err()
}

func (c *Client) InsertReflexion(ctx context.Context, log *models.ReflexionLog) error {
	query := `INSERT INTO reflexion_logs (id, session_id, topic, error_type, analysis, correct_info, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`

	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}

	_, err := c.db.ExecContext(ctx, query,
		log.ID,
		log.SessionID,
		log.Topic,
		log.ErrorType,
		log.Analysis,
		log.CorrectInfo,
		log.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert reflexion log: %w", err)
	}

	logger.Info("Reflexion recorded",
		zap.String("session_id", log.SessionID),
		zap.String("topic", log.Topic),
		zap.String("error_type", log.ErrorType),
	)
	return nil
}

// SearchReflexions matches any word of text against topic and analysis, newest first.
func (c *Client) SearchReflexions(ctx context.Context, text string, limit int) ([]models.ReflexionLog, error) {
	terms := searchTerms(text)
	if len(terms) == 0 {
		return nil, nil
	}

	where, args := likeClause([]string{"topic", "analysis"}, terms)
	query := `SELECT id, session_id, topic, error_type, analysis, correct_info, created_at FROM reflexion_logs
		WHERE ` + where + ` ORDER BY created_at DESC LIMIT ?`

	rows, err := c.db.QueryContext(ctx, query, append(args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("failed to search reflexion logs: %w", err)
	}
	defer rows.Close()

	var logs []models.ReflexionLog
	for rows.Next() {
		var l models.ReflexionLog
		var sessionID, correctInfo sql.NullString
		var createdAt int64
		if err := rows.Scan(&l.ID, &sessionID, &l.Topic, &l.ErrorType, &l.Analysis, &correctInfo, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		l.SessionID = sessionID.String
		l.CorrectInfo = correctInfo.String
		l.CreatedAt = time.UnixMilli(createdAt)
		logs = append(logs, l)
	}

	return logs, rows.Err()
}

func (c *Client) InsertTurn(ctx context.Context, turn *models.ConversationTurn) error {
	query := `
		INSERT INTO conversation_turns (message_id, session_id, user_id, user_message, reply, route,
			finish_reason, evidence_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}

	_, err := c.db.ExecContext(ctx, query,
		turn.MessageID,
		turn.SessionID,
		turn.UserID,
		turn.UserMessage,
		turn.Reply,
		turn.Route,
		turn.FinishReason,
		turn.EvidenceCount,
		turn.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert conversation turn: %w", err)
	}

	return nil
}

// GetTurns returns the last limit turns of a session in chronological order.
func (c *Client) GetTurns(ctx context.Context, sessionID string, limit int) ([]models.ConversationTurn, error) {
	query := `
		SELECT message_id, session_id, user_id, user_message, reply, route, finish_reason, evidence_count, created_at
		FROM conversation_turns
		WHERE session_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation turns: %w", err)
	}
	defer rows.Close()

	var turns []models.ConversationTurn
	for rows.Next() {
		var t models.ConversationTurn
		var userID, finishReason sql.NullString
		var createdAt int64
		err := rows.Scan(&t.MessageID, &t.SessionID, &userID, &t.UserMessage, &t.Reply, &t.Route,
			&finishReason, &t.EvidenceCount, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		t.UserID = userID.String
		t.FinishReason = finishReason.String
		t.CreatedAt = time.UnixMilli(createdAt)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

// searchTerms splits text into distinct words of at least three runes.
func searchTerms(text string) []string {
	seen := make(map[string]bool)
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:!?\"'()[]")
		if len([]rune(w)) < 3 || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, w)
		if len(terms) == maxSearchTerms {
			break
		}
	}
	return terms
}

func likeClause(columns, terms []string) (string, []any) {
	var parts []string
	var args []any
	for _, term := range terms {
		pattern := "%" + escapeLike(term) + "%"
		for _, col := range columns {
			parts = append(parts, col+` LIKE ? ESCAPE '\'`)
			args = append(args, pattern)
		}
	}
	return strings.Join(parts, " OR "), args
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
