package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/support-copilot/backend/internal/storage/models"
	"github.com/support-copilot/backend/pkg/logger"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrTerminalStatus rejects mutations of Approved/Rejected
	// learning events.
	ErrTerminalStatus = errors.New("learning event is in a terminal status")
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

// relationalSchema holds every plain table. The FTS index lives in
// ftsSchema because fts5 needs go-sqlite3 built with the sqlite_fts5
// tag.
const relationalSchema = `
	CREATE TABLE IF NOT EXISTS gap_assessments (
		id TEXT PRIMARY KEY,
		case_id TEXT UNIQUE NOT NULL,
		best_match_id TEXT,
		best_match_similarity REAL NOT NULL,
		gap_detected INTEGER NOT NULL,
		rationale TEXT,
		suggested_title TEXT,
		llm_confirmed INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_gap_case ON gap_assessments(case_id);

	CREATE TABLE IF NOT EXISTS learning_events (
		id TEXT PRIMARY KEY,
		trigger_case_id TEXT,
		detected_gap TEXT,
		proposed_article_id TEXT,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_status ON learning_events(status);
	CREATE INDEX IF NOT EXISTS idx_events_created ON learning_events(created_at);

	CREATE TABLE IF NOT EXISTS kb_lineage (
		id TEXT PRIMARY KEY,
		article_id TEXT NOT NULL,
		source_type TEXT NOT NULL,
		source_id TEXT NOT NULL,
		relationship TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_lineage_article ON kb_lineage(article_id);

	CREATE TABLE IF NOT EXISTS draft_articles (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		body TEXT NOT NULL,
		category TEXT,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS questions (
		id TEXT PRIMARY KEY,
		question_text TEXT NOT NULL,
		answer_type TEXT,
		target_id TEXT,
		difficulty TEXT
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		case_id TEXT NOT NULL,
		agent_name TEXT,
		channel TEXT,
		transcript TEXT NOT NULL,
		resolution TEXT,
		category TEXT,
		priority TEXT,
		qa_score REAL,
		qa_scores_json TEXT,
		qa_red_flags TEXT,
		qa_scored_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_scored ON conversations(qa_scored_at);

	CREATE TABLE IF NOT EXISTS evaluation_runs (
		id TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		total_questions INTEGER NOT NULL,
		errors INTEGER NOT NULL,
		classification_accuracy REAL,
		hit_at_1 REAL,
		hit_at_5 REAL,
		hit_at_10 REAL,
		report_json TEXT,
		created_at INTEGER NOT NULL
	);
	`

const ftsSchema = `
	CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
		doc_id UNINDEXED,
		pool UNINDEXED,
		title,
		body
	);
	`

func (c *Client) InitSchema() error {
	if _, err := c.db.Exec(relationalSchema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	if _, err := c.db.Exec(ftsSchema); err != nil {
		return fmt.Errorf("failed to initialize fts schema: %w", err)
	}

	logger.Info("Database schema initialized")
	return nil
}

// Gap assessments

func (c *Client) InsertGapAssessment(ctx context.Context, a *models.GapAssessment) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO gap_assessments
			(id, case_id, best_match_id, best_match_similarity, gap_detected, rationale, suggested_title, llm_confirmed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.CaseID, a.BestMatchID, a.BestMatchSimilarity, a.GapDetected,
		a.Rationale, a.SuggestedTitle, a.LLMConfirmed, a.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert gap assessment: %w", err)
	}
	return nil
}

func (c *Client) GetGapAssessmentByCase(ctx context.Context, caseID string) (*models.GapAssessment, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, case_id, best_match_id, best_match_similarity, gap_detected, rationale, suggested_title, llm_confirmed, created_at
		FROM gap_assessments WHERE case_id = ?`, caseID)

	var a models.GapAssessment
	var bestMatchID, rationale, suggestedTitle sql.NullString
	var createdAt int64
	err := row.Scan(&a.ID, &a.CaseID, &bestMatchID, &a.BestMatchSimilarity,
		&a.GapDetected, &rationale, &suggestedTitle, &a.LLMConfirmed, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get gap assessment: %w", err)
	}

	a.BestMatchID = bestMatchID.String
	a.Rationale = rationale.String
	a.SuggestedTitle = suggestedTitle.String
	a.CreatedAt = time.Unix(createdAt, 0)
	return &a, nil
}

// Learning events

func (c *Client) InsertLearningEvent(ctx context.Context, e *models.LearningEvent) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO learning_events (id, trigger_case_id, detected_gap, proposed_article_id, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.TriggerCaseID, e.DetectedGap, e.ProposedArticleID, e.Status, e.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert learning event: %w", err)
	}
	return nil
}

func (c *Client) GetLearningEvent(ctx context.Context, id string) (*models.LearningEvent, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, trigger_case_id, detected_gap, proposed_article_id, status, created_at
		FROM learning_events WHERE id = ?`, id)
	return scanLearningEvent(row)
}

func (c *Client) ListLearningEvents(ctx context.Context, statusFilter string, limit, offset int) ([]*models.LearningEvent, error) {
	query := `SELECT id, trigger_case_id, detected_gap, proposed_article_id, status, created_at
		FROM learning_events`
	args := []interface{}{}
	if statusFilter != "" {
		query += " WHERE status = ?"
		args = append(args, statusFilter)
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list learning events: %w", err)
	}
	defer rows.Close()

	events := make([]*models.LearningEvent, 0)
	for rows.Next() {
		event, err := scanLearningEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// TransitionLearningEvent moves a Pending event to Approved or
// Rejected. Terminal events are immutable.
func (c *Client) TransitionLearningEvent(ctx context.Context, id, newStatus string) (*models.LearningEvent, error) {
	if newStatus != models.EventApproved && newStatus != models.EventRejected {
		return nil, fmt.Errorf("invalid learning event status: %s", newStatus)
	}

	event, err := c.GetLearningEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if event.Status != models.EventPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrTerminalStatus, id, event.Status)
	}

	res, err := c.db.ExecContext(ctx,
		`UPDATE learning_events SET status = ? WHERE id = ? AND status = ?`,
		newStatus, id, models.EventPending,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to transition learning event: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to transition learning event: %w", err)
	}
	if affected == 0 {
		// Another review won the race between the read and the
		// guarded update.
		current, err := c.GetLearningEvent(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s is %s", ErrTerminalStatus, id, current.Status)
	}

	event.Status = newStatus
	return event, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLearningEvent(row rowScanner) (*models.LearningEvent, error) {
	var e models.LearningEvent
	var triggerCase, detectedGap, articleID sql.NullString
	var createdAt int64
	err := row.Scan(&e.ID, &triggerCase, &detectedGap, &articleID, &e.Status, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan learning event: %w", err)
	}
	e.TriggerCaseID = triggerCase.String
	e.DetectedGap = detectedGap.String
	e.ProposedArticleID = articleID.String
	e.CreatedAt = time.Unix(createdAt, 0)
	return &e, nil
}

// Provenance lineage

func (c *Client) InsertProvenanceLinks(ctx context.Context, links []models.ProvenanceLink) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, link := range links {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO kb_lineage (id, article_id, source_type, source_id, relationship, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			link.ID, link.ArticleID, link.SourceType, link.SourceID, link.Relationship, link.CreatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert provenance link: %w", err)
		}
	}

	return tx.Commit()
}

func (c *Client) LinksForArticle(ctx context.Context, articleID string) ([]models.ProvenanceLink, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, article_id, source_type, source_id, relationship, created_at
		FROM kb_lineage WHERE article_id = ? ORDER BY created_at, id`, articleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query provenance links: %w", err)
	}
	defer rows.Close()

	links := make([]models.ProvenanceLink, 0)
	for rows.Next() {
		var link models.ProvenanceLink
		var createdAt int64
		if err := rows.Scan(&link.ID, &link.ArticleID, &link.SourceType, &link.SourceID, &link.Relationship, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan provenance link: %w", err)
		}
		link.CreatedAt = time.Unix(createdAt, 0)
		links = append(links, link)
	}
	return links, rows.Err()
}

// Draft articles

func (c *Client) InsertDraftArticle(ctx context.Context, a *models.DraftArticle) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO draft_articles (id, title, body, category, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.Title, a.Body, a.Category, a.Status, a.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert draft article: %w", err)
	}
	return nil
}

func (c *Client) UpdateDraftArticleStatus(ctx context.Context, id, status string) error {
	_, err := c.db.ExecContext(ctx, `UPDATE draft_articles SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update draft article status: %w", err)
	}
	return nil
}

// Conversations

const conversationColumns = `id, case_id, agent_name, channel, transcript, resolution,
	category, priority, qa_score, qa_scores_json, qa_red_flags, qa_scored_at`

func (c *Client) InsertConversation(ctx context.Context, conv *models.Conversation) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO conversations (id, case_id, agent_name, channel, transcript, resolution, category, priority)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.CaseID, conv.AgentName, conv.Channel, conv.Transcript,
		conv.Resolution, conv.Category, conv.Priority,
	)
	if err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}
	return nil
}

func (c *Client) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	return scanConversation(row)
}

// ListConversations pages conversations, optionally filtered by
// scoring state ("scored", "unscored", or "" for all). The second
// return value is the total matching count.
func (c *Client) ListConversations(ctx context.Context, scoredFilter string, limit, offset int) ([]*models.Conversation, int, error) {
	where := ""
	switch scoredFilter {
	case "scored":
		where = " WHERE qa_scored_at IS NOT NULL"
	case "unscored":
		where = " WHERE qa_scored_at IS NULL"
	}

	var total int
	if err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations`+where).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count conversations: %w", err)
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations`+where+` ORDER BY id LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	convs, err := collectConversations(rows)
	return convs, total, err
}

func (c *Client) ListUnscoredConversations(ctx context.Context, limit int) ([]*models.Conversation, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE qa_scored_at IS NULL ORDER BY id LIMIT ?`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unscored conversations: %w", err)
	}
	defer rows.Close()
	return collectConversations(rows)
}

func (c *Client) CountUnscoredConversations(ctx context.Context) (int, error) {
	var count int
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations WHERE qa_scored_at IS NULL`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unscored conversations: %w", err)
	}
	return count, nil
}

// ListQAScores pages scored conversations, newest score first.
// minScore filters out lower scores; redFlagsOnly keeps only
// conversations with at least one red flag.
func (c *Client) ListQAScores(ctx context.Context, minScore float64, redFlagsOnly bool, limit, offset int) ([]*models.Conversation, int, error) {
	where := ` WHERE qa_scored_at IS NOT NULL AND qa_score >= ?`
	args := []interface{}{minScore}
	if redFlagsOnly {
		where += ` AND qa_red_flags IS NOT NULL AND qa_red_flags != ''`
	}

	var total int
	if err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count qa scores: %w", err)
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations`+where+` ORDER BY qa_scored_at DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list qa scores: %w", err)
	}
	defer rows.Close()

	convs, err := collectConversations(rows)
	return convs, total, err
}

func (c *Client) StoreQAResult(ctx context.Context, id string, score float64, scoresJSON string, redFlags []string, scoredAt time.Time) error {
	res, err := c.db.ExecContext(ctx, `
		UPDATE conversations
		SET qa_score = ?, qa_scores_json = ?, qa_red_flags = ?, qa_scored_at = ?
		WHERE id = ?`,
		score, scoresJSON, strings.Join(redFlags, ","), scoredAt.Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to store qa result: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to store qa result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanConversation(row rowScanner) (*models.Conversation, error) {
	var conv models.Conversation
	var agentName, channel, resolution, category, priority, scoresJSON, redFlags sql.NullString
	var score sql.NullFloat64
	var scoredAt sql.NullInt64
	err := row.Scan(&conv.ID, &conv.CaseID, &agentName, &channel, &conv.Transcript,
		&resolution, &category, &priority, &score, &scoresJSON, &redFlags, &scoredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan conversation: %w", err)
	}
	conv.AgentName = agentName.String
	conv.Channel = channel.String
	conv.Resolution = resolution.String
	conv.Category = category.String
	conv.Priority = priority.String
	conv.QAScoresJSON = scoresJSON.String
	if redFlags.String != "" {
		conv.QARedFlags = strings.Split(redFlags.String, ",")
	}
	if score.Valid {
		conv.QAScore = &score.Float64
	}
	if scoredAt.Valid {
		t := time.Unix(scoredAt.Int64, 0)
		conv.QAScoredAt = &t
	}
	return &conv, nil
}

func collectConversations(rows *sql.Rows) ([]*models.Conversation, error) {
	convs := make([]*models.Conversation, 0)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// Evaluation

func (c *Client) ListQuestions(ctx context.Context, limit int) ([]models.Question, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, question_text, answer_type, target_id, difficulty
		FROM questions ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list questions: %w", err)
	}
	defer rows.Close()

	questions := make([]models.Question, 0)
	for rows.Next() {
		var q models.Question
		var answerType, targetID, difficulty sql.NullString
		if err := rows.Scan(&q.ID, &q.Text, &answerType, &targetID, &difficulty); err != nil {
			return nil, fmt.Errorf("failed to scan question: %w", err)
		}
		q.AnswerType = answerType.String
		q.TargetID = targetID.String
		q.Difficulty = difficulty.String
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

func (c *Client) InsertEvaluationRun(ctx context.Context, run *models.EvaluationRun) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO evaluation_runs
			(id, mode, total_questions, errors, classification_accuracy, hit_at_1, hit_at_5, hit_at_10, report_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Mode, run.TotalQuestions, run.Errors, run.ClassificationAccuracy,
		run.HitAt1, run.HitAt5, run.HitAt10, run.ReportJSON, run.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert evaluation run: %w", err)
	}
	return nil
}
