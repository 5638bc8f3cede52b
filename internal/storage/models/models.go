package models

import "time"

// GapAssessment records the one-time knowledge-gap evaluation of a
// resolved case. At most one assessment exists per case.
type GapAssessment struct {
	ID                  string    `json:"id"`
	CaseID              string    `json:"case_id"`
	BestMatchID         string    `json:"best_match_id,omitempty"`
	BestMatchSimilarity float64   `json:"best_match_similarity"`
	GapDetected         bool      `json:"gap_detected"`
	Rationale           string    `json:"rationale"`
	SuggestedTitle      string    `json:"suggested_title,omitempty"`
	LLMConfirmed        bool      `json:"llm_confirmed"`
	CreatedAt           time.Time `json:"created_at"`
}

const (
	EventPending  = "Pending"
	EventApproved = "Approved"
	EventRejected = "Rejected"
)

// LearningEvent is the human-review unit wrapping a proposed draft
// article. Pending transitions once to Approved or Rejected; terminal
// states are immutable.
type LearningEvent struct {
	ID                string    `json:"id"`
	TriggerCaseID     string    `json:"trigger_case_id"`
	DetectedGap       string    `json:"detected_gap"`
	ProposedArticleID string    `json:"proposed_article_id,omitempty"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
}

const (
	SourceCase       = "CASE"
	SourceTranscript = "TRANSCRIPT"
	SourceScript     = "SCRIPT"

	RelCreatedFrom = "CREATED_FROM"
	RelReferences  = "REFERENCES"
)

// ProvenanceLink records one source artifact a synthetic article was
// generated from.
type ProvenanceLink struct {
	ID           string    `json:"id"`
	ArticleID    string    `json:"article_id"`
	SourceType   string    `json:"source_type"`
	SourceID     string    `json:"source_id"`
	Relationship string    `json:"relationship"`
	CreatedAt    time.Time `json:"created_at"`
}

const (
	ArticleDraft    = "draft"
	ArticleActive   = "active"
	ArticleArchived = "archived"
)

// DraftArticle is a generated article awaiting human review. It is
// never auto-published.
type DraftArticle struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Category  string    `json:"category"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// SupportCase is the resolved-case input to gap detection and article
// generation. Case CRUD itself lives outside this service.
type SupportCase struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Resolution  string `json:"resolution"`
	Category    string `json:"category"`
	Module      string `json:"module"`
	RootCause   string `json:"root_cause"`
}

// Question is one ground-truth evaluation item.
type Question struct {
	ID         string `json:"id"`
	Text       string `json:"question_text"`
	AnswerType string `json:"answer_type"`
	TargetID   string `json:"target_id"`
	Difficulty string `json:"difficulty"`
}

// EvaluationRun is a persisted harness run summary.
type EvaluationRun struct {
	ID                     string    `json:"id"`
	Mode                   string    `json:"mode"`
	TotalQuestions         int       `json:"total_questions"`
	Errors                 int       `json:"errors"`
	ClassificationAccuracy float64   `json:"classification_accuracy"`
	HitAt1                 float64   `json:"hit_at_1"`
	HitAt5                 float64   `json:"hit_at_5"`
	HitAt10                float64   `json:"hit_at_10"`
	ReportJSON             string    `json:"report_json"`
	CreatedAt              time.Time `json:"created_at"`
}

// Conversation is one recorded support interaction. QA fields are
// empty until the conversation has been scored.
type Conversation struct {
	ID           string     `json:"id"`
	CaseID       string     `json:"case_id"`
	AgentName    string     `json:"agent_name,omitempty"`
	Channel      string     `json:"channel,omitempty"`
	Transcript   string     `json:"transcript"`
	Resolution   string     `json:"resolution,omitempty"`
	Category     string     `json:"category,omitempty"`
	Priority     string     `json:"priority,omitempty"`
	QAScore      *float64   `json:"qa_score,omitempty"`
	QAScoresJSON string     `json:"-"`
	QARedFlags   []string   `json:"qa_red_flags,omitempty"`
	QAScoredAt   *time.Time `json:"qa_scored_at,omitempty"`
}

// PoolDocument is one row of a pool's lexical index.
type PoolDocument struct {
	ID    string
	Pool  string
	Title string
	Body  string
}
