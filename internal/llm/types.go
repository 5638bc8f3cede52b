package llm

import "github.com/support-copilot/backend/internal/search"

// Classification is the router's verdict for a query. Degraded marks a
// pipeline-failure fallback (confidence 0) as opposed to a genuinely
// low-confidence classification.
type Classification struct {
	AnswerType  search.Pool `json:"answer_type"`
	Confidence  float64     `json:"confidence"`
	Reasoning   string      `json:"reasoning"`
	SearchQuery string      `json:"search_query"`
	Degraded    bool        `json:"degraded,omitempty"`
}

// SubQuery is one decomposition unit of a research query.
type SubQuery struct {
	Query  string      `json:"query"`
	Pool   search.Pool `json:"pool"`
	Aspect string      `json:"aspect"`
}

type EvidenceItem struct {
	SourceID       string `json:"source_id"`
	SourceType     string `json:"source_type"`
	Title          string `json:"title"`
	Relevance      string `json:"relevance"`
	ContentPreview string `json:"content_preview"`
}

type RelatedResource struct {
	SourceID    string `json:"source_id"`
	SourceType  string `json:"source_type"`
	Title       string `json:"title"`
	WhyRelevant string `json:"why_relevant"`
}

type ResearchReport struct {
	Summary          string            `json:"summary"`
	Evidence         []EvidenceItem    `json:"evidence"`
	RelatedResources []RelatedResource `json:"related_resources"`
}

type GapConfirmation struct {
	GapDetected    bool   `json:"gap_detected"`
	GapDescription string `json:"gap_description"`
	SuggestedTitle string `json:"suggested_title"`
}

type GeneratedArticle struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	Category string `json:"category"`
}

// QACategoryScore is one rubric category verdict.
type QACategoryScore struct {
	Score    float64 `json:"score"`
	Weight   float64 `json:"weight"`
	Feedback string  `json:"feedback"`
}

// QAScore is the model's rubric evaluation of one conversation. The
// reported overall is advisory; callers recompute it from the
// category scores and weights.
type QAScore struct {
	OverallScore float64                    `json:"overall_score"`
	Categories   map[string]QACategoryScore `json:"categories"`
	RedFlags     []string                   `json:"red_flags"`
	Summary      string                     `json:"summary"`
}

// Candidate is the compact view of a retrieved document handed to the
// rerank and synthesis calls.
type Candidate struct {
	ID             string
	SourceType     search.Pool
	Title          string
	ContentPreview string
	Score          float64
}
