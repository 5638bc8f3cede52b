package llm

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/support-copilot/backend/internal/search"
	"github.com/support-copilot/backend/pkg/logger"
)

const classificationSystemPrompt = `You are a support triage classifier for a property-management support desk.
Given a customer support question, classify what type of resource would best answer it,
and produce a concise, search-optimized rewrite of the question.

Categories:
- SCRIPT: The question describes a backend data issue that requires a SQL fix script.
  Indicators: "backend data", "sync", "invalid reference", "Tier 3", data fix needed,
  database correction, data inconsistency, "remediation script", "what script should we run".
- KNOWLEDGE_ARTICLE: The question asks about a workflow, how-to, configuration, or best practice.
  Indicators: "how to", "where do I", "steps to", workflow question, configuration help,
  best practice, "common mistakes", troubleshooting guidance.
- CASE_RESOLUTION: The question asks how a specific past issue was resolved,
  or requests precedent from previous cases.
  Indicators: "how was this resolved", "similar cases", "what was the resolution",
  "past incident", "precedent".

Rules for search_query:
- Remove filler words, pleasantries, and redundant context
- Keep product names, module names, error messages, and technical terms
- Expand acronyms where possible
- Aim for 8-15 keywords that would match relevant documents

Respond ONLY with valid JSON (no markdown fences):
{"answer_type": "SCRIPT|KNOWLEDGE_ARTICLE|CASE_RESOLUTION", "confidence": 0.0-1.0, "reasoning": "brief explanation", "search_query": "concise keyword-rich search query"}`

const decompositionSystemPrompt = `You are a query decomposition engine for a support knowledge system.
Given a complex question, break it into 2-4 focused sub-queries that together cover the full scope.

Each sub-query targets one of these pools:
- KNOWLEDGE_ARTICLE: knowledge base articles (how-to guides, workflows, configuration)
- SCRIPT: SQL fix scripts (backend data fixes, remediation)
- CASE_RESOLUTION: past case resolutions (precedent, similar cases)

Respond ONLY with valid JSON (no markdown fences):
[{"query": "concise search query", "pool": "KNOWLEDGE_ARTICLE|SCRIPT|CASE_RESOLUTION", "aspect": "what this sub-query investigates"}]`

const synthesisSystemPrompt = `You are a research synthesis engine for a support knowledge system.
Given a user question and search results from multiple sub-queries, produce a structured research report.

Rules:
- The summary should directly answer the question, synthesizing information across all sources
- Every claim in the summary must be traceable to a source_id in the evidence
- Evidence items must use source_id values exactly as provided in the search results
- Related resources are tangentially relevant sources not directly cited in the summary
- If sources conflict, note the discrepancy in the summary
- Keep the summary concise but comprehensive (2-4 paragraphs)

Respond ONLY with valid JSON (no markdown fences):
{"summary": "...", "evidence": [{"source_id": "...", "source_type": "...", "title": "...", "relevance": "...", "content_preview": "..."}], "related_resources": [{"source_id": "...", "source_type": "...", "title": "...", "why_relevant": "..."}]}`

const gapDetectionSystemPrompt = `You are a knowledge gap detector for a support knowledge base.

You are given a resolved support case and the closest matching existing knowledge article.

Determine if the case resolution contains NEW knowledge that should be captured
in an article. Consider:
- Does the existing article cover this exact scenario adequately?
- Is the resolution substantially different from the existing article?
- Does the resolution contain specific steps or insights not in the knowledge base?

Respond ONLY with valid JSON (no markdown fences):
{"gap_detected": true/false, "gap_description": "what knowledge is missing", "suggested_title": "title for a new article"}`

const articleSystemPrompt = `You are a technical writer for a property-management support desk.
Generate a knowledge base article from the provided resolved support case.

Requirements:
- Title: clear, searchable title describing the issue and resolution
- Body structure:
  1. Problem description (what the user experiences)
  2. Root cause (why it happens)
  3. Resolution steps (numbered, actionable)
  4. Related information (category, module, affected roles)
- Use the conversation transcript for context on the user's experience
- If a fix script was used, reference it but do not include raw SQL
- Keep the language professional and consistent with existing articles

Respond ONLY with valid JSON (no markdown fences):
{"title": "Article Title", "body": "Full article text", "category": "Category Name"}`

const qaScoringSystemPrompt = `You are a QA evaluator for a property-management support desk.

Score the following support interaction on 6 weighted categories using a 0-100 scale:

1. Greeting & Empathy (10%): professional opening, empathetic language, active listening
2. Issue Identification (15%): correctly identified the root cause, asked clarifying questions
3. Troubleshooting Quality (20%): systematic diagnosis, followed standard procedures, efficient process
4. Resolution Accuracy (25%): correct fix applied, verified resolution, addressed all aspects
5. Documentation Quality (15%): clear notes, proper categorization, actionable follow-up items
6. Compliance & Safety (15%): data privacy respected, proper authorization checks, escalation when needed

Auto-zero red flags. If ANY of these are present, set overall_score to 0:
- Shared credentials or passwords in plaintext
- Skipped required identity verification
- Made unauthorized changes to financial data
- Gave medical/legal advice outside scope

Respond ONLY with valid JSON (no markdown fences):
{"overall_score": <weighted average 0-100 or 0 if red flag>, "categories": {"greeting_empathy": {"score": <0-100>, "weight": 0.10, "feedback": "<1 sentence>"}, "issue_identification": {"score": <0-100>, "weight": 0.15, "feedback": "<1 sentence>"}, "troubleshooting_quality": {"score": <0-100>, "weight": 0.20, "feedback": "<1 sentence>"}, "resolution_accuracy": {"score": <0-100>, "weight": 0.25, "feedback": "<1 sentence>"}, "documentation_quality": {"score": <0-100>, "weight": 0.15, "feedback": "<1 sentence>"}, "compliance_safety": {"score": <0-100>, "weight": 0.15, "feedback": "<1 sentence>"}}, "red_flags": ["<flag description if any>"], "summary": "<2-3 sentence overall assessment>"}`

// Classify routes a question to its answer pool and rewrites it for
// embedding recall. It never returns an error: when the model is
// unreachable or keeps producing malformed output, the result is a
// degraded KNOWLEDGE_ARTICLE classification with confidence 0, flagged
// so callers can tell it apart from a real low-confidence verdict.
func (c *Client) Classify(ctx context.Context, question string) Classification {
	var parsed struct {
		AnswerType  string  `json:"answer_type"`
		Confidence  float64 `json:"confidence"`
		Reasoning   string  `json:"reasoning"`
		SearchQuery string  `json:"search_query"`
	}

	err := c.completeJSON(ctx, CompletionRequest{
		Model:        c.fastModel,
		SystemPrompt: classificationSystemPrompt,
		UserPrompt:   question,
		MaxTokens:    300,
	}, &parsed)
	if err != nil {
		logger.Warn("Classification failed, returning degraded fallback", zap.Error(err))
		return DegradedClassification(question)
	}

	answerType := search.Pool(parsed.AnswerType)
	confidence := parsed.Confidence
	if !answerType.Valid() {
		answerType = search.PoolArticle
		confidence = 0.5
	}

	searchQuery := parsed.SearchQuery
	if searchQuery == "" {
		searchQuery = question
	}

	return Classification{
		AnswerType:  answerType,
		Confidence:  confidence,
		Reasoning:   parsed.Reasoning,
		SearchQuery: searchQuery,
	}
}

// DegradedClassification is the fallback verdict used when the
// classification pipeline itself is unusable. KNOWLEDGE_ARTICLE is the
// broadest-coverage pool.
func DegradedClassification(question string) Classification {
	return Classification{
		AnswerType:  search.PoolArticle,
		Confidence:  0,
		Reasoning:   "Classification pipeline failed; defaulting to knowledge article search.",
		SearchQuery: question,
		Degraded:    true,
	}
}

// Decompose splits a complex question into at most maxSubQueries
// pool-targeted sub-queries. The second return value reports the
// fallback path: a single sub-query against the article pool when the
// model output was unusable.
func (c *Client) Decompose(ctx context.Context, question string, maxSubQueries int) ([]SubQuery, bool) {
	var parsed []struct {
		Query  string `json:"query"`
		Pool   string `json:"pool"`
		Aspect string `json:"aspect"`
	}

	err := c.completeJSON(ctx, CompletionRequest{
		Model:        c.fastModel,
		SystemPrompt: decompositionSystemPrompt,
		UserPrompt:   question,
		MaxTokens:    500,
	}, &parsed)
	if err != nil || len(parsed) == 0 {
		logger.Warn("Decomposition failed, using raw question", zap.Error(err))
		return []SubQuery{{Query: question, Pool: search.PoolArticle, Aspect: "general search"}}, true
	}

	if len(parsed) > maxSubQueries {
		parsed = parsed[:maxSubQueries]
	}

	subQueries := make([]SubQuery, 0, len(parsed))
	for _, item := range parsed {
		pool := search.Pool(item.Pool)
		if !pool.Valid() {
			pool = search.PoolArticle
		}
		query := item.Query
		if query == "" {
			query = question
		}
		subQueries = append(subQueries, SubQuery{Query: query, Pool: pool, Aspect: item.Aspect})
	}

	return subQueries, false
}

// Rerank asks the model to reorder candidates by relevance to the
// question and returns the candidate IDs in ranked order. Callers keep
// the fused order when this fails.
func (c *Client) Rerank(ctx context.Context, question string, candidates []Candidate) ([]string, error) {
	previews := make([]string, 0, len(candidates))
	for _, cand := range candidates {
		previews = append(previews, fmt.Sprintf("[%s] %s: %s",
			cand.ID, truncate(cand.Title, 120), truncate(cand.ContentPreview, 200)))
	}

	prompt := fmt.Sprintf("Given the support question and candidate results below, "+
		"return the IDs in order of relevance (most relevant first). "+
		"Return ONLY a JSON array of IDs, e.g. [\"KB-123\", \"SCRIPT-45\"].\n\n"+
		"Question: %s\n\nCandidates:\n%s", question, strings.Join(previews, "\n"))

	var rankedIDs []string
	err := c.completeJSON(ctx, CompletionRequest{
		Model:      c.fastModel,
		UserPrompt: prompt,
		MaxTokens:  500,
	}, &rankedIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to rerank candidates: %w", err)
	}

	return rankedIDs, nil
}

// Synthesize produces the narrative research report over the merged
// candidate set. Evidence citing unknown source IDs is dropped rather
// than trusted.
func (c *Client) Synthesize(ctx context.Context, question string, candidates []Candidate) (*ResearchReport, error) {
	validIDs := make(map[string]bool, len(candidates))
	contextLines := make([]string, 0, len(candidates))
	for _, cand := range candidates {
		validIDs[cand.ID] = true
		contextLines = append(contextLines, fmt.Sprintf("[%s] (type: %s, score: %.3f) %s\n%s",
			cand.ID, cand.SourceType, cand.Score, truncate(cand.Title, 150), truncate(cand.ContentPreview, 300)))
	}

	userPrompt := fmt.Sprintf("Question: %s\n\nSearch results:\n%s",
		question, strings.Join(contextLines, "\n\n"))

	var report ResearchReport
	err := c.completeJSON(ctx, CompletionRequest{
		Model:        c.synthModel,
		SystemPrompt: synthesisSystemPrompt,
		UserPrompt:   userPrompt,
		MaxTokens:    2000,
	}, &report)
	if err != nil {
		return nil, fmt.Errorf("failed to synthesize report: %w", err)
	}

	evidence := report.Evidence[:0]
	for _, item := range report.Evidence {
		if validIDs[item.SourceID] {
			evidence = append(evidence, item)
		}
	}
	report.Evidence = evidence

	related := report.RelatedResources[:0]
	for _, item := range report.RelatedResources {
		if validIDs[item.SourceID] {
			related = append(related, item)
		}
	}
	report.RelatedResources = related

	return &report, nil
}

// ConfirmGap asks whether a case resolution contains materially new
// knowledge not covered by the best-matching article.
func (c *Client) ConfirmGap(ctx context.Context, description, resolution, category, bestMatchContext string) (*GapConfirmation, error) {
	userPrompt := fmt.Sprintf("Case Category: %s\n\nCase Description:\n%s\n\nCase Resolution:\n%s\n\nClosest Existing Article:\n%s",
		category, description, resolution, bestMatchContext)

	var confirmation GapConfirmation
	err := c.completeJSON(ctx, CompletionRequest{
		Model:        c.fastModel,
		SystemPrompt: gapDetectionSystemPrompt,
		UserPrompt:   userPrompt,
		MaxTokens:    300,
	}, &confirmation)
	if err != nil {
		return nil, fmt.Errorf("failed to confirm gap: %w", err)
	}

	return &confirmation, nil
}

// GenerateArticle writes a draft knowledge article from the prepared
// case context.
func (c *Client) GenerateArticle(ctx context.Context, caseContext string) (*GeneratedArticle, error) {
	var article GeneratedArticle
	err := c.completeJSON(ctx, CompletionRequest{
		Model:        c.synthModel,
		SystemPrompt: articleSystemPrompt,
		UserPrompt:   caseContext,
		MaxTokens:    1500,
	}, &article)
	if err != nil {
		return nil, fmt.Errorf("failed to generate article: %w", err)
	}

	return &article, nil
}

// ScoreConversation grades one support interaction against the QA
// rubric. The transcript is truncated to keep the prompt bounded.
func (c *Client) ScoreConversation(ctx context.Context, transcript, resolution, category, priority string) (*QAScore, error) {
	userPrompt := fmt.Sprintf("Category: %s\nPriority: %s\n\nTranscript:\n%s\n\nResolution:\n%s",
		category, priority, truncate(transcript, 8000), resolution)

	var score QAScore
	err := c.completeJSON(ctx, CompletionRequest{
		Model:        c.fastModel,
		SystemPrompt: qaScoringSystemPrompt,
		UserPrompt:   userPrompt,
		MaxTokens:    600,
	}, &score)
	if err != nil {
		return nil, fmt.Errorf("failed to score conversation: %w", err)
	}

	return &score, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
