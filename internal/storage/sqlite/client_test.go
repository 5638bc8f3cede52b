package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/support-copilot/backend/internal/storage/models"
)

// newTestClient opens a throwaway database with the relational schema
// only, so tests run without the sqlite_fts5 build tag.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	_, err = c.db.Exec(relationalSchema)
	require.NoError(t, err)
	return c
}

func TestGapAssessmentRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	in := &models.GapAssessment{
		ID:                  "GA-1",
		CaseID:              "CASE-0100",
		BestMatchID:         "KB-0042",
		BestMatchSimilarity: 0.42,
		GapDetected:         true,
		Rationale:           "no coverage",
		SuggestedTitle:      "New article",
		LLMConfirmed:        true,
		CreatedAt:           time.Now().UTC(),
	}
	require.NoError(t, c.InsertGapAssessment(ctx, in))

	out, err := c.GetGapAssessmentByCase(ctx, "CASE-0100")
	require.NoError(t, err)
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.BestMatchID, out.BestMatchID)
	assert.Equal(t, in.BestMatchSimilarity, out.BestMatchSimilarity)
	assert.True(t, out.GapDetected)
	assert.True(t, out.LLMConfirmed)
}

func TestGapAssessmentUniquePerCase(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	first := &models.GapAssessment{ID: "GA-1", CaseID: "CASE-0100", CreatedAt: time.Now()}
	require.NoError(t, c.InsertGapAssessment(ctx, first))

	second := &models.GapAssessment{ID: "GA-2", CaseID: "CASE-0100", CreatedAt: time.Now()}
	require.Error(t, c.InsertGapAssessment(ctx, second))
}

func TestGapAssessmentNotFound(t *testing.T) {
	c := newTestClient(t)

	_, err := c.GetGapAssessmentByCase(context.Background(), "CASE-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLearningEventTransition(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	event := &models.LearningEvent{
		ID:            "LE-1",
		TriggerCaseID: "CASE-0100",
		DetectedGap:   "gap",
		Status:        models.EventPending,
		CreatedAt:     time.Now(),
	}
	require.NoError(t, c.InsertLearningEvent(ctx, event))

	approved, err := c.TransitionLearningEvent(ctx, "LE-1", models.EventApproved)
	require.NoError(t, err)
	assert.Equal(t, models.EventApproved, approved.Status)

	stored, err := c.GetLearningEvent(ctx, "LE-1")
	require.NoError(t, err)
	assert.Equal(t, models.EventApproved, stored.Status)
}

func TestLearningEventTerminalIsImmutable(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	event := &models.LearningEvent{ID: "LE-1", Status: models.EventPending, CreatedAt: time.Now()}
	require.NoError(t, c.InsertLearningEvent(ctx, event))

	_, err := c.TransitionLearningEvent(ctx, "LE-1", models.EventRejected)
	require.NoError(t, err)

	_, err = c.TransitionLearningEvent(ctx, "LE-1", models.EventApproved)
	assert.ErrorIs(t, err, ErrTerminalStatus)

	stored, err := c.GetLearningEvent(ctx, "LE-1")
	require.NoError(t, err)
	assert.Equal(t, models.EventRejected, stored.Status)
}

func TestLearningEventConcurrentReviewsOneWinner(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("LE-race-%d", i)
		event := &models.LearningEvent{ID: id, Status: models.EventPending, CreatedAt: time.Now()}
		require.NoError(t, c.InsertLearningEvent(ctx, event))

		start := make(chan struct{})
		results := make(chan error, 2)
		for _, verdict := range []string{models.EventApproved, models.EventRejected} {
			verdict := verdict
			go func() {
				<-start
				_, err := c.TransitionLearningEvent(ctx, id, verdict)
				results <- err
			}()
		}
		close(start)

		var wins, losses int
		for j := 0; j < 2; j++ {
			err := <-results
			if err == nil {
				wins++
				continue
			}
			require.ErrorIs(t, err, ErrTerminalStatus)
			losses++
		}
		require.Equal(t, 1, wins, "exactly one review must succeed")
		require.Equal(t, 1, losses)

		stored, err := c.GetLearningEvent(ctx, id)
		require.NoError(t, err)
		assert.NotEqual(t, models.EventPending, stored.Status)
	}
}

func TestLearningEventInvalidTransition(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	event := &models.LearningEvent{ID: "LE-1", Status: models.EventPending, CreatedAt: time.Now()}
	require.NoError(t, c.InsertLearningEvent(ctx, event))

	_, err := c.TransitionLearningEvent(ctx, "LE-1", "Pending")
	require.Error(t, err)

	_, err = c.TransitionLearningEvent(ctx, "LE-missing", models.EventApproved)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListLearningEventsFiltersByStatus(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	base := time.Now()
	for i, status := range []string{models.EventPending, models.EventPending, models.EventApproved} {
		require.NoError(t, c.InsertLearningEvent(ctx, &models.LearningEvent{
			ID:        string(rune('A' + i)),
			Status:    status,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	pending, err := c.ListLearningEvents(ctx, models.EventPending, 10, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	all, err := c.ListLearningEvents(ctx, "", 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	// Newest first.
	assert.Equal(t, "C", all[0].ID)
}

func TestProvenanceLinksRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	now := time.Now()
	links := []models.ProvenanceLink{
		{ID: "L1", ArticleID: "KB-9001", SourceType: models.SourceCase, SourceID: "CASE-1", Relationship: models.RelCreatedFrom, CreatedAt: now},
		{ID: "L2", ArticleID: "KB-9001", SourceType: models.SourceScript, SourceID: "SCRIPT-1", Relationship: models.RelReferences, CreatedAt: now},
		{ID: "L3", ArticleID: "KB-other", SourceType: models.SourceCase, SourceID: "CASE-2", Relationship: models.RelCreatedFrom, CreatedAt: now},
	}
	require.NoError(t, c.InsertProvenanceLinks(ctx, links))

	out, err := c.LinksForArticle(ctx, "KB-9001")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "CASE-1", out[0].SourceID)
	assert.Equal(t, "SCRIPT-1", out[1].SourceID)
}

func TestDraftArticleStatusUpdate(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	draft := &models.DraftArticle{
		ID: "KB-9001", Title: "T", Body: "B",
		Status: models.ArticleDraft, CreatedAt: time.Now(),
	}
	require.NoError(t, c.InsertDraftArticle(ctx, draft))
	require.NoError(t, c.UpdateDraftArticleStatus(ctx, "KB-9001", models.ArticleActive))
}

func TestConversationQARoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	conv := &models.Conversation{
		ID:         "CONV-1",
		CaseID:     "CASE-0001",
		AgentName:  "Jordan",
		Channel:    "chat",
		Transcript: "hello",
		Resolution: "fixed",
		Category:   "Compliance",
		Priority:   "High",
	}
	require.NoError(t, c.InsertConversation(ctx, conv))

	loaded, err := c.GetConversation(ctx, "CONV-1")
	require.NoError(t, err)
	assert.Equal(t, "Jordan", loaded.AgentName)
	assert.Nil(t, loaded.QAScore)
	assert.Nil(t, loaded.QAScoredAt)

	scoredAt := time.Now()
	require.NoError(t, c.StoreQAResult(ctx, "CONV-1", 83.5, `{"summary":"solid"}`,
		[]string{"skipped identity verification"}, scoredAt))

	loaded, err = c.GetConversation(ctx, "CONV-1")
	require.NoError(t, err)
	require.NotNil(t, loaded.QAScore)
	assert.InDelta(t, 83.5, *loaded.QAScore, 0.001)
	assert.Equal(t, `{"summary":"solid"}`, loaded.QAScoresJSON)
	assert.Equal(t, []string{"skipped identity verification"}, loaded.QARedFlags)
	require.NotNil(t, loaded.QAScoredAt)
	assert.Equal(t, scoredAt.Unix(), loaded.QAScoredAt.Unix())

	_, err = c.GetConversation(ctx, "CONV-missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, c.StoreQAResult(ctx, "CONV-missing", 10, "{}", nil, scoredAt), ErrNotFound)
}

func TestConversationScoredFilterAndCounts(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	for _, id := range []string{"CONV-1", "CONV-2", "CONV-3"} {
		conv := &models.Conversation{ID: id, CaseID: "CASE-0001", Transcript: "t"}
		require.NoError(t, c.InsertConversation(ctx, conv))
	}
	require.NoError(t, c.StoreQAResult(ctx, "CONV-2", 70, "{}", nil, time.Now()))

	scored, total, err := c.ListConversations(ctx, "scored", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, scored, 1)
	assert.Equal(t, "CONV-2", scored[0].ID)

	unscored, total, err := c.ListConversations(ctx, "unscored", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, unscored, 2)

	all, total, err := c.ListConversations(ctx, "", 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, all, 1)

	count, err := c.CountUnscoredConversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	pending, err := c.ListUnscoredConversations(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestListQAScoresFilters(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	for _, id := range []string{"CONV-1", "CONV-2", "CONV-3"} {
		conv := &models.Conversation{ID: id, CaseID: "CASE-0001", Transcript: "t"}
		require.NoError(t, c.InsertConversation(ctx, conv))
	}
	base := time.Now().Add(-time.Hour)
	require.NoError(t, c.StoreQAResult(ctx, "CONV-1", 90, "{}", nil, base))
	require.NoError(t, c.StoreQAResult(ctx, "CONV-2", 0, "{}",
		[]string{"unauthorized financial change"}, base.Add(time.Minute)))
	require.NoError(t, c.StoreQAResult(ctx, "CONV-3", 55, "{}", nil, base.Add(2*time.Minute)))

	all, total, err := c.ListQAScores(ctx, 0, false, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, all, 3)
	assert.Equal(t, "CONV-3", all[0].ID, "newest score first")

	high, total, err := c.ListQAScores(ctx, 60, false, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, high, 1)
	assert.Equal(t, "CONV-1", high[0].ID)

	flagged, total, err := c.ListQAScores(ctx, 0, true, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, flagged, 1)
	assert.Equal(t, "CONV-2", flagged[0].ID)
	assert.Equal(t, []string{"unauthorized financial change"}, flagged[0].QARedFlags)
}

func TestQuestionsAndEvaluationRuns(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.db.Exec(`INSERT INTO questions (id, question_text, answer_type, target_id, difficulty)
		VALUES ('Q1', 'how to fix', 'SCRIPT', 'SCRIPT-0001', 'easy'),
		       ('Q2', 'what is', 'KNOWLEDGE_ARTICLE', 'KB-0001', 'hard')`)
	require.NoError(t, err)

	questions, err := c.ListQuestions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, questions, 2)
	assert.Equal(t, "SCRIPT", questions[0].AnswerType)

	limited, err := c.ListQuestions(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	require.NoError(t, c.InsertEvaluationRun(ctx, &models.EvaluationRun{
		ID: "RUN-1", Mode: "quick", TotalQuestions: 2,
		HitAt1: 0.5, HitAt5: 1.0, HitAt10: 1.0,
		ReportJSON: "{}", CreatedAt: time.Now(),
	}))
}
