package gap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/support-copilot/backend/internal/llm"
	"github.com/support-copilot/backend/internal/search"
	"github.com/support-copilot/backend/internal/storage/models"
	"github.com/support-copilot/backend/internal/storage/sqlite"
)

type fakeEmbedder struct {
	calls int
	err   error
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2}, nil
}

type fakeSearcher struct {
	results []search.FusedResult
	err     error
	calls   int
	lastQ   string
}

func (f *fakeSearcher) Search(_ context.Context, _ search.Pool, queryText string, _ []float32, _ int) ([]search.FusedResult, bool, error) {
	f.calls++
	f.lastQ = queryText
	return f.results, false, f.err
}

type fakeConfirmer struct {
	confirmation *llm.GapConfirmation
	err          error
	calls        int
}

func (f *fakeConfirmer) ConfirmGap(_ context.Context, _, _, _, _ string) (*llm.GapConfirmation, error) {
	f.calls++
	return f.confirmation, f.err
}

type fakeStore struct {
	existing *models.GapAssessment
	inserted *models.GapAssessment
}

func (f *fakeStore) GetGapAssessmentByCase(_ context.Context, _ string) (*models.GapAssessment, error) {
	if f.existing != nil {
		return f.existing, nil
	}
	return nil, sqlite.ErrNotFound
}

func (f *fakeStore) InsertGapAssessment(_ context.Context, a *models.GapAssessment) error {
	f.inserted = a
	return nil
}

func articleMatch(id string, similarity float64) []search.FusedResult {
	return []search.FusedResult{{
		PoolResult: search.PoolResult{
			Pool:          search.PoolArticle,
			ID:            id,
			Title:         "Voucher date advance",
			SemanticScore: similarity,
		},
		FusedScore: similarity,
	}}
}

func testCase() models.SupportCase {
	return models.SupportCase{
		ID:          "CASE-0100",
		Description: "date advance fails with invalid voucher reference",
		Resolution:  "cleared the dangling voucher and re-ran date advance",
		Category:    "accounting",
	}
}

func TestAssess_HighSimilaritySkipsConfirmation(t *testing.T) {
	searcher := &fakeSearcher{results: articleMatch("KB-0042", 0.91)}
	confirmer := &fakeConfirmer{}
	store := &fakeStore{}

	engine := NewEngine(&fakeEmbedder{}, searcher, confirmer, store, DefaultConfig())

	assessment, err := engine.Assess(context.Background(), testCase())
	require.NoError(t, err)

	assert.False(t, assessment.GapDetected)
	assert.Equal(t, "KB-0042", assessment.BestMatchID)
	assert.Equal(t, 0.91, assessment.BestMatchSimilarity)
	assert.False(t, assessment.LLMConfirmed)
	assert.Zero(t, confirmer.calls)
	require.NotNil(t, store.inserted)

	// Similarity gating runs on the vector alone.
	assert.Empty(t, searcher.lastQ)
}

func TestAssess_LowSimilarityConfirmedGap(t *testing.T) {
	searcher := &fakeSearcher{results: articleMatch("KB-0042", 0.42)}
	confirmer := &fakeConfirmer{confirmation: &llm.GapConfirmation{
		GapDetected:    true,
		GapDescription: "no article covers dangling voucher cleanup",
		SuggestedTitle: "Resolving date advance voucher reference errors",
	}}
	store := &fakeStore{}

	engine := NewEngine(&fakeEmbedder{}, searcher, confirmer, store, DefaultConfig())

	assessment, err := engine.Assess(context.Background(), testCase())
	require.NoError(t, err)

	assert.True(t, assessment.GapDetected)
	assert.True(t, assessment.LLMConfirmed)
	assert.Equal(t, "no article covers dangling voucher cleanup", assessment.Rationale)
	assert.Equal(t, "Resolving date advance voucher reference errors", assessment.SuggestedTitle)
	assert.Equal(t, 1, confirmer.calls)
}

func TestAssess_LowSimilarityConfirmedNoGap(t *testing.T) {
	searcher := &fakeSearcher{results: articleMatch("KB-0042", 0.42)}
	confirmer := &fakeConfirmer{confirmation: &llm.GapConfirmation{
		GapDetected:    false,
		GapDescription: "the resolution restates an existing article",
	}}
	store := &fakeStore{}

	engine := NewEngine(&fakeEmbedder{}, searcher, confirmer, store, DefaultConfig())

	assessment, err := engine.Assess(context.Background(), testCase())
	require.NoError(t, err)

	assert.False(t, assessment.GapDetected)
	assert.True(t, assessment.LLMConfirmed)
}

func TestAssess_ConfirmationFailureAssumesGap(t *testing.T) {
	searcher := &fakeSearcher{results: articleMatch("KB-0042", 0.42)}
	confirmer := &fakeConfirmer{err: llm.ErrMalformed}
	store := &fakeStore{}

	engine := NewEngine(&fakeEmbedder{}, searcher, confirmer, store, DefaultConfig())

	assessment, err := engine.Assess(context.Background(), testCase())
	require.NoError(t, err)

	assert.True(t, assessment.GapDetected)
	assert.False(t, assessment.LLMConfirmed)
	assert.Contains(t, assessment.Rationale, "gap assumed")
}

func TestAssess_EmptyArticlePoolIsAGapCandidate(t *testing.T) {
	searcher := &fakeSearcher{}
	confirmer := &fakeConfirmer{confirmation: &llm.GapConfirmation{GapDetected: true, GapDescription: "nothing exists"}}
	store := &fakeStore{}

	engine := NewEngine(&fakeEmbedder{}, searcher, confirmer, store, DefaultConfig())

	assessment, err := engine.Assess(context.Background(), testCase())
	require.NoError(t, err)

	assert.True(t, assessment.GapDetected)
	assert.Empty(t, assessment.BestMatchID)
	assert.Zero(t, assessment.BestMatchSimilarity)
	assert.Equal(t, 1, confirmer.calls)
}

func TestAssess_RepeatCallReturnsStoredVerdict(t *testing.T) {
	existing := &models.GapAssessment{ID: "GA-1", CaseID: "CASE-0100", GapDetected: true}
	embedder := &fakeEmbedder{}
	searcher := &fakeSearcher{}
	confirmer := &fakeConfirmer{}
	store := &fakeStore{existing: existing}

	engine := NewEngine(embedder, searcher, confirmer, store, DefaultConfig())

	assessment, err := engine.Assess(context.Background(), testCase())
	require.NoError(t, err)

	assert.Same(t, existing, assessment)
	assert.Zero(t, embedder.calls)
	assert.Zero(t, searcher.calls)
	assert.Zero(t, confirmer.calls)
	assert.Nil(t, store.inserted)
}

func TestAssess_SearchFailureIsFatal(t *testing.T) {
	searcher := &fakeSearcher{err: search.ErrTransient}
	engine := NewEngine(&fakeEmbedder{}, searcher, &fakeConfirmer{}, &fakeStore{}, DefaultConfig())

	_, err := engine.Assess(context.Background(), testCase())
	require.Error(t, err)
	assert.ErrorIs(t, err, search.ErrTransient)
}

func TestAssess_MissingCaseID(t *testing.T) {
	engine := NewEngine(&fakeEmbedder{}, &fakeSearcher{}, &fakeConfirmer{}, &fakeStore{}, DefaultConfig())

	_, err := engine.Assess(context.Background(), models.SupportCase{})
	require.Error(t, err)
}
