package kbgen

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/support-copilot/backend/internal/llm"
	"github.com/support-copilot/backend/internal/storage/models"
)

type fakeWriter struct {
	article     *llm.GeneratedArticle
	err         error
	lastContext string
}

func (f *fakeWriter) GenerateArticle(_ context.Context, caseContext string) (*llm.GeneratedArticle, error) {
	f.lastContext = caseContext
	return f.article, f.err
}

type fakeStore struct {
	draft *models.DraftArticle
	links []models.ProvenanceLink
}

func (f *fakeStore) InsertDraftArticle(_ context.Context, a *models.DraftArticle) error {
	f.draft = a
	return nil
}

func (f *fakeStore) InsertProvenanceLinks(_ context.Context, links []models.ProvenanceLink) error {
	f.links = links
	return nil
}

func testInput() Input {
	return Input{
		Case: models.SupportCase{
			ID:          "CASE-0100",
			Description: "date advance fails with invalid voucher reference",
			Resolution:  "cleared the dangling voucher and re-ran date advance",
			Category:    "accounting",
		},
	}
}

func TestGenerate_DraftWithCaseProvenance(t *testing.T) {
	writer := &fakeWriter{article: &llm.GeneratedArticle{
		Title:    "Resolving voucher reference errors during date advance",
		Body:     "Steps...",
		Category: "accounting",
	}}
	store := &fakeStore{}

	gen := NewGenerator(writer, store, DefaultConfig())

	draft, err := gen.Generate(context.Background(), testInput())
	require.NoError(t, err)

	assert.Equal(t, models.ArticleDraft, draft.Status)
	assert.NotEmpty(t, draft.ID)
	require.NotNil(t, store.draft)

	require.Len(t, store.links, 1)
	assert.Equal(t, models.SourceCase, store.links[0].SourceType)
	assert.Equal(t, "CASE-0100", store.links[0].SourceID)
	assert.Equal(t, models.RelCreatedFrom, store.links[0].Relationship)
	assert.Equal(t, draft.ID, store.links[0].ArticleID)
}

func TestGenerate_TranscriptAndScriptProvenance(t *testing.T) {
	writer := &fakeWriter{article: &llm.GeneratedArticle{Title: "T", Body: "B"}}
	store := &fakeStore{}
	gen := NewGenerator(writer, store, DefaultConfig())

	in := testInput()
	in.Transcript = "agent: hello"
	in.TranscriptID = "TRANSCRIPT-0007"
	in.ScriptID = "SCRIPT-0293"

	draft, err := gen.Generate(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, store.links, 3)
	byType := map[string]models.ProvenanceLink{}
	for _, l := range store.links {
		byType[l.SourceType] = l
		assert.Equal(t, draft.ID, l.ArticleID)
	}
	assert.Equal(t, models.RelCreatedFrom, byType[models.SourceCase].Relationship)
	assert.Equal(t, models.RelCreatedFrom, byType[models.SourceTranscript].Relationship)
	assert.Equal(t, models.RelReferences, byType[models.SourceScript].Relationship)
	assert.Equal(t, "SCRIPT-0293", byType[models.SourceScript].SourceID)
}

func TestGenerate_TranscriptTruncatedToBudget(t *testing.T) {
	writer := &fakeWriter{article: &llm.GeneratedArticle{Title: "T", Body: "B"}}
	cfg := Config{TranscriptCharBudget: 100}
	gen := NewGenerator(writer, &fakeStore{}, cfg)

	in := testInput()
	in.Transcript = strings.Repeat("x", 500)

	_, err := gen.Generate(context.Background(), in)
	require.NoError(t, err)

	assert.Contains(t, writer.lastContext, strings.Repeat("x", 100))
	assert.NotContains(t, writer.lastContext, strings.Repeat("x", 101))
}

func TestGenerate_TranscriptTruncationKeepsRunesWhole(t *testing.T) {
	writer := &fakeWriter{article: &llm.GeneratedArticle{Title: "T", Body: "B"}}
	cfg := Config{TranscriptCharBudget: 100}
	gen := NewGenerator(writer, &fakeStore{}, cfg)

	in := testInput()
	// 99 ASCII bytes followed by a two-byte rune straddling the budget.
	in.Transcript = strings.Repeat("x", 99) + "éé"

	_, err := gen.Generate(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(writer.lastContext))
	assert.NotContains(t, writer.lastContext, "é")
}

func TestGenerate_EmptyArticleIsHardError(t *testing.T) {
	writer := &fakeWriter{article: &llm.GeneratedArticle{Title: "  ", Body: ""}}
	store := &fakeStore{}
	gen := NewGenerator(writer, store, DefaultConfig())

	_, err := gen.Generate(context.Background(), testInput())
	require.ErrorIs(t, err, ErrEmptyArticle)
	assert.Nil(t, store.draft)
	assert.Empty(t, store.links)
}

func TestGenerate_CategoryFallsBackToCase(t *testing.T) {
	writer := &fakeWriter{article: &llm.GeneratedArticle{Title: "T", Body: "B"}}
	store := &fakeStore{}
	gen := NewGenerator(writer, store, DefaultConfig())

	draft, err := gen.Generate(context.Background(), testInput())
	require.NoError(t, err)
	assert.Equal(t, "accounting", draft.Category)
}

func TestGenerate_WriterFailurePropagates(t *testing.T) {
	writer := &fakeWriter{err: errors.New("model unavailable")}
	gen := NewGenerator(writer, &fakeStore{}, DefaultConfig())

	_, err := gen.Generate(context.Background(), testInput())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrEmptyArticle)
}
