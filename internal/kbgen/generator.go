package kbgen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/support-copilot/backend/internal/llm"
	"github.com/support-copilot/backend/internal/storage/models"
	"github.com/support-copilot/backend/pkg/logger"
)

// ErrEmptyArticle marks a generation round that produced neither a
// title nor a body. Callers should not retry with the same inputs.
var ErrEmptyArticle = errors.New("generated article is empty")

type ArticleWriter interface {
	GenerateArticle(ctx context.Context, caseContext string) (*llm.GeneratedArticle, error)
}

type Store interface {
	InsertDraftArticle(ctx context.Context, a *models.DraftArticle) error
	InsertProvenanceLinks(ctx context.Context, links []models.ProvenanceLink) error
}

type Config struct {
	// TranscriptCharBudget caps how much raw conversation text goes
	// into the generation prompt.
	TranscriptCharBudget int
}

func DefaultConfig() Config {
	return Config{TranscriptCharBudget: 8000}
}

// Input collects the source artifacts an article is generated from.
// Case is required; the transcript and the referenced script are
// optional enrichments.
type Input struct {
	Case         models.SupportCase
	Transcript   string
	TranscriptID string
	ScriptID     string
}

type Generator struct {
	writer ArticleWriter
	store  Store
	cfg    Config
}

func NewGenerator(writer ArticleWriter, store Store, cfg Config) *Generator {
	return &Generator{writer: writer, store: store, cfg: cfg}
}

// Generate produces a draft article from a resolved case and records
// one provenance link per contributing artifact. The draft always
// lands in draft status; publication is a human decision.
func (g *Generator) Generate(ctx context.Context, in Input) (*models.DraftArticle, error) {
	if in.Case.ID == "" {
		return nil, errors.New("case id is required")
	}

	generated, err := g.writer.GenerateArticle(ctx, g.buildContext(in))
	if err != nil {
		return nil, fmt.Errorf("failed to generate article: %w", err)
	}
	if strings.TrimSpace(generated.Title) == "" && strings.TrimSpace(generated.Body) == "" {
		return nil, ErrEmptyArticle
	}

	category := generated.Category
	if category == "" {
		category = in.Case.Category
	}

	draft := &models.DraftArticle{
		ID:        uuid.New().String(),
		Title:     generated.Title,
		Body:      generated.Body,
		Category:  category,
		Status:    models.ArticleDraft,
		CreatedAt: time.Now().UTC(),
	}
	if err := g.store.InsertDraftArticle(ctx, draft); err != nil {
		return nil, fmt.Errorf("failed to persist draft article: %w", err)
	}

	if err := g.store.InsertProvenanceLinks(ctx, g.buildLinks(draft.ID, in)); err != nil {
		return nil, fmt.Errorf("failed to persist provenance links: %w", err)
	}

	logger.Info("draft article generated",
		zap.String("article_id", draft.ID),
		zap.String("case_id", in.Case.ID),
		zap.String("title", draft.Title))

	return draft, nil
}

func (g *Generator) buildContext(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Case: %s\n", in.Case.ID)
	fmt.Fprintf(&b, "Category: %s\n", in.Case.Category)
	if in.Case.Module != "" {
		fmt.Fprintf(&b, "Module: %s\n", in.Case.Module)
	}
	fmt.Fprintf(&b, "Problem: %s\n", in.Case.Description)
	fmt.Fprintf(&b, "Resolution: %s\n", in.Case.Resolution)
	if in.Case.RootCause != "" {
		fmt.Fprintf(&b, "Root cause: %s\n", in.Case.RootCause)
	}
	if in.Transcript != "" {
		fmt.Fprintf(&b, "\nConversation transcript:\n%s\n",
			truncateRunes(in.Transcript, g.cfg.TranscriptCharBudget))
	}
	return b.String()
}

// truncateRunes cuts s to at most max bytes without splitting a rune.
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

func (g *Generator) buildLinks(articleID string, in Input) []models.ProvenanceLink {
	now := time.Now().UTC()
	links := []models.ProvenanceLink{{
		ID:           uuid.New().String(),
		ArticleID:    articleID,
		SourceType:   models.SourceCase,
		SourceID:     in.Case.ID,
		Relationship: models.RelCreatedFrom,
		CreatedAt:    now,
	}}
	if in.TranscriptID != "" {
		links = append(links, models.ProvenanceLink{
			ID:           uuid.New().String(),
			ArticleID:    articleID,
			SourceType:   models.SourceTranscript,
			SourceID:     in.TranscriptID,
			Relationship: models.RelCreatedFrom,
			CreatedAt:    now,
		})
	}
	if in.ScriptID != "" {
		links = append(links, models.ProvenanceLink{
			ID:           uuid.New().String(),
			ArticleID:    articleID,
			SourceType:   models.SourceScript,
			SourceID:     in.ScriptID,
			Relationship: models.RelReferences,
			CreatedAt:    now,
		})
	}
	return links
}
