package gap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/support-copilot/backend/internal/llm"
	"github.com/support-copilot/backend/internal/metrics"
	"github.com/support-copilot/backend/internal/search"
	"github.com/support-copilot/backend/internal/storage/models"
	"github.com/support-copilot/backend/internal/storage/sqlite"
	"github.com/support-copilot/backend/pkg/logger"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type ArticleSearcher interface {
	Search(ctx context.Context, pool search.Pool, queryText string, queryVector []float32, limit int) ([]search.FusedResult, bool, error)
}

type Confirmer interface {
	ConfirmGap(ctx context.Context, description, resolution, category, bestMatchContext string) (*llm.GapConfirmation, error)
}

type Store interface {
	GetGapAssessmentByCase(ctx context.Context, caseID string) (*models.GapAssessment, error)
	InsertGapAssessment(ctx context.Context, a *models.GapAssessment) error
}

type Config struct {
	// SimilarityThreshold is the cosine score at or above which the
	// best article match counts as existing coverage without asking
	// the model.
	SimilarityThreshold float64
}

func DefaultConfig() Config {
	return Config{SimilarityThreshold: 0.85}
}

type Engine struct {
	embedder  Embedder
	searcher  ArticleSearcher
	confirmer Confirmer
	store     Store
	cfg       Config
}

func NewEngine(embedder Embedder, searcher ArticleSearcher, confirmer Confirmer, store Store, cfg Config) *Engine {
	return &Engine{
		embedder:  embedder,
		searcher:  searcher,
		confirmer: confirmer,
		store:     store,
		cfg:       cfg,
	}
}

// Assess evaluates whether a resolved case exposes a knowledge gap.
// Each case is assessed at most once; a repeat call returns the stored
// verdict without touching the search or model layers.
func (e *Engine) Assess(ctx context.Context, c models.SupportCase) (*models.GapAssessment, error) {
	if c.ID == "" {
		return nil, errors.New("case id is required")
	}

	existing, err := e.store.GetGapAssessmentByCase(ctx, c.ID)
	if err == nil {
		logger.Debug("gap assessment already exists", zap.String("case_id", c.ID))
		return existing, nil
	}
	if !errors.Is(err, sqlite.ErrNotFound) {
		return nil, fmt.Errorf("failed to load gap assessment: %w", err)
	}

	vector, err := e.embedder.Embed(ctx, c.Description+"\n"+c.Resolution)
	if err != nil {
		return nil, fmt.Errorf("failed to embed case for gap check: %w", err)
	}

	// Semantic-only probe of the article pool. The lexical leg adds
	// nothing to a similarity gate, so no query text is passed.
	matches, _, err := e.searcher.Search(ctx, search.PoolArticle, "", vector, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to search article pool: %w", err)
	}

	assessment := &models.GapAssessment{
		ID:        uuid.New().String(),
		CaseID:    c.ID,
		CreatedAt: time.Now().UTC(),
	}

	var bestMatchContext string
	if len(matches) > 0 {
		assessment.BestMatchID = matches[0].ID
		assessment.BestMatchSimilarity = matches[0].SemanticScore
		bestMatchContext = fmt.Sprintf("%s: %s", matches[0].Title, matches[0].ContentPreview)
	}

	if assessment.BestMatchSimilarity >= e.cfg.SimilarityThreshold {
		assessment.GapDetected = false
		assessment.Rationale = fmt.Sprintf("existing article %s covers this case (similarity %.2f)",
			assessment.BestMatchID, assessment.BestMatchSimilarity)
	} else {
		confirmation, confirmErr := e.confirmer.ConfirmGap(ctx, c.Description, c.Resolution, c.Category, bestMatchContext)
		if confirmErr != nil {
			// An unverifiable gap is treated as a gap so the case
			// still reaches human review.
			logger.Warn("gap confirmation failed, assuming gap",
				zap.String("case_id", c.ID), zap.Error(confirmErr))
			assessment.GapDetected = true
			assessment.Rationale = "gap assumed: confirmation model unavailable"
		} else {
			assessment.GapDetected = confirmation.GapDetected
			assessment.Rationale = confirmation.GapDescription
			assessment.SuggestedTitle = confirmation.SuggestedTitle
			assessment.LLMConfirmed = true
		}
	}

	if err := e.store.InsertGapAssessment(ctx, assessment); err != nil {
		return nil, fmt.Errorf("failed to persist gap assessment: %w", err)
	}

	outcome := "no_gap"
	if assessment.GapDetected {
		outcome = "gap"
	}
	metrics.GapAssessments.WithLabelValues(outcome).Inc()

	logger.Info("gap assessment completed",
		zap.String("case_id", c.ID),
		zap.Bool("gap_detected", assessment.GapDetected),
		zap.Float64("best_match_similarity", assessment.BestMatchSimilarity))

	return assessment, nil
}
