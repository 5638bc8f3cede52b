// Package qa grades recorded support conversations against a weighted
// six-category rubric. The model reports per-category scores; the
// overall score is recomputed server-side and red flags force zero.
package qa

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/support-copilot/backend/internal/llm"
	"github.com/support-copilot/backend/internal/metrics"
	"github.com/support-copilot/backend/internal/storage/models"
	"github.com/support-copilot/backend/pkg/logger"
)

type Scorer interface {
	ScoreConversation(ctx context.Context, transcript, resolution, category, priority string) (*llm.QAScore, error)
}

type Store interface {
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	ListUnscoredConversations(ctx context.Context, limit int) ([]*models.Conversation, error)
	CountUnscoredConversations(ctx context.Context) (int, error)
	StoreQAResult(ctx context.Context, id string, score float64, scoresJSON string, redFlags []string, scoredAt time.Time) error
}

type Config struct {
	ScoreConcurrency int
}

func DefaultConfig() Config {
	return Config{ScoreConcurrency: 5}
}

type Engine struct {
	scorer Scorer
	store  Store
	cfg    Config
}

func NewEngine(scorer Scorer, store Store, cfg Config) *Engine {
	if cfg.ScoreConcurrency <= 0 {
		cfg.ScoreConcurrency = 5
	}
	return &Engine{scorer: scorer, store: store, cfg: cfg}
}

// Result pairs the updated conversation with its rubric verdict.
type Result struct {
	Conversation *models.Conversation `json:"conversation"`
	Score        *llm.QAScore         `json:"score"`
}

// Score grades one conversation and persists the result. Re-scoring
// an already scored conversation overwrites the previous verdict.
func (e *Engine) Score(ctx context.Context, conversationID string) (*Result, error) {
	conv, err := e.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	score, err := e.scorer.ScoreConversation(ctx, conv.Transcript, conv.Resolution, conv.Category, conv.Priority)
	if err != nil {
		metrics.QAScores.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to score conversation %s: %w", conversationID, err)
	}

	overall := ComputeOverallScore(score)
	score.OverallScore = overall

	raw, err := json.Marshal(score)
	if err != nil {
		return nil, fmt.Errorf("failed to encode qa scores: %w", err)
	}

	scoredAt := time.Now()
	if err := e.store.StoreQAResult(ctx, conv.ID, overall, string(raw), score.RedFlags, scoredAt); err != nil {
		return nil, err
	}

	conv.QAScore = &overall
	conv.QAScoresJSON = string(raw)
	conv.QARedFlags = score.RedFlags
	conv.QAScoredAt = &scoredAt

	outcome := "scored"
	if len(score.RedFlags) > 0 {
		outcome = "red_flag"
	}
	metrics.QAScores.WithLabelValues(outcome).Inc()

	logger.Info("Conversation scored",
		zap.String("conversation_id", conv.ID),
		zap.Float64("score", overall),
		zap.Int("red_flags", len(score.RedFlags)))

	return &Result{Conversation: conv, Score: score}, nil
}

// BatchResult summarizes one score-all sweep.
type BatchResult struct {
	Scored    int `json:"scored"`
	Errors    int `json:"errors"`
	Remaining int `json:"remaining"`
}

// ScoreAll grades up to limit unscored conversations with bounded
// concurrency. Per-conversation failures are counted, not fatal.
func (e *Engine) ScoreAll(ctx context.Context, limit int) (*BatchResult, error) {
	convs, err := e.store.ListUnscoredConversations(ctx, limit)
	if err != nil {
		return nil, err
	}

	var scored, failed int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.ScoreConcurrency)
	for i := range convs {
		conv := convs[i]
		g.Go(func() error {
			if _, err := e.Score(gctx, conv.ID); err != nil {
				logger.Warn("Batch qa scoring failed for conversation",
					zap.String("conversation_id", conv.ID), zap.Error(err))
				atomic.AddInt64(&failed, 1)
				return nil
			}
			atomic.AddInt64(&scored, 1)
			return nil
		})
	}
	_ = g.Wait()

	remaining, err := e.store.CountUnscoredConversations(ctx)
	if err != nil {
		return nil, err
	}

	return &BatchResult{
		Scored:    int(scored),
		Errors:    int(failed),
		Remaining: remaining,
	}, nil
}

// ComputeOverallScore recomputes the weighted average from the
// category scores. Any red flag forces zero. The model-reported
// overall is advisory only.
func ComputeOverallScore(score *llm.QAScore) float64 {
	if len(score.RedFlags) > 0 {
		return 0
	}
	var sum, weights float64
	for _, cat := range score.Categories {
		sum += cat.Score * cat.Weight
		weights += cat.Weight
	}
	if weights == 0 {
		return 0
	}
	return sum / weights
}
