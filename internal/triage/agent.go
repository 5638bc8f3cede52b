// Package triage implements the quick answer path: classify the
// question, run hybrid search over the primary pool, and hedge with
// reduced-limit secondary pool searches so a misclassification never
// turns into a zero-result response.
package triage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/support-copilot/backend/internal/llm"
	"github.com/support-copilot/backend/internal/metrics"
	"github.com/support-copilot/backend/internal/search"
	"github.com/support-copilot/backend/internal/storage/models"
	"github.com/support-copilot/backend/pkg/logger"
)

type Classifier interface {
	Classify(ctx context.Context, question string) llm.Classification
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type PoolSearcher interface {
	Search(ctx context.Context, pool search.Pool, queryText string, queryVector []float32, limit int) ([]search.FusedResult, bool, error)
}

// ProvenanceStore resolves the lineage chain of synthetic articles.
type ProvenanceStore interface {
	LinksForArticle(ctx context.Context, articleID string) ([]models.ProvenanceLink, error)
}

type Config struct {
	ResultLimit    int
	SecondaryLimit int
}

func DefaultConfig() Config {
	return Config{ResultLimit: 10, SecondaryLimit: 5}
}

type Agent struct {
	classifier Classifier
	embedder   Embedder
	searcher   PoolSearcher
	provenance ProvenanceStore
	cfg        Config
}

func NewAgent(classifier Classifier, embedder Embedder, searcher PoolSearcher, provenance ProvenanceStore, cfg Config) *Agent {
	if cfg.ResultLimit <= 0 {
		cfg.ResultLimit = 10
	}
	if cfg.SecondaryLimit <= 0 {
		cfg.SecondaryLimit = 5
	}
	return &Agent{
		classifier: classifier,
		embedder:   embedder,
		searcher:   searcher,
		provenance: provenance,
		cfg:        cfg,
	}
}

type RankedResult struct {
	search.FusedResult
	Rank       int                     `json:"rank"`
	Provenance []models.ProvenanceLink `json:"provenance,omitempty"`
}

type Meta struct {
	PrimaryPool    search.Pool   `json:"primary_pool"`
	SecondaryPools []search.Pool `json:"secondary_pools"`
	SearchQuery    string        `json:"search_query"`
	ResultCount    int           `json:"result_count"`
	TotalTimeMS    float64       `json:"total_time_ms"`
	Warnings       []string      `json:"warnings,omitempty"`
}

type AskResponse struct {
	Classification llm.Classification `json:"classification"`
	Results        []RankedResult     `json:"results"`
	Meta           Meta               `json:"meta"`
}

// Ask classifies the question, embeds its rewritten form once, and
// merges primary-first pool results deduplicated by document ID.
func (a *Agent) Ask(ctx context.Context, question string) (*AskResponse, error) {
	start := time.Now()

	classification := a.classifier.Classify(ctx, question)
	metrics.ClassificationConfidence.Observe(classification.Confidence)

	vector, err := a.embedder.Embed(ctx, classification.SearchQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to embed search query: %w", err)
	}

	results, warnings := a.SearchPools(ctx, classification, vector)
	results = a.attachProvenance(ctx, results)

	if classification.Degraded {
		warnings = append(warnings, "classification degraded; primary pool is the broad-coverage default")
	}

	meta := Meta{
		PrimaryPool:    classification.AnswerType,
		SecondaryPools: search.SecondaryPools(classification.AnswerType),
		SearchQuery:    classification.SearchQuery,
		ResultCount:    len(results),
		TotalTimeMS:    float64(time.Since(start).Microseconds()) / 1000,
		Warnings:       warnings,
	}

	logger.Info("Triage completed",
		zap.String("primary_pool", string(classification.AnswerType)),
		zap.Float64("confidence", classification.Confidence),
		zap.Int("results", len(results)),
	)

	return &AskResponse{
		Classification: classification,
		Results:        results,
		Meta:           meta,
	}, nil
}

// SearchPools runs the primary pool at full limit and every secondary
// pool at the reduced limit, merging primary-first and deduplicating
// by ID. Per-pool failures degrade that pool's contribution to empty
// rather than failing the request. The deep research baseline search
// reuses this exact shape.
func (a *Agent) SearchPools(ctx context.Context, classification llm.Classification, vector []float32) ([]RankedResult, []string) {
	warnings := []string{}

	primary := classification.AnswerType
	pools := append([]search.Pool{primary}, search.SecondaryPools(primary)...)

	merged := make([]RankedResult, 0, a.cfg.ResultLimit+2*a.cfg.SecondaryLimit)
	seen := make(map[string]bool)

	for _, pool := range pools {
		limit := a.cfg.SecondaryLimit
		if pool == primary {
			limit = a.cfg.ResultLimit
		}

		results, degraded, err := a.searcher.Search(ctx, pool, classification.SearchQuery, vector, limit)
		if err != nil {
			logger.Warn("Pool search failed, contributing empty results",
				zap.String("pool", string(pool)),
				zap.Error(err),
			)
			warnings = append(warnings, fmt.Sprintf("pool %s unavailable", pool))
			continue
		}
		if degraded {
			metrics.SearchDegraded.WithLabelValues(string(pool)).Inc()
			warnings = append(warnings, fmt.Sprintf("pool %s degraded to semantic-only", pool))
		}
		metrics.SearchResults.WithLabelValues(string(pool)).Observe(float64(len(results)))

		for _, result := range results {
			if seen[result.ID] {
				continue
			}
			seen[result.ID] = true
			merged = append(merged, RankedResult{FusedResult: result, Rank: len(merged) + 1})
		}
	}

	return merged, warnings
}

// attachProvenance resolves lineage chains for article results that
// were generated from cases. Lineage lookup failure only drops the
// chain, never the result.
func (a *Agent) attachProvenance(ctx context.Context, results []RankedResult) []RankedResult {
	if a.provenance == nil {
		return results
	}

	for i, result := range results {
		if result.Pool != search.PoolArticle {
			continue
		}
		links, err := a.provenance.LinksForArticle(ctx, result.ID)
		if err != nil {
			logger.Warn("Provenance lookup failed",
				zap.String("article_id", result.ID),
				zap.Error(err),
			)
			continue
		}
		if len(links) > 0 {
			results[i].Provenance = links
		}
	}
	return results
}
