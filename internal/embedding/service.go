// Package embedding wraps the raw embedding provider with a cache so
// repeated queries and evaluation runs do not re-embed identical text.
package embedding

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/support-copilot/backend/pkg/logger"
	"github.com/support-copilot/backend/pkg/utils"
)

const cacheTTL = 24 * time.Hour

// Provider is the opaque text-to-vector function from the external
// embedding service.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Cache is the subset of the Redis client the service needs. Cache
// failures are logged and bypassed, never surfaced.
type Cache interface {
	GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error
}

type Service struct {
	provider Provider
	cache    Cache
}

// NewService builds the cached embedder. cache may be nil, which
// disables caching entirely.
func NewService(provider Provider, cache Cache) *Service {
	return &Service{provider: provider, cache: cache}
}

func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch resolves cached vectors first and embeds only the misses
// in one provider call, preserving input order.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(texts))
	missing := make([]int, 0, len(texts))
	hashes := make([]string, len(texts))

	for i, text := range texts {
		hashes[i] = utils.HashString(text)
		if s.cache == nil {
			missing = append(missing, i)
			continue
		}
		cached, ok, err := s.cache.GetEmbedding(ctx, hashes[i])
		if err != nil {
			logger.Warn("Embedding cache read failed", zap.Error(err))
		}
		if ok {
			vectors[i] = cached
			continue
		}
		missing = append(missing, i)
	}

	if len(missing) == 0 {
		return vectors, nil
	}

	missingTexts := make([]string, len(missing))
	for j, i := range missing {
		missingTexts[j] = texts[i]
	}

	fresh, err := s.provider.EmbedBatch(ctx, missingTexts)
	if err != nil {
		return nil, err
	}

	for j, i := range missing {
		vectors[i] = fresh[j]
		if s.cache != nil {
			if err := s.cache.SetEmbedding(ctx, hashes[i], fresh[j], cacheTTL); err != nil {
				logger.Warn("Embedding cache write failed", zap.Error(err))
			}
		}
	}

	return vectors, nil
}
