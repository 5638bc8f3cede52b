package search

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/support-copilot/backend/pkg/logger"
)

type Config struct {
	RRFConstant int
	Overfetch   int
}

func DefaultConfig() Config {
	return Config{
		RRFConstant: 60,
		Overfetch:   20,
	}
}

// Searcher runs hybrid retrieval over a set of pools: semantic and
// lexical search in parallel, merged by reciprocal rank fusion.
type Searcher struct {
	indexes map[Pool]PoolIndex
	cfg     Config
}

func NewSearcher(indexes map[Pool]PoolIndex, cfg Config) *Searcher {
	if cfg.RRFConstant <= 0 {
		cfg.RRFConstant = 60
	}
	if cfg.Overfetch <= 0 {
		cfg.Overfetch = 20
	}
	return &Searcher{indexes: indexes, cfg: cfg}
}

// Search returns the fused top results for one pool. The second return
// value reports lexical degradation: true means the lexical index failed
// after a retry and only semantic results were fused.
func (s *Searcher) Search(ctx context.Context, pool Pool, queryText string, queryVector []float32, limit int) ([]FusedResult, bool, error) {
	index, ok := s.indexes[pool]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownPool, pool)
	}

	overfetch := s.cfg.Overfetch
	if overfetch < limit {
		overfetch = limit
	}

	var (
		semantic []SemanticHit
		lexical  []LexicalHit
		lexErr   error
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hits, err := searchTwice(gctx, func() ([]SemanticHit, error) {
			return index.SemanticSearch(gctx, queryVector, overfetch)
		})
		if err != nil {
			return fmt.Errorf("%w: semantic search on %s: %v", ErrTransient, pool, err)
		}
		semantic = hits
		return nil
	})

	g.Go(func() error {
		if queryText == "" {
			return nil
		}
		hits, err := searchTwice(gctx, func() ([]LexicalHit, error) {
			return index.LexicalSearch(gctx, queryText, overfetch)
		})
		if err != nil {
			// Lexical failure degrades to semantic-only instead of
			// failing the pool.
			lexErr = err
			return nil
		}
		lexical = hits
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, false, err
	}

	degraded := lexErr != nil
	if degraded {
		logger.Warn("Lexical search degraded to semantic-only",
			zap.String("pool", string(pool)),
			zap.Error(lexErr),
		)
	}

	fused := FuseRRF(pool, semantic, lexical, s.cfg.RRFConstant)
	if len(fused) > limit {
		fused = fused[:limit]
	}

	return fused, degraded, nil
}

// searchTwice retries a failed index call once before giving up.
func searchTwice[T any](ctx context.Context, fn func() ([]T, error)) ([]T, error) {
	hits, err := fn()
	if err == nil {
		return hits, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	return fn()
}

// FuseRRF merges a semantic and a lexical ranking with reciprocal rank
// fusion: score = sum over lists of 1/(k + rank). A document missing
// from a list contributes nothing for it. Output order is deterministic
// for fixed inputs; equal scores break ties by ID ascending.
func FuseRRF(pool Pool, semantic []SemanticHit, lexical []LexicalHit, k int) []FusedResult {
	items := make(map[string]*FusedResult, len(semantic)+len(lexical))

	for i, hit := range semantic {
		rank := i + 1
		items[hit.ID] = &FusedResult{
			PoolResult: PoolResult{
				Pool:           pool,
				ID:             hit.ID,
				Title:          hit.Title,
				ContentPreview: hit.ContentPreview,
				SemanticScore:  hit.Score,
			},
			FusedScore: 1.0 / float64(k+rank),
		}
	}

	for i, hit := range lexical {
		rank := i + 1
		lexRank := rank
		if existing, ok := items[hit.ID]; ok {
			existing.FusedScore += 1.0 / float64(k+rank)
			existing.LexicalRank = &lexRank
			continue
		}
		items[hit.ID] = &FusedResult{
			PoolResult: PoolResult{
				Pool:           pool,
				ID:             hit.ID,
				Title:          hit.Title,
				ContentPreview: hit.ContentPreview,
				LexicalRank:    &lexRank,
			},
			FusedScore: 1.0 / float64(k+rank),
		}
	}

	fused := make([]FusedResult, 0, len(items))
	for _, item := range items {
		fused = append(fused, *item)
	}

	sort.Slice(fused, func(i, j int) bool {
		if fused[i].FusedScore != fused[j].FusedScore {
			return fused[i].FusedScore > fused[j].FusedScore
		}
		return fused[i].ID < fused[j].ID
	})

	return fused
}
