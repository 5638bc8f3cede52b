package search

import "context"

// Pool identifies a homogeneous content collection with its own
// semantic and lexical index.
type Pool string

const (
	PoolScript  Pool = "SCRIPT"
	PoolArticle Pool = "KNOWLEDGE_ARTICLE"
	PoolCase    Pool = "CASE_RESOLUTION"
)

func AllPools() []Pool {
	return []Pool{PoolScript, PoolArticle, PoolCase}
}

func (p Pool) Valid() bool {
	switch p {
	case PoolScript, PoolArticle, PoolCase:
		return true
	}
	return false
}

// SecondaryPools returns every pool other than primary, searched at a
// reduced limit to hedge against misclassification.
func SecondaryPools(primary Pool) []Pool {
	pools := make([]Pool, 0, 2)
	for _, p := range AllPools() {
		if p != primary {
			pools = append(pools, p)
		}
	}
	return pools
}

type SemanticHit struct {
	ID             string
	Title          string
	ContentPreview string
	Score          float64
}

type LexicalHit struct {
	ID             string
	Title          string
	ContentPreview string
}

type PoolResult struct {
	Pool           Pool    `json:"pool"`
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	ContentPreview string  `json:"content_preview"`
	SemanticScore  float64 `json:"semantic_score"`
	LexicalRank    *int    `json:"lexical_rank,omitempty"`
}

// FusedResult is a PoolResult annotated with its reciprocal-rank-fusion
// score. The fused score orders results; SemanticScore is retained for
// display only.
type FusedResult struct {
	PoolResult
	FusedScore float64 `json:"fused_score"`
}

// PoolIndex is the per-pool retrieval backend. Implementations run one
// semantic (vector) index and one lexical (full-text) index.
type PoolIndex interface {
	SemanticSearch(ctx context.Context, vector []float32, limit int) ([]SemanticHit, error)
	LexicalSearch(ctx context.Context, query string, limit int) ([]LexicalHit, error)
}
