// Package index binds the concrete retrieval backends to the search
// package's pool abstraction: Milvus for the semantic side, SQLite
// FTS5 for the lexical side.
package index

import (
	"context"

	"github.com/support-copilot/backend/internal/search"
	"github.com/support-copilot/backend/internal/storage/sqlite"
	"github.com/support-copilot/backend/internal/vector/milvus"
)

type PoolIndex struct {
	pool   search.Pool
	vector *milvus.Client
	fts    *sqlite.Client
}

func NewPoolIndex(pool search.Pool, vector *milvus.Client, fts *sqlite.Client) *PoolIndex {
	return &PoolIndex{pool: pool, vector: vector, fts: fts}
}

// NewPoolIndexes builds one composite index per content pool.
func NewPoolIndexes(vector *milvus.Client, fts *sqlite.Client) map[search.Pool]search.PoolIndex {
	indexes := make(map[search.Pool]search.PoolIndex, len(search.AllPools()))
	for _, pool := range search.AllPools() {
		indexes[pool] = NewPoolIndex(pool, vector, fts)
	}
	return indexes
}

func (p *PoolIndex) SemanticSearch(ctx context.Context, vector []float32, limit int) ([]search.SemanticHit, error) {
	hits, err := p.vector.Search(ctx, string(p.pool), vector, limit)
	if err != nil {
		return nil, err
	}

	out := make([]search.SemanticHit, 0, len(hits))
	for _, hit := range hits {
		out = append(out, search.SemanticHit{
			ID:             hit.ID,
			Title:          hit.Title,
			ContentPreview: hit.Preview,
			Score:          float64(hit.Score),
		})
	}
	return out, nil
}

func (p *PoolIndex) LexicalSearch(ctx context.Context, query string, limit int) ([]search.LexicalHit, error) {
	hits, err := p.fts.LexicalSearch(ctx, string(p.pool), query, limit)
	if err != nil {
		return nil, err
	}

	out := make([]search.LexicalHit, 0, len(hits))
	for _, hit := range hits {
		out = append(out, search.LexicalHit{
			ID:             hit.ID,
			Title:          hit.Title,
			ContentPreview: hit.Snippet,
		})
	}
	return out, nil
}
