package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/support-copilot/backend/internal/storage/models"
)

// UpsertPoolDocument writes one document into the pool's full-text
// index. Called by the external seeding pipeline.
func (c *Client) UpsertPoolDocument(ctx context.Context, doc models.PoolDocument) error {
	_, err := c.db.ExecContext(ctx,
		`DELETE FROM documents_fts WHERE doc_id = ? AND pool = ?`, doc.ID, doc.Pool)
	if err != nil {
		return fmt.Errorf("failed to replace fts document: %w", err)
	}

	_, err = c.db.ExecContext(ctx,
		`INSERT INTO documents_fts (doc_id, pool, title, body) VALUES (?, ?, ?, ?)`,
		doc.ID, doc.Pool, doc.Title, doc.Body,
	)
	if err != nil {
		return fmt.Errorf("failed to insert fts document: %w", err)
	}
	return nil
}

type FTSHit struct {
	ID      string
	Title   string
	Snippet string
}

// LexicalSearch runs a ranked full-text query against one pool's index.
// Results come back in BM25 order.
func (c *Client) LexicalSearch(ctx context.Context, pool, query string, limit int) ([]FTSHit, error) {
	match := buildMatchQuery(query)
	if match == "" {
		return nil, nil
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT doc_id, title, snippet(documents_fts, 3, '', '', '…', 24)
		FROM documents_fts
		WHERE documents_fts MATCH ? AND pool = ?
		ORDER BY rank
		LIMIT ?`, match, pool, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to run lexical search: %w", err)
	}
	defer rows.Close()

	hits := make([]FTSHit, 0, limit)
	for rows.Next() {
		var hit FTSHit
		if err := rows.Scan(&hit.ID, &hit.Title, &hit.Snippet); err != nil {
			return nil, fmt.Errorf("failed to scan lexical hit: %w", err)
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// buildMatchQuery quotes every token so raw user text (quotes, hyphens,
// operators) cannot break FTS5 query syntax. Tokens are OR-ed to rank
// partial matches instead of requiring every term.
func buildMatchQuery(query string) string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return !isAlphanumeric(r)
	})
	if len(fields) == 0 {
		return ""
	}

	quoted := make([]string, 0, len(fields))
	for _, field := range fields {
		quoted = append(quoted, `"`+field+`"`)
	}
	return strings.Join(quoted, " OR ")
}

func isAlphanumeric(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
