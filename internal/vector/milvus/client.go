package milvus

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/support-copilot/backend/pkg/logger"
)

// Client talks to the Milvus vector store. Each content pool is one
// collection named <prefix>_<pool>, holding the pool's embeddings plus
// the display fields search results carry.
type Client struct {
	client           client.Client
	collectionPrefix string
	vectorDim        int
}

type Document struct {
	ID        string
	Title     string
	Preview   string
	Embedding []float32
}

type SearchHit struct {
	ID      string
	Title   string
	Preview string
	Score   float32
}

func NewClient(ctx context.Context, endpoint, collectionPrefix string, vectorDim int) (*Client, error) {
	c, err := client.NewGrpcClient(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection_prefix", collectionPrefix),
	)

	return &Client{
		client:           c,
		collectionPrefix: collectionPrefix,
		vectorDim:        vectorDim,
	}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) collectionName(pool string) string {
	return fmt.Sprintf("%s_%s", c.collectionPrefix, pool)
}

// EnsureCollection creates and loads the pool's collection if missing.
func (c *Client) EnsureCollection(ctx context.Context, pool string) error {
	name := c.collectionName(pool)

	has, err := c.client.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if has {
		return c.client.LoadCollection(ctx, name, false)
	}

	schema := &entity.Schema{
		CollectionName: name,
		Description:    fmt.Sprintf("%s pool embeddings", pool),
		Fields: []*entity.Field{
			{
				Name:       "doc_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       "embedding",
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": fmt.Sprintf("%d", c.vectorDim)},
			},
			{
				Name:       "title",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "512"},
			},
			{
				Name:       "preview",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "2048"},
			},
		},
	}

	if err := c.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.COSINE, 1024)
	if err != nil {
		return fmt.Errorf("failed to build index spec: %w", err)
	}
	if err := c.client.CreateIndex(ctx, name, "embedding", idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	if err := c.client.LoadCollection(ctx, name, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", name))
	return nil
}

// Insert writes documents into a pool's collection. Used by the
// external seeding pipeline.
func (c *Client) Insert(ctx context.Context, pool string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	name := c.collectionName(pool)

	ids := make([]string, len(docs))
	embeddings := make([][]float32, len(docs))
	titles := make([]string, len(docs))
	previews := make([]string, len(docs))

	for i, doc := range docs {
		ids[i] = doc.ID
		embeddings[i] = doc.Embedding
		titles[i] = doc.Title
		previews[i] = doc.Preview
	}

	_, err := c.client.Insert(
		ctx,
		name,
		"",
		entity.NewColumnVarChar("doc_id", ids),
		entity.NewColumnFloatVector("embedding", c.vectorDim, embeddings),
		entity.NewColumnVarChar("title", titles),
		entity.NewColumnVarChar("preview", previews),
	)
	if err != nil {
		return fmt.Errorf("failed to insert documents: %w", err)
	}

	if err := c.client.Flush(ctx, name, false); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Documents inserted into vector store",
		zap.String("pool", pool),
		zap.Int("count", len(docs)),
	)
	return nil
}

// Search returns the pool's top-K documents by cosine similarity.
func (c *Client) Search(ctx context.Context, pool string, vector []float32, topK int) ([]SearchHit, error) {
	sp, err := entity.NewIndexIvfFlatSearchParam(16)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	searchResult, err := c.client.Search(
		ctx,
		c.collectionName(pool),
		[]string{},
		"",
		[]string{"doc_id", "title", "preview"},
		[]entity.Vector{entity.FloatVector(vector)},
		"embedding",
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search pool %s: %w", pool, err)
	}

	hits := make([]SearchHit, 0, topK)
	for _, sr := range searchResult {
		idCol := sr.Fields.GetColumn("doc_id")
		titleCol := sr.Fields.GetColumn("title")
		previewCol := sr.Fields.GetColumn("preview")

		for i := 0; i < sr.ResultCount; i++ {
			id, _ := idCol.Get(i)
			title, _ := titleCol.Get(i)
			preview, _ := previewCol.Get(i)

			hits = append(hits, SearchHit{
				ID:      id.(string),
				Title:   title.(string),
				Preview: preview.(string),
				Score:   sr.Scores[i],
			})
		}
	}

	return hits, nil
}
