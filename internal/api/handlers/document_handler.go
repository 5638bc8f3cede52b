package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/support-copilot/backend/internal/embedding"
	"github.com/support-copilot/backend/internal/search"
	"github.com/support-copilot/backend/internal/storage/models"
	"github.com/support-copilot/backend/internal/storage/sqlite"
	"github.com/support-copilot/backend/internal/vector/milvus"
	"github.com/support-copilot/backend/pkg/logger"
)

// DocumentHandler seeds pool documents into both the semantic and the
// lexical index. Bulk ingestion happens outside this service; this
// endpoint exists for incremental updates and operational backfill.
type DocumentHandler struct {
	embedder      *embedding.Service
	vector        *milvus.Client
	fts           *sqlite.Client
	previewLength int
}

func NewDocumentHandler(embedder *embedding.Service, vector *milvus.Client, fts *sqlite.Client, previewLength int) *DocumentHandler {
	return &DocumentHandler{
		embedder:      embedder,
		vector:        vector,
		fts:           fts,
		previewLength: previewLength,
	}
}

func (h *DocumentHandler) UploadDocument(c *fiber.Ctx) error {
	var req struct {
		Pool  string `json:"pool"`
		ID    string `json:"id"`
		Title string `json:"title"`
		Body  string `json:"body"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if !search.Pool(req.Pool).Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown pool",
		})
	}
	if req.ID == "" || req.Body == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Document id and body are required",
		})
	}

	vector, err := h.embedder.Embed(c.Context(), req.Title+"\n"+req.Body)
	if err != nil {
		logger.Error("Failed to embed document", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to embed document",
		})
	}

	preview := req.Body
	if len(preview) > h.previewLength {
		preview = preview[:h.previewLength]
	}

	err = h.vector.Insert(c.Context(), req.Pool, []milvus.Document{{
		ID:        req.ID,
		Title:     req.Title,
		Preview:   preview,
		Embedding: vector,
	}})
	if err != nil {
		logger.Error("Failed to index document", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to index document",
		})
	}

	err = h.fts.UpsertPoolDocument(c.Context(), models.PoolDocument{
		ID:    req.ID,
		Pool:  req.Pool,
		Title: req.Title,
		Body:  req.Body,
	})
	if err != nil {
		logger.Error("Failed to index document text", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to index document text",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":   req.ID,
		"pool": req.Pool,
	})
}
