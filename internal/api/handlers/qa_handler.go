package handlers

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/support-copilot/backend/internal/llm"
	"github.com/support-copilot/backend/internal/qa"
	"github.com/support-copilot/backend/internal/storage/models"
	"github.com/support-copilot/backend/internal/storage/sqlite"
	"github.com/support-copilot/backend/pkg/logger"
)

// QAHandler exposes conversation quality scoring: single and batch
// scoring runs plus queries over stored verdicts.
type QAHandler struct {
	engine *qa.Engine
	store  *sqlite.Client
}

func NewQAHandler(engine *qa.Engine, store *sqlite.Client) *QAHandler {
	return &QAHandler{engine: engine, store: store}
}

// UploadConversation records a conversation for later scoring.
func (h *QAHandler) UploadConversation(c *fiber.Ctx) error {
	var conv models.Conversation
	if err := c.BodyParser(&conv); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if conv.ID == "" || conv.Transcript == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Conversation id and transcript are required",
		})
	}

	if err := h.store.InsertConversation(c.Context(), &conv); err != nil {
		logger.Error("Failed to insert conversation", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store conversation",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id": conv.ID,
	})
}

// ScoreConversation runs QA scoring on one conversation. Re-scoring
// overwrites the stored verdict.
func (h *QAHandler) ScoreConversation(c *fiber.Ctx) error {
	conversationID := c.Params("id")

	result, err := h.engine.Score(c.Context(), conversationID)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Conversation not found",
			})
		}
		logger.Error("Failed to score conversation",
			zap.String("conversation_id", conversationID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to score conversation",
		})
	}

	return c.JSON(result)
}

// ScoreAll scores unscored conversations up to the requested limit.
func (h *QAHandler) ScoreAll(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 200 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Limit must be between 1 and 200",
		})
	}

	result, err := h.engine.ScoreAll(c.Context(), limit)
	if err != nil {
		logger.Error("Failed to run batch qa scoring", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to run batch scoring",
		})
	}

	return c.JSON(result)
}

// ListConversations pages conversations, optionally filtered by
// scoring state via ?scored=true|false.
func (h *QAHandler) ListConversations(c *fiber.Ctx) error {
	scoredFilter := ""
	switch c.Query("scored") {
	case "true":
		scoredFilter = "scored"
	case "false":
		scoredFilter = "unscored"
	}
	limit := c.QueryInt("limit", 20)
	offset := c.QueryInt("offset", 0)

	convs, total, err := h.store.ListConversations(c.Context(), scoredFilter, limit, offset)
	if err != nil {
		logger.Error("Failed to list conversations", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list conversations",
		})
	}

	return c.JSON(fiber.Map{
		"items":  convs,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// GetScoreDetail returns the stored verdict without re-scoring.
func (h *QAHandler) GetScoreDetail(c *fiber.Ctx) error {
	conversationID := c.Params("id")

	conv, err := h.store.GetConversation(c.Context(), conversationID)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Conversation not found",
			})
		}
		logger.Error("Failed to load conversation", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load conversation",
		})
	}
	if conv.QAScoredAt == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Conversation has not been scored yet",
		})
	}

	var score llm.QAScore
	if conv.QAScoresJSON != "" {
		if err := json.Unmarshal([]byte(conv.QAScoresJSON), &score); err != nil {
			logger.Warn("Stored qa scores are unreadable",
				zap.String("conversation_id", conversationID), zap.Error(err))
		}
	}

	return c.JSON(fiber.Map{
		"conversation": conv,
		"score":        score,
	})
}

// ListScores pages scored conversations, filtered by ?min_score and
// ?red_flags=true.
func (h *QAHandler) ListScores(c *fiber.Ctx) error {
	minScore := c.QueryFloat("min_score", 0)
	if minScore < 0 || minScore > 100 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "min_score must be between 0 and 100",
		})
	}
	redFlagsOnly := c.QueryBool("red_flags", false)
	limit := c.QueryInt("limit", 20)
	offset := c.QueryInt("offset", 0)

	convs, total, err := h.store.ListQAScores(c.Context(), minScore, redFlagsOnly, limit, offset)
	if err != nil {
		logger.Error("Failed to list qa scores", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list qa scores",
		})
	}

	return c.JSON(fiber.Map{
		"items":  convs,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}
