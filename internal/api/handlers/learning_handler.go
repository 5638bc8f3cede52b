package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/support-copilot/backend/internal/gap"
	"github.com/support-copilot/backend/internal/kbgen"
	"github.com/support-copilot/backend/internal/storage/models"
	"github.com/support-copilot/backend/internal/storage/sqlite"
	"github.com/support-copilot/backend/pkg/logger"
)

type LearningHandler struct {
	gapEngine *gap.Engine
	generator *kbgen.Generator
	store     *sqlite.Client
}

func NewLearningHandler(gapEngine *gap.Engine, generator *kbgen.Generator, store *sqlite.Client) *LearningHandler {
	return &LearningHandler{
		gapEngine: gapEngine,
		generator: generator,
		store:     store,
	}
}

// HandleDetectGap runs the learning flow for one resolved case: assess
// the gap, and on a confirmed gap generate a draft article and open a
// pending learning event for human review.
func (h *LearningHandler) HandleDetectGap(c *fiber.Ctx) error {
	var req struct {
		Case         models.SupportCase `json:"case"`
		Transcript   string             `json:"transcript"`
		TranscriptID string             `json:"transcript_id"`
		ScriptID     string             `json:"script_id"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Case.ID == "" || req.Case.Resolution == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Case id and resolution are required",
		})
	}

	assessment, err := h.gapEngine.Assess(c.Context(), req.Case)
	if err != nil {
		logger.Error("Failed to assess gap", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to assess gap",
		})
	}

	if !assessment.GapDetected {
		return c.JSON(fiber.Map{
			"assessment": assessment,
		})
	}

	draft, err := h.generator.Generate(c.Context(), kbgen.Input{
		Case:         req.Case,
		Transcript:   req.Transcript,
		TranscriptID: req.TranscriptID,
		ScriptID:     req.ScriptID,
	})
	if err != nil {
		if errors.Is(err, kbgen.ErrEmptyArticle) {
			logger.Error("Article generation produced empty output", zap.String("case_id", req.Case.ID))
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error":      "Generated article was empty",
				"assessment": assessment,
			})
		}
		logger.Error("Failed to generate article", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to generate article",
		})
	}

	event := &models.LearningEvent{
		ID:                uuid.New().String(),
		TriggerCaseID:     req.Case.ID,
		DetectedGap:       assessment.Rationale,
		ProposedArticleID: draft.ID,
		Status:            models.EventPending,
		CreatedAt:         time.Now().UTC(),
	}
	if err := h.store.InsertLearningEvent(c.Context(), event); err != nil {
		logger.Error("Failed to persist learning event", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to persist learning event",
		})
	}

	return c.JSON(fiber.Map{
		"assessment": assessment,
		"event":      event,
		"draft":      draft,
	})
}

func (h *LearningHandler) ListEvents(c *fiber.Ctx) error {
	statusFilter := c.Query("status")
	limit := c.QueryInt("limit", 20)
	offset := c.QueryInt("offset", 0)

	events, err := h.store.ListLearningEvents(c.Context(), statusFilter, limit, offset)
	if err != nil {
		logger.Error("Failed to list learning events", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list learning events",
		})
	}

	return c.JSON(fiber.Map{
		"items":  events,
		"limit":  limit,
		"offset": offset,
	})
}

// ReviewEvent applies a human verdict to a pending learning event. An
// approval activates the proposed draft; a rejection archives it. A
// second review of the same event is a conflict.
func (h *LearningHandler) ReviewEvent(c *fiber.Ctx) error {
	eventID := c.Params("id")

	var req struct {
		Decision string `json:"decision"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Decision != models.EventApproved && req.Decision != models.EventRejected {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Decision must be Approved or Rejected",
		})
	}

	event, err := h.store.TransitionLearningEvent(c.Context(), eventID, req.Decision)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Learning event not found",
			})
		}
		if errors.Is(err, sqlite.ErrTerminalStatus) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "Learning event already reviewed",
			})
		}
		logger.Error("Failed to review learning event", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to review learning event",
		})
	}

	articleStatus := ""
	if event.ProposedArticleID != "" {
		articleStatus = models.ArticleArchived
		if req.Decision == models.EventApproved {
			articleStatus = models.ArticleActive
		}
		if err := h.store.UpdateDraftArticleStatus(c.Context(), event.ProposedArticleID, articleStatus); err != nil {
			logger.Error("Failed to update draft article status",
				zap.String("article_id", event.ProposedArticleID), zap.Error(err))
		}
	}

	return c.JSON(fiber.Map{
		"event":          event,
		"article_status": articleStatus,
	})
}
