package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/support-copilot/backend/internal/research"
	"github.com/support-copilot/backend/internal/triage"
	"github.com/support-copilot/backend/pkg/logger"
)

type CopilotHandler struct {
	triageAgent   *triage.Agent
	researchAgent *research.Agent
}

func NewCopilotHandler(triageAgent *triage.Agent, researchAgent *research.Agent) *CopilotHandler {
	return &CopilotHandler{
		triageAgent:   triageAgent,
		researchAgent: researchAgent,
	}
}

func (h *CopilotHandler) HandleAsk(c *fiber.Ctx) error {
	var req struct {
		Question string `json:"question"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Question == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Question is required",
		})
	}

	response, err := h.triageAgent.Ask(c.Context(), req.Question)
	if err != nil {
		logger.Error("Failed to answer question", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to answer question",
		})
	}

	return c.JSON(response)
}

func (h *CopilotHandler) HandleResearch(c *fiber.Ctx) error {
	var req struct {
		Question string `json:"question"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Question == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Question is required",
		})
	}

	response, err := h.researchAgent.Research(c.Context(), req.Question, nil)
	if err != nil {
		logger.Error("Failed to run research", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to run research",
		})
	}

	return c.JSON(response)
}
