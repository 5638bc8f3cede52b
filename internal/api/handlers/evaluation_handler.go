package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/support-copilot/backend/internal/evaluation"
	"github.com/support-copilot/backend/pkg/logger"
)

type EvaluationHandler struct {
	quickHarness    *evaluation.Harness
	researchHarness *evaluation.Harness
}

func NewEvaluationHandler(quickHarness, researchHarness *evaluation.Harness) *EvaluationHandler {
	return &EvaluationHandler{
		quickHarness:    quickHarness,
		researchHarness: researchHarness,
	}
}

func (h *EvaluationHandler) HandleRun(c *fiber.Ctx) error {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.Mode == "" {
		req.Mode = "quick"
	}

	var harness *evaluation.Harness
	switch req.Mode {
	case "quick":
		harness = h.quickHarness
	case "research":
		harness = h.researchHarness
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Mode must be quick or research",
		})
	}

	report, err := harness.Run(c.Context(), req.Mode)
	if err != nil {
		logger.Error("Failed to run evaluation", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to run evaluation",
		})
	}

	return c.JSON(fiber.Map{
		"report":    report,
		"formatted": report.Format(),
	})
}
