package handlers

import (
	"context"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/support-copilot/backend/internal/research"
	"github.com/support-copilot/backend/pkg/logger"
)

type WebSocketHandler struct {
	researchAgent *research.Agent
}

func NewWebSocketHandler(researchAgent *research.Agent) *WebSocketHandler {
	return &WebSocketHandler{
		researchAgent: researchAgent,
	}
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg struct {
			Type     string `json:"type"`
			Question string `json:"question"`
		}

		err := c.ReadJSON(&msg)
		if err != nil {
			logger.Error("Failed to read WebSocket message", zap.Error(err))
			break
		}

		if msg.Type != "research" {
			continue
		}

		if msg.Question == "" {
			h.sendError(c, "Question is required")
			continue
		}

		logger.Info("Processing WebSocket research", zap.String("question", msg.Question))

		err = h.streamResearch(ctx, c, msg.Question)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Error("Failed to stream research", zap.Error(err))
			h.sendError(c, "Failed to run research")
		}
	}
}

// streamResearch runs one research request under a context that is
// cancelled when the connection dies, so a disconnected client stops
// the in-flight pipeline instead of letting it run to completion. A
// failed progress write is the first sign of a dead peer.
func (h *WebSocketHandler) streamResearch(connCtx context.Context, c *websocket.Conn, question string) error {
	ctx, cancel := context.WithCancel(connCtx)
	defer cancel()

	response, err := h.researchAgent.Research(ctx, question, func(stage, message string) {
		if writeErr := h.sendStage(c, stage, message); writeErr != nil {
			logger.Warn("Progress frame failed, cancelling research", zap.Error(writeErr))
			cancel()
		}
	})
	if err != nil {
		return err
	}

	return c.WriteJSON(map[string]interface{}{
		"type":     "result",
		"response": response,
	})
}

func (h *WebSocketHandler) sendStage(c *websocket.Conn, stage, message string) error {
	return c.WriteJSON(map[string]interface{}{
		"type":    "stage",
		"stage":   stage,
		"message": message,
	})
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	msg := map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	}

	c.WriteJSON(msg)
}
