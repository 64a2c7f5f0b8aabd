package handlers

import (
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/gtm-intel/backend/internal/jobs"
	"github.com/gtm-intel/backend/pkg/logger"
)

type WebSocketHandler struct {
	manager *jobs.Manager
}

func NewWebSocketHandler(manager *jobs.Manager) *WebSocketHandler {
	return &WebSocketHandler{
		manager: manager,
	}
}

// HandleConnection streams progress events for the job named in the
// path until the job finishes or the client goes away.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	jobID := c.Params("id")
	logger.Info("WebSocket connection established", zap.String("job_id", jobID))

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed", zap.String("job_id", jobID))
	}()

	events, unsubscribe, ok := h.manager.Subscribe(jobID)
	if !ok {
		h.sendError(c, "Research job not found")
		return
	}
	defer unsubscribe()

	if job, ok := h.manager.Get(jobID); ok {
		snapshot := map[string]interface{}{
			"type":         "status",
			"research_id":  job.ID,
			"status":       job.Status,
			"current_step": job.CurrentStep,
			"progress":     job.Progress,
		}
		if err := c.WriteJSON(snapshot); err != nil {
			return
		}
	}

	// Reader loop: fiber's websocket requires reads to observe close
	// frames from the client.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event, open := <-events:
			if !open {
				return
			}
			if err := c.WriteJSON(event); err != nil {
				logger.Error("Failed to write WebSocket event", zap.Error(err))
				return
			}
			if event.Type == "done" {
				return
			}
		case <-closed:
			return
		}
	}
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	msg := map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	}

	c.WriteJSON(msg)
}
