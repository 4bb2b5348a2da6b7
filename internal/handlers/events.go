package handlers

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"storyboard-backend/internal/events"
)

type EventsHandler struct {
	hub *events.Hub
}

func NewEventsHandler(hub *events.Hub) *EventsHandler {
	return &EventsHandler{hub: hub}
}

// Stream godoc
// @Summary     Project live events
// @Description Server-sent events for task, shot, character and scene changes in a project. Only events owned by the caller are sent.
// @Tags        events
// @Produce     text/event-stream
// @Security    Bearer
// @Param       project_id path string true "Project ID"
// @Success     200 {string} string "event stream"
// @Failure     401 {object} models.ErrorResponse
// @Router      /projects/{project_id}/events [get]
func (h *EventsHandler) Stream(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	flusher, ok := startSSE(c)
	if !ok {
		return
	}

	_, ch, unsubscribe := h.hub.Subscribe(c.Param("project_id"), 32)
	defer unsubscribe()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	var seq int
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if err := writePing(c, flusher); err != nil {
				return
			}
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if evt.UserID != userID {
				continue
			}
			seq++
			if err := writeSSE(c, flusher, fmt.Sprint(seq), evt.Type, evt); err != nil {
				return
			}
		}
	}
}
