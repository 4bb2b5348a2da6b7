package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"storyboard-backend/internal/config"
	"storyboard-backend/internal/models"
	"storyboard-backend/internal/services"
	"storyboard-backend/internal/sora"
	"storyboard-backend/internal/store"
)

type WebhookHandler struct {
	config *config.Config
	tasks  *services.TaskService
	logger *slog.Logger
}

func NewWebhookHandler(cfg *config.Config, tasks *services.TaskService, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		config: cfg,
		tasks:  tasks,
		logger: logger,
	}
}

// SoraWebhookEvent is the provider's push envelope. Some deliveries carry the
// video object bare, without the envelope.
type SoraWebhookEvent struct {
	Type string               `json:"type"` // "video.completed", "video.failed", ...
	Data *sora.StatusResponse `json:"data,omitempty"`
}

// HandleWebhook godoc
// @Summary     Sora webhook endpoint
// @Description Receives video status pushes from the provider and runs them through the same pipeline as a poll. Uses token verification.
// @Tags        webhooks
// @Accept      json
// @Produce     json
// @Param       Authorization header string true "Webhook token (SORA_WEBHOOK_TOKEN)"
// @Success     200 {object} models.TaskResult
// @Failure     400 {object} models.ErrorResponse
// @Failure     401 {object} models.ErrorResponse
// @Router      /webhooks/sora [post]
func (h *WebhookHandler) HandleWebhook(c *gin.Context) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "missing authorization token"})
		return
	}

	// "Bearer <token>" or just "<token>"
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if h.config.SoraWebhookToken == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(h.config.SoraWebhookToken)) != 1 {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "invalid authorization token"})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "failed to read request body",
			Message: err.Error(),
		})
		return
	}

	status, err := parseWebhookEvent(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "failed to parse event",
			Message: err.Error(),
		})
		return
	}

	res, err := h.tasks.ApplyProviderUpdate(c.Request.Context(), status)
	if errors.Is(err, store.ErrNotFound) {
		// Not ours; acknowledge so the provider stops retrying.
		h.logger.Warn("webhook for unknown task", "task_id", status.ID)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func parseWebhookEvent(body []byte) (*sora.StatusResponse, error) {
	var event SoraWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, err
	}

	status := event.Data
	if status == nil {
		status = &sora.StatusResponse{}
		if err := json.Unmarshal(body, status); err != nil {
			return nil, err
		}
	}
	if status.ID == "" {
		return nil, errors.New("event has no video id")
	}
	if status.Status == "" {
		switch event.Type {
		case "video.completed":
			status.Status = string(models.TaskStatusCompleted)
		case "video.failed":
			status.Status = string(models.TaskStatusFailed)
		}
	}
	return status, nil
}
