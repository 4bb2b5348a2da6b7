package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"storyboard-backend/internal/models"
	"storyboard-backend/internal/services"
)

type CronHandler struct {
	scheduler *services.Scheduler
}

func NewCronHandler(scheduler *services.Scheduler) *CronHandler {
	return &CronHandler{scheduler: scheduler}
}

// Sweep godoc
// @Summary     Sweep open tasks
// @Description Polls the oldest non-terminal tasks across all users. Fails fast when the provider is unreachable.
// @Tags        cron
// @Produce     json
// @Param       X-Cron-Secret header string false "Cron secret (or Authorization: Bearer)"
// @Param       limit query int false "Maximum tasks (1-60)"
// @Success     200 {object} models.BatchReport
// @Failure     400 {object} models.ErrorResponse
// @Failure     401 {object} models.ErrorResponse
// @Failure     409 {object} models.ErrorResponse
// @Failure     503 {object} models.ErrorResponse
// @Router      /cron/sora-sweep [post]
func (h *CronHandler) Sweep(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	report, err := h.scheduler.RunOnce(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// queryLimit reads ?limit=. Zero means the configured default.
func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid limit",
			Message: "limit must be a non-negative integer",
		})
		return 0, false
	}
	return limit, true
}
