package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"storyboard-backend/internal/services"
)

type AdminHandler struct {
	tasks *services.TaskService
}

func NewAdminHandler(tasks *services.TaskService) *AdminHandler {
	return &AdminHandler{tasks: tasks}
}

// Repair godoc
// @Summary     Repair sweep
// @Description Polls open tasks and re-runs materialization and fan-out for completed tasks whose reconciliation never finished. Safe to repeat.
// @Tags        admin
// @Produce     json
// @Security    Bearer
// @Param       project_id query string false "Restrict to one project"
// @Param       limit query int false "Maximum tasks per pass (1-60)"
// @Success     200 {object} models.BatchReport
// @Failure     403 {object} models.ErrorResponse
// @Failure     503 {object} models.ErrorResponse
// @Router      /admin/sora-repair [post]
func (h *AdminHandler) Repair(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	report, err := h.tasks.RepairSweep(c.Request.Context(), c.Query("project_id"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
