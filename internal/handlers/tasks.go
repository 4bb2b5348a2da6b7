package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"storyboard-backend/internal/models"
	"storyboard-backend/internal/services"
)

type TasksHandler struct {
	tasks *services.TaskService
}

func NewTasksHandler(tasks *services.TaskService) *TasksHandler {
	return &TasksHandler{tasks: tasks}
}

// Submit godoc
// @Summary     Submit a video generation task
// @Description Starts a provider job for one shot (shot_id) or several (shot_ids). The task is stored as queued.
// @Tags        tasks
// @Accept      json
// @Produce     json
// @Security    Bearer
// @Param       request body models.SubmitShotTaskRequest true "Task parameters"
// @Success     201 {object} models.TaskResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     401 {object} models.ErrorResponse
// @Failure     502 {object} models.ErrorResponse
// @Router      /sora/tasks [post]
func (h *TasksHandler) Submit(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req models.SubmitShotTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid request body",
			Message: err.Error(),
		})
		return
	}

	task, err := h.tasks.SubmitShotTask(c.Request.Context(), userID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, models.TaskResponse{Task: task})
}

// Refresh godoc
// @Summary     Refresh one task
// @Description Polls the provider for a non-terminal task and applies the result. Completed tasks are materialized and fanned out to their shots.
// @Tags        tasks
// @Produce     json
// @Security    Bearer
// @Param       task_id path string true "Task ID"
// @Success     200 {object} models.TaskResult
// @Failure     403 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Failure     503 {object} models.ErrorResponse
// @Router      /sora/tasks/{task_id} [get]
func (h *TasksHandler) Refresh(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	res, err := h.tasks.RefreshTask(c.Request.Context(), userID, c.Param("task_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// BatchStatus godoc
// @Summary     Refresh several tasks
// @Description Refreshes up to 60 tasks with bounded concurrency. Per-task failures are reported in details and never fail the batch.
// @Tags        tasks
// @Accept      json
// @Produce     json
// @Security    Bearer
// @Param       request body models.BatchStatusRequest true "Task IDs"
// @Success     200 {object} models.BatchReport
// @Failure     400 {object} models.ErrorResponse
// @Failure     503 {object} models.ErrorResponse
// @Router      /sora/tasks/batch-status [post]
func (h *TasksHandler) BatchStatus(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req models.BatchStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid request body",
			Message: err.Error(),
		})
		return
	}

	report, err := h.tasks.RefreshBatch(c.Request.Context(), userID, req.TaskIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
