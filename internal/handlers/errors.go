package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"storyboard-backend/internal/middleware"
	"storyboard-backend/internal/models"
	"storyboard-backend/internal/services"
	"storyboard-backend/internal/sora"
	"storyboard-backend/internal/store"
)

// respondError maps service errors onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	var apiErr *sora.APIError
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "not found", Message: err.Error()})
	case errors.Is(err, services.ErrForbidden):
		c.JSON(http.StatusForbidden, models.ErrorResponse{Error: "forbidden", Message: err.Error()})
	case errors.Is(err, services.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request", Message: err.Error()})
	case errors.Is(err, services.ErrProviderUnreachable):
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "provider unreachable", Message: err.Error()})
	case errors.Is(err, services.ErrSweepInProgress):
		c.JSON(http.StatusConflict, models.ErrorResponse{Error: "sweep in progress", Message: err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, models.ErrorResponse{Error: "timed out", Message: err.Error()})
	case errors.As(err, &apiErr):
		c.JSON(http.StatusBadGateway, models.ErrorResponse{Error: "provider error", Message: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "internal error", Message: err.Error()})
	}
}

func requireUser(c *gin.Context) (string, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "user id not found"})
		return "", false
	}
	return userID, true
}
