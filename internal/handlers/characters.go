package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"storyboard-backend/internal/models"
	"storyboard-backend/internal/services"
)

type CharactersHandler struct {
	flow *services.CharacterFlow
}

func NewCharactersHandler(flow *services.CharacterFlow) *CharactersHandler {
	return &CharactersHandler{flow: flow}
}

// GetIdentity godoc
// @Summary     Character identity state
// @Tags        characters
// @Produce     json
// @Security    Bearer
// @Param       character_id path string true "Character ID"
// @Success     200 {object} models.CharacterIdentityResponse
// @Failure     403 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /characters/{character_id}/sora-identity [get]
func (h *CharactersHandler) GetIdentity(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	resp, err := h.flow.Get(c.Request.Context(), userID, c.Param("character_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// StartIdentity godoc
// @Summary     Start or retry character registration
// @Description Generates a reference video and registers it with the provider. A retry after a failed registration reuses the stored reference video.
// @Tags        characters
// @Accept      json
// @Produce     json
// @Security    Bearer
// @Param       character_id path string true "Character ID"
// @Param       request body models.StartCharacterRequest false "Generation overrides"
// @Success     202 {object} models.CharacterIdentityResponse
// @Failure     403 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Failure     502 {object} models.ErrorResponse
// @Router      /characters/{character_id}/sora-identity [post]
func (h *CharactersHandler) StartIdentity(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req models.StartCharacterRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:   "invalid request body",
				Message: err.Error(),
			})
			return
		}
	}

	resp, err := h.flow.Start(c.Request.Context(), userID, c.Param("character_id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, resp)
}

// SetUsername godoc
// @Summary     Set the character username by hand
// @Description Marks the identity registered with the given provider username.
// @Tags        characters
// @Accept      json
// @Produce     json
// @Security    Bearer
// @Param       character_id path string true "Character ID"
// @Param       request body models.SetUsernameRequest true "Username"
// @Success     200 {object} models.CharacterIdentityResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /characters/{character_id}/sora-identity/username [put]
func (h *CharactersHandler) SetUsername(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req models.SetUsernameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid request body",
			Message: err.Error(),
		})
		return
	}

	resp, err := h.flow.SetUsername(c.Request.Context(), userID, c.Param("character_id"), req.Username)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// WatchIdentity godoc
// @Summary     Follow character registration
// @Description Streams each state change until the identity settles or polling pauses. Closing the connection stops polling.
// @Tags        characters
// @Produce     text/event-stream
// @Security    Bearer
// @Param       character_id path string true "Character ID"
// @Success     200 {string} string "event stream"
// @Router      /characters/{character_id}/sora-identity/watch [get]
func (h *CharactersHandler) WatchIdentity(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	characterID := c.Param("character_id")
	ctx := c.Request.Context()

	// Ownership and existence errors are reported before the stream opens.
	if _, err := h.flow.Get(ctx, userID, characterID); err != nil {
		respondError(c, err)
		return
	}

	flusher, ok := startSSE(c)
	if !ok {
		return
	}

	final, err := h.flow.Await(ctx, userID, characterID, func(resp *models.CharacterIdentityResponse) {
		_ = writeSSE(c, flusher, "", "state", resp)
	})
	if ctx.Err() != nil {
		return
	}

	switch {
	case errors.Is(err, services.ErrPollingPaused), errors.Is(err, services.ErrStepTimeout):
		_ = writeSSE(c, flusher, "", "paused", final)
	case err != nil:
		_ = writeSSE(c, flusher, "", "error", models.ErrorResponse{Error: "watch failed", Message: err.Error()})
	default:
		_ = writeSSE(c, flusher, "", "done", final)
	}
}
