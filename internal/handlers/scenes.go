package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"storyboard-backend/internal/models"
	"storyboard-backend/internal/services"
)

type ScenesHandler struct {
	rollup *services.SceneRollup
	scenes services.SceneStore
}

func NewScenesHandler(rollup *services.SceneRollup, scenes services.SceneStore) *ScenesHandler {
	return &ScenesHandler{rollup: rollup, scenes: scenes}
}

// SoraStatus godoc
// @Summary     Scene generation status
// @Description Recomputes the scene aggregate from its tasks. A scene without tasks returns the stored aggregate, if any.
// @Tags        scenes
// @Produce     json
// @Security    Bearer
// @Param       scene_id path string true "Scene ID"
// @Success     200 {object} models.SceneStatusResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /scenes/{scene_id}/sora-status [get]
func (h *ScenesHandler) SoraStatus(c *gin.Context) {
	sceneID := c.Param("scene_id")

	gen, err := h.rollup.Rollup(c.Request.Context(), sceneID)
	if err != nil {
		respondError(c, err)
		return
	}
	if gen != nil {
		c.JSON(http.StatusOK, models.SceneStatusResponse{SceneID: sceneID, Generation: gen})
		return
	}

	scene, err := h.scenes.GetScene(c.Request.Context(), sceneID)
	if err != nil {
		respondError(c, err)
		return
	}
	stored, ok, err := scene.Metadata.SoraGeneration()
	if err != nil {
		respondError(c, err)
		return
	}
	resp := models.SceneStatusResponse{SceneID: sceneID}
	if ok {
		resp.Generation = &stored
	}
	c.JSON(http.StatusOK, resp)
}
