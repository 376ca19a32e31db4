package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/attend/internal/ingest"
)

// CameraStatus reports the capture process. *ingest.Camera implements it.
type CameraStatus interface {
	Status() ingest.CameraStatus
}

// CameraSwitch persists the camera_always_on choice and applies it.
// *engine.Engine implements it.
type CameraSwitch interface {
	SetCameraAlwaysOn(ctx context.Context, on bool) error
}

type CameraHandler struct {
	camera CameraStatus
	power  CameraSwitch
}

func NewCameraHandler(camera CameraStatus, power CameraSwitch) *CameraHandler {
	return &CameraHandler{camera: camera, power: power}
}

func (h *CameraHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.camera.Status())
}

// Start turns the camera on and keeps it on across restarts.
func (h *CameraHandler) Start(c *gin.Context) {
	h.switchTo(c, true)
}

// Stop turns the camera off and keeps it off across restarts.
func (h *CameraHandler) Stop(c *gin.Context) {
	h.switchTo(c, false)
}

func (h *CameraHandler) switchTo(c *gin.Context, on bool) {
	if err := h.power.SetCameraAlwaysOn(c.Request.Context(), on); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.camera.Status())
}
