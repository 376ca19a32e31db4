package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/attend/internal/engine"
	"github.com/your-org/attend/internal/enrollment"
	"github.com/your-org/attend/internal/models"
	"github.com/your-org/attend/internal/vision"
	"github.com/your-org/attend/pkg/dto"
)

// Kiosk is the operator surface of the recognition loop. *engine.Engine implements it.
type Kiosk interface {
	Status(ctx context.Context) engine.Status
	Approve(ctx context.Context, a enrollment.Approval) (models.Identity, error)
	Reject(ctx context.Context) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	SetRecognitionActive(ctx context.Context, active bool) error
	SetCaptureMode(ctx context.Context, mode models.CaptureMode) error
	SetCameraAlwaysOn(ctx context.Context, on bool) error
	ReloadGallery(ctx context.Context) error
}

type KioskHandler struct {
	kiosk      Kiosk
	candidates *enrollment.Controller
}

func NewKioskHandler(kiosk Kiosk, candidates *enrollment.Controller) *KioskHandler {
	return &KioskHandler{kiosk: kiosk, candidates: candidates}
}

func (h *KioskHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.kiosk.Status(c.Request.Context()))
}

func (h *KioskHandler) Pause(c *gin.Context) {
	if err := h.kiosk.Pause(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.kiosk.Status(c.Request.Context()))
}

func (h *KioskHandler) Resume(c *gin.Context) {
	if err := h.kiosk.Resume(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.kiosk.Status(c.Request.Context()))
}

// Approve enrolls the pending candidate.
func (h *KioskHandler) Approve(c *gin.Context) {
	var req dto.ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	ident, err := h.kiosk.Approve(c.Request.Context(), enrollment.Approval{
		IdentityID:   req.IdentityID,
		DisplayName:  req.DisplayName,
		Role:         models.Role(req.Role),
		Department:   req.Department,
		ClassSection: req.ClassSection,
		Phone:        req.Phone,
		Email:        req.Email,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, identityResponse(ident))
}

func (h *KioskHandler) Reject(c *gin.Context) {
	if err := h.kiosk.Reject(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Candidate returns the pending candidate, or 404.
func (h *KioskHandler) Candidate(c *gin.Context) {
	view := h.candidates.Pending()
	if view == nil {
		writeError(c, enrollment.ErrNoCandidate)
		return
	}
	c.JSON(http.StatusOK, view)
}

// CandidateCrop serves the pending candidate's face as JPEG.
func (h *KioskHandler) CandidateCrop(c *gin.Context) {
	crop := h.candidates.PendingCrop()
	if crop == nil {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "no candidate crop"})
		return
	}
	data, err := vision.EncodeJPEG(crop, 90)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/jpeg", data)
}

func (h *KioskHandler) GetSettings(c *gin.Context) {
	st := h.kiosk.Status(c.Request.Context())
	c.JSON(http.StatusOK, dto.SettingsResponse{
		RecognitionActive: st.RecognitionActive,
		CaptureMode:       string(st.CaptureMode),
		CameraAlwaysOn:    st.CameraAlwaysOn,
	})
}

func (h *KioskHandler) UpdateSettings(c *gin.Context) {
	var req dto.SettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	ctx := c.Request.Context()
	if req.CaptureMode != "" {
		if err := h.kiosk.SetCaptureMode(ctx, models.CaptureMode(req.CaptureMode)); err != nil {
			writeError(c, err)
			return
		}
	}
	if req.RecognitionActive != nil {
		if err := h.kiosk.SetRecognitionActive(ctx, *req.RecognitionActive); err != nil {
			writeError(c, err)
			return
		}
	}
	if req.CameraAlwaysOn != nil {
		if err := h.kiosk.SetCameraAlwaysOn(ctx, *req.CameraAlwaysOn); err != nil {
			writeError(c, err)
			return
		}
	}
	h.GetSettings(c)
}

// Reload re-reads the gallery from the store.
func (h *KioskHandler) Reload(c *gin.Context) {
	if err := h.kiosk.ReloadGallery(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.kiosk.Status(c.Request.Context()))
}
