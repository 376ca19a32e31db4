package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/attend/internal/enrollment"
	"github.com/your-org/attend/internal/gallery"
	"github.com/your-org/attend/internal/models"
	"github.com/your-org/attend/internal/vision"
	"github.com/your-org/attend/pkg/dto"
)

const timeLayout = time.RFC3339

// writeError maps domain errors onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	var (
		validation *enrollment.ValidationError
		duplicate  *gallery.DuplicateIdentityError
		unknown    *gallery.UnknownIdentityError
	)
	status := http.StatusInternalServerError
	resp := dto.ErrorResponse{Error: err.Error()}

	switch {
	case errors.As(err, &validation):
		status = http.StatusUnprocessableEntity
		resp.Fields = validation.FieldErrors
	case errors.As(err, &duplicate), errors.Is(err, models.ErrDuplicate):
		status = http.StatusConflict
	case errors.As(err, &unknown), errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, enrollment.ErrNoCandidate), errors.Is(err, enrollment.ErrApprovalInProgress):
		status = http.StatusConflict
	case errors.Is(err, vision.ErrNoFaceFound), errors.Is(err, vision.ErrInvalidImage), errors.Is(err, gallery.ErrInvalidSignature):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrPersistenceUnavailable):
		status = http.StatusServiceUnavailable
	}

	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, resp)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: msg})
}
