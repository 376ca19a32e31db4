package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/attend/internal/attendance"
	"github.com/your-org/attend/internal/models"
	"github.com/your-org/attend/pkg/dto"
)

type AttendanceStore interface {
	ListAttendance(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, error)
	DeleteAttendanceEvent(ctx context.Context, id uuid.UUID) (models.AttendanceEvent, error)
}

// RecordedCache drops the recorded-today marker of a deleted event.
// *cache.Recorded implements it.
type RecordedCache interface {
	Forget(ctx context.Context, identityID string, date models.Date, scheduleID int64) error
}

// DayStates answers whether an identity is recorded for a window and day.
type DayStates interface {
	DayState(ctx context.Context, identityID string, date models.Date, scheduleID int64) (attendance.DayState, error)
}

type AttendanceHandler struct {
	store    AttendanceStore
	days     DayStates
	recorded RecordedCache
}

// NewAttendanceHandler wires the attendance endpoints. recorded may be nil.
func NewAttendanceHandler(store AttendanceStore, days DayStates, recorded RecordedCache) *AttendanceHandler {
	return &AttendanceHandler{store: store, days: days, recorded: recorded}
}

func (h *AttendanceHandler) State(c *gin.Context) {
	var q dto.AttendanceStateQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err.Error())
		return
	}
	date, err := models.ParseDate(q.Date)
	if err != nil {
		badRequest(c, "invalid date, want YYYY-MM-DD")
		return
	}
	state, err := h.days.DayState(c.Request.Context(), q.IdentityID, date, q.ScheduleID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.AttendanceStateResponse{
		IdentityID: q.IdentityID,
		Date:       date.String(),
		ScheduleID: q.ScheduleID,
		State:      state.String(),
	})
}

// Delete removes one attendance record. The identity can then be recorded
// again for that day and schedule.
func (h *AttendanceHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid attendance id")
		return
	}
	ctx := c.Request.Context()
	ev, err := h.store.DeleteAttendanceEvent(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	if h.recorded != nil {
		if err := h.recorded.Forget(ctx, ev.IdentityID, ev.Date, ev.ScheduleID); err != nil {
			slog.Warn("forget recorded attendance", "error", err, "identity_id", ev.IdentityID)
		}
	}
	slog.Info("attendance deleted", "id", id, "identity_id", ev.IdentityID, "date", ev.Date.String())
	c.Status(http.StatusNoContent)
}

// List returns attendance records, newest first, filtered by date and identity.
func (h *AttendanceHandler) List(c *gin.Context) {
	var q dto.AttendanceQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err.Error())
		return
	}

	filter := models.AttendanceFilter{
		IdentityID: q.IdentityID,
		Limit:      q.Limit,
		Offset:     q.Offset,
	}
	if filter.Limit == 0 {
		filter.Limit = 100
	}
	if q.Date != "" {
		d, err := models.ParseDate(q.Date)
		if err != nil {
			badRequest(c, "invalid date, want YYYY-MM-DD")
			return
		}
		filter.Date = &d
	}

	records, err := h.store.ListAttendance(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := make([]dto.AttendanceRecordResponse, 0, len(records))
	for _, r := range records {
		resp = append(resp, dto.AttendanceRecordResponse{
			ID:           r.ID.String(),
			IdentityID:   r.IdentityID,
			DisplayName:  r.DisplayName,
			Role:         string(r.Role),
			Date:         r.Date.String(),
			TimeOfDay:    r.TimeOfDay.String(),
			ScheduleID:   r.ScheduleID,
			ScheduleName: r.ScheduleName,
			CreatedAt:    r.CreatedAt.Format(timeLayout),
			UpdatedAt:    r.UpdatedAt.Format(timeLayout),
		})
	}
	c.JSON(http.StatusOK, dto.AttendanceListResponse{Records: resp, Total: len(resp)})
}
