package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/attend/internal/models"
	"github.com/your-org/attend/pkg/dto"
)

type ScheduleStore interface {
	ListSchedules(ctx context.Context, includeInactive bool) ([]models.Schedule, error)
	GetSchedule(ctx context.Context, id int64) (models.Schedule, error)
	CreateSchedule(ctx context.Context, sc models.Schedule) (models.Schedule, error)
	UpdateSchedule(ctx context.Context, sc models.Schedule) (models.Schedule, error)
	DeactivateSchedule(ctx context.Context, id int64) error
}

// WindowChecker answers which window is open. *attendance.Policy implements it.
type WindowChecker interface {
	OpenSchedule(ctx context.Context, now time.Time) (*models.Schedule, error)
	Location() *time.Location
}

type ScheduleHandler struct {
	store  ScheduleStore
	window WindowChecker
	now    func() time.Time
}

func NewScheduleHandler(store ScheduleStore, window WindowChecker) *ScheduleHandler {
	return &ScheduleHandler{store: store, window: window, now: time.Now}
}

func scheduleResponse(sc models.Schedule) dto.ScheduleResponse {
	weekdays := sc.Weekdays
	if weekdays == nil {
		weekdays = []int{}
	}
	return dto.ScheduleResponse{
		ID:              sc.ID,
		Name:            sc.Name,
		Kind:            string(sc.Kind),
		StartTime:       sc.Start.String(),
		EndTime:         sc.End.String(),
		Weekdays:        weekdays,
		IntervalMinutes: sc.IntervalMinutes,
		IsActive:        sc.IsActive,
		CreatedAt:       sc.CreatedAt.Format(timeLayout),
		UpdatedAt:       sc.UpdatedAt.Format(timeLayout),
	}
}

// scheduleFromRequest parses and validates the payload. It writes the error
// response itself and reports false on failure.
func scheduleFromRequest(c *gin.Context) (models.Schedule, bool) {
	var req dto.ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return models.Schedule{}, false
	}
	start, err := models.ParseTimeOfDay(req.StartTime)
	if err != nil {
		badRequest(c, "invalid start_time: "+err.Error())
		return models.Schedule{}, false
	}
	end, err := models.ParseTimeOfDay(req.EndTime)
	if err != nil {
		badRequest(c, "invalid end_time: "+err.Error())
		return models.Schedule{}, false
	}

	sc := models.Schedule{
		Name:            req.Name,
		Kind:            models.ScheduleKind(req.Kind),
		Start:           start,
		End:             end,
		Weekdays:        req.Weekdays,
		IntervalMinutes: req.IntervalMinutes,
		IsActive:        true,
	}
	if req.IsActive != nil {
		sc.IsActive = *req.IsActive
	}
	if err := sc.Validate(); err != nil {
		c.JSON(http.StatusUnprocessableEntity, dto.ErrorResponse{Error: err.Error()})
		return models.Schedule{}, false
	}
	return sc, true
}

func scheduleID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid schedule id")
		return 0, false
	}
	return id, true
}

func (h *ScheduleHandler) List(c *gin.Context) {
	includeInactive := c.Query("include_inactive") == "true"
	schedules, err := h.store.ListSchedules(c.Request.Context(), includeInactive)
	if err != nil {
		writeError(c, err)
		return
	}
	resp := make([]dto.ScheduleResponse, 0, len(schedules))
	for _, sc := range schedules {
		resp = append(resp, scheduleResponse(sc))
	}
	c.JSON(http.StatusOK, dto.ScheduleListResponse{Schedules: resp, Total: len(resp)})
}

func (h *ScheduleHandler) Get(c *gin.Context) {
	id, ok := scheduleID(c)
	if !ok {
		return
	}
	sc, err := h.store.GetSchedule(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, scheduleResponse(sc))
}

func (h *ScheduleHandler) Create(c *gin.Context) {
	sc, ok := scheduleFromRequest(c)
	if !ok {
		return
	}
	created, err := h.store.CreateSchedule(c.Request.Context(), sc)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, scheduleResponse(created))
}

func (h *ScheduleHandler) Update(c *gin.Context) {
	id, ok := scheduleID(c)
	if !ok {
		return
	}
	sc, ok := scheduleFromRequest(c)
	if !ok {
		return
	}
	sc.ID = id
	updated, err := h.store.UpdateSchedule(c.Request.Context(), sc)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, scheduleResponse(updated))
}

// Delete deactivates the schedule; attendance recorded under it is kept.
func (h *ScheduleHandler) Delete(c *gin.Context) {
	id, ok := scheduleID(c)
	if !ok {
		return
	}
	if err := h.store.DeactivateSchedule(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Window reports the open window at ?at= (RFC 3339), defaulting to now.
func (h *ScheduleHandler) Window(c *gin.Context) {
	at := h.now()
	if s := c.Query("at"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			badRequest(c, "invalid at, want RFC 3339")
			return
		}
		at = t
	}
	at = at.In(h.window.Location())

	sched, err := h.window.OpenSchedule(c.Request.Context(), at)
	if err != nil {
		writeError(c, err)
		return
	}
	resp := dto.WindowResponse{Open: sched != nil, At: at.Format(timeLayout)}
	if sched != nil {
		sr := scheduleResponse(*sched)
		resp.Schedule = &sr
	}
	c.JSON(http.StatusOK, resp)
}
