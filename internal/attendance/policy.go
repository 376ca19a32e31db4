// Package attendance decides whether a recognized identity gets an attendance
// event and writes it.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/your-org/attend/internal/gallery"
	"github.com/your-org/attend/internal/models"
	"github.com/your-org/attend/internal/observability"
)

type DecisionKind string

const (
	Accept                 DecisionKind = "accept"
	RejectOutsideWindow    DecisionKind = "reject_outside_window"
	RejectAlreadyRecorded  DecisionKind = "reject_already_recorded"
	RejectIdentityInactive DecisionKind = "reject_identity_inactive"
)

// ErrNotAccepted is returned by Commit for a decision other than Accept.
var ErrNotAccepted = errors.New("decision is not an accept")

// Decision is the outcome of Decide. Schedule is set for Accept and
// RejectAlreadyRecorded.
type Decision struct {
	Kind       DecisionKind     `json:"kind"`
	IdentityID string           `json:"identity_id"`
	Schedule   *models.Schedule `json:"schedule,omitempty"`
	Date       models.Date      `json:"date"`
	TimeOfDay  models.TimeOfDay `json:"time_of_day"`
	At         time.Time        `json:"at"`
}

func (d Decision) Accepted() bool { return d.Kind == Accept }

// Store is the persistence the policy needs.
type Store interface {
	ListActiveSchedules(ctx context.Context) ([]models.Schedule, error)
	HasAttendanceToday(ctx context.Context, identityID string, date models.Date, scheduleID int64) (bool, error)
	UpsertAttendanceEvent(ctx context.Context, ev models.AttendanceEvent) (bool, error)
}

// IdentityStatus resolves an identity's current status. *gallery.Gallery implements it.
type IdentityStatus interface {
	Status(ctx context.Context, identityID string) (models.IdentityStatus, error)
}

// RecordedCache is a fast, non-authoritative view of recorded keys.
type RecordedCache interface {
	Has(ctx context.Context, identityID string, date models.Date, scheduleID int64) (bool, error)
	Mark(ctx context.Context, identityID string, date models.Date, scheduleID int64) error
}

type Policy struct {
	store      Store
	identities IdentityStatus
	recorded   RecordedCache
	loc        *time.Location
}

// NewPolicy builds a policy evaluating times in loc. recorded may be nil.
func NewPolicy(store Store, identities IdentityStatus, recorded RecordedCache, loc *time.Location) *Policy {
	if loc == nil {
		loc = time.Local
	}
	if recorded == nil {
		recorded = noCache{}
	}
	return &Policy{store: store, identities: identities, recorded: recorded, loc: loc}
}

func (p *Policy) Location() *time.Location { return p.loc }

// Decide evaluates the rules in order: identity active, a window is open,
// nothing recorded yet for the chosen window today. It has no side effects
// on the store.
func (p *Policy) Decide(ctx context.Context, identityID string, now time.Time) (Decision, error) {
	now = now.In(p.loc)
	d := Decision{
		IdentityID: identityID,
		Date:       models.DateOf(now),
		TimeOfDay:  models.TimeOfDayOf(now),
		At:         now,
	}

	status, err := p.identities.Status(ctx, identityID)
	var unknown *gallery.UnknownIdentityError
	switch {
	case errors.As(err, &unknown):
		status = ""
	case err != nil:
		return Decision{}, models.PersistenceError("identity status", err)
	}
	if status != models.IdentityStatusActive {
		return p.decided(d, RejectIdentityInactive), nil
	}

	sched, err := p.OpenSchedule(ctx, now)
	if err != nil {
		return Decision{}, err
	}
	if sched == nil {
		return p.decided(d, RejectOutsideWindow), nil
	}
	d.Schedule = sched

	if hit, err := p.recorded.Has(ctx, identityID, d.Date, sched.ID); err != nil {
		slog.Warn("recorded cache lookup failed", "error", err, "identity_id", identityID)
	} else if hit {
		return p.decided(d, RejectAlreadyRecorded), nil
	}

	exists, err := p.store.HasAttendanceToday(ctx, identityID, d.Date, sched.ID)
	if err != nil {
		return Decision{}, models.PersistenceError("check attendance", err)
	}
	if exists {
		p.mark(ctx, d)
		return p.decided(d, RejectAlreadyRecorded), nil
	}
	return p.decided(d, Accept), nil
}

// OpenSchedule returns the active schedule whose window contains now, picking
// the lowest id when several overlap. It returns nil when no window is open.
func (p *Policy) OpenSchedule(ctx context.Context, now time.Time) (*models.Schedule, error) {
	now = now.In(p.loc)
	schedules, err := p.store.ListActiveSchedules(ctx)
	if err != nil {
		return nil, models.PersistenceError("list schedules", err)
	}
	var chosen *models.Schedule
	for i := range schedules {
		s := schedules[i]
		if !s.Matches(now) {
			continue
		}
		if chosen == nil || s.ID < chosen.ID {
			chosen = &s
		}
	}
	return chosen, nil
}

// Commit writes the event for an accepted decision. It reports false when the
// natural key already existed, in which case only the time of day was updated.
func (p *Policy) Commit(ctx context.Context, d Decision) (bool, error) {
	if !d.Accepted() || d.Schedule == nil {
		return false, fmt.Errorf("commit %s for %q: %w", d.Kind, d.IdentityID, ErrNotAccepted)
	}
	inserted, err := p.store.UpsertAttendanceEvent(ctx, models.AttendanceEvent{
		IdentityID: d.IdentityID,
		Date:       d.Date,
		TimeOfDay:  d.TimeOfDay,
		ScheduleID: d.Schedule.ID,
	})
	if err != nil {
		return false, models.PersistenceError("upsert attendance", err)
	}
	p.mark(ctx, d)
	if inserted {
		slog.Info("attendance recorded",
			"identity_id", d.IdentityID,
			"schedule_id", d.Schedule.ID,
			"date", d.Date.String(),
			"time", d.TimeOfDay.String(),
		)
	}
	return inserted, nil
}

// Record runs Decide and, on Accept, Commit. A concurrent writer that got
// there first turns the Accept into RejectAlreadyRecorded.
func (p *Policy) Record(ctx context.Context, identityID string, now time.Time) (Decision, error) {
	d, err := p.Decide(ctx, identityID, now)
	if err != nil || !d.Accepted() {
		return d, err
	}
	inserted, err := p.Commit(ctx, d)
	if err != nil {
		return Decision{}, err
	}
	if !inserted {
		d.Kind = RejectAlreadyRecorded
		observability.AttendanceDecisions.WithLabelValues("race_collapsed").Inc()
	}
	return d, nil
}

// DayState reports the per-identity state for a window on a given date.
func (p *Policy) DayState(ctx context.Context, identityID string, date models.Date, scheduleID int64) (DayState, error) {
	exists, err := p.store.HasAttendanceToday(ctx, identityID, date, scheduleID)
	if err != nil {
		return NotRecorded, models.PersistenceError("check attendance", err)
	}
	if exists {
		return Recorded, nil
	}
	return NotRecorded, nil
}

type noCache struct{}

func (noCache) Has(context.Context, string, models.Date, int64) (bool, error) { return false, nil }
func (noCache) Mark(context.Context, string, models.Date, int64) error         { return nil }

func (p *Policy) decided(d Decision, kind DecisionKind) Decision {
	d.Kind = kind
	observability.AttendanceDecisions.WithLabelValues(string(kind)).Inc()
	return d
}

func (p *Policy) mark(ctx context.Context, d Decision) {
	if err := p.recorded.Mark(ctx, d.IdentityID, d.Date, d.Schedule.ID); err != nil {
		slog.Warn("recorded cache update failed", "error", err, "identity_id", d.IdentityID)
	}
}
