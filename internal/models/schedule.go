package models

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

type ScheduleKind string

const (
	ScheduleKindFixed           ScheduleKind = "fixed"
	ScheduleKindRecurringWeekly ScheduleKind = "recurring_weekly"
	ScheduleKindCustomInterval  ScheduleKind = "custom_interval"
)

// Schedule is a time-of-day window during which attendance may be recorded.
type Schedule struct {
	ID              int64        `json:"id" db:"id"`
	Name            string       `json:"name" db:"name"`
	Kind            ScheduleKind `json:"kind" db:"kind"`
	Start           TimeOfDay    `json:"start_time" db:"start_time"`
	End             TimeOfDay    `json:"end_time" db:"end_time"`
	Weekdays        []int        `json:"active_weekdays,omitempty" db:"active_weekdays"`
	IntervalMinutes int          `json:"interval_minutes,omitempty" db:"interval_minutes"`
	IsActive        bool         `json:"is_active" db:"is_active"`
	CreatedAt       time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at" db:"updated_at"`
}

// Validate checks the schedule invariants. Windows never span midnight.
func (s Schedule) Validate() error {
	var problems []string
	if strings.TrimSpace(s.Name) == "" {
		problems = append(problems, "name is required")
	}
	if s.Start > s.End {
		problems = append(problems, "start_time must not be after end_time")
	}
	if s.Start < 0 || s.End >= 24*TimeOfDay(time.Hour) {
		problems = append(problems, "times must be within one day")
	}
	for _, wd := range s.Weekdays {
		if wd < 1 || wd > 7 {
			problems = append(problems, fmt.Sprintf("weekday %d out of range 1-7", wd))
		}
	}
	switch s.Kind {
	case ScheduleKindRecurringWeekly:
		if len(s.Weekdays) == 0 {
			problems = append(problems, "recurring_weekly requires active_weekdays")
		}
	case ScheduleKindFixed:
		if len(s.Weekdays) > 0 {
			problems = append(problems, "active_weekdays only apply to recurring_weekly")
		}
	case ScheduleKindCustomInterval:
		if len(s.Weekdays) > 0 {
			problems = append(problems, "active_weekdays only apply to recurring_weekly")
		}
		if s.IntervalMinutes <= 0 {
			problems = append(problems, "custom_interval requires interval_minutes > 0")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown schedule kind %q", s.Kind))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid schedule: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Matches reports whether t falls inside the window. Both bounds are inclusive.
func (s Schedule) Matches(t time.Time) bool {
	if !s.IsActive {
		return false
	}
	if len(s.Weekdays) > 0 && !slices.Contains(s.Weekdays, ISOWeekday(t)) {
		return false
	}
	tod := TimeOfDayOf(t)
	return s.Start <= tod && tod <= s.End
}

// ISOWeekday returns 1 for Monday through 7 for Sunday.
func ISOWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// TimeOfDay is the offset from local midnight.
type TimeOfDay time.Duration

// TimeOfDayOf returns the offset of t from midnight in t's location,
// truncated to the microsecond precision of a Postgres TIME column.
func TimeOfDayOf(t time.Time) TimeOfDay {
	h, m, s := t.Clock()
	return TimeOfDay(time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second +
		time.Duration(t.Nanosecond()).Truncate(time.Microsecond))
}

// ParseTimeOfDay accepts HH:MM or HH:MM:SS.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	layout := "15:04:05"
	if strings.Count(s, ":") == 1 {
		layout = "15:04"
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return 0, fmt.Errorf("parse time of day %q: %w", s, err)
	}
	return TimeOfDayOf(t), nil
}

// MustTimeOfDay is ParseTimeOfDay for constants; it panics on bad input.
func MustTimeOfDay(s string) TimeOfDay {
	tod, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return tod
}

// Duration returns the offset as a time.Duration.
func (t TimeOfDay) Duration() time.Duration {
	return time.Duration(t)
}

// On returns the instant at this offset on the given date in loc.
func (t TimeOfDay) On(d Date, loc *time.Location) time.Time {
	return d.Time(loc).Add(time.Duration(t))
}

func (t TimeOfDay) String() string {
	d := time.Duration(t)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	sec := d / time.Second
	return fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	parsed, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
