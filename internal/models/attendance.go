package models

import (
	"time"

	"github.com/google/uuid"
)

// AttendanceEvent is a single recorded presence. The natural key is
// (IdentityID, Date, ScheduleID).
type AttendanceEvent struct {
	ID         uuid.UUID `json:"id" db:"id"`
	IdentityID string    `json:"identity_id" db:"identity_id"`
	Date       Date      `json:"date" db:"date"`
	TimeOfDay  TimeOfDay `json:"time_of_day" db:"time_of_day"`
	ScheduleID int64     `json:"schedule_id" db:"schedule_id"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// AttendanceRecord is an event joined with the identity and schedule names for listings.
type AttendanceRecord struct {
	AttendanceEvent
	DisplayName  string `json:"display_name"`
	Role         Role   `json:"role"`
	ScheduleName string `json:"schedule_name"`
}

// AttendanceFilter narrows attendance listings. Zero values mean "any".
type AttendanceFilter struct {
	Date       *Date
	IdentityID string
	Limit      int
	Offset     int
}

// Date is a calendar date without time or zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return Date{}, err
	}
	return DateOf(t), nil
}

// Time returns midnight of the date in loc.
func (d Date) Time(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

func (d Date) String() string {
	return d.Time(time.UTC).Format(time.DateOnly)
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
