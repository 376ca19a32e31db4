package dto

import "time"

type EventType string

const (
	EventRecognition EventType = "recognition"
	EventEnrollment  EventType = "enrollment"
)

// KioskEvent is published on NATS and pushed to WebSocket clients.
type KioskEvent struct {
	ID          string            `json:"id"`
	Type        EventType         `json:"type"`
	KioskID     string            `json:"kiosk_id"`
	At          time.Time         `json:"at"`
	Recognition *RecognitionEvent `json:"recognition,omitempty"`
	Enrollment  *EnrollmentEvent  `json:"enrollment,omitempty"`
}

// RecognitionEvent describes one matched face and the attendance decision taken for it.
type RecognitionEvent struct {
	IdentityID   string  `json:"identity_id"`
	DisplayName  string  `json:"display_name"`
	Role         string  `json:"role,omitempty"`
	Distance     float64 `json:"distance"`
	Confidence   float64 `json:"confidence"`
	Decision     string  `json:"decision"`
	ScheduleID   int64   `json:"schedule_id,omitempty"`
	ScheduleName string  `json:"schedule_name,omitempty"`
	Date         string  `json:"date"`
	TimeOfDay    string  `json:"time_of_day"`
	Inserted     bool    `json:"inserted"`
}

// EnrollmentEvent reports an enrollment candidate changing state.
type EnrollmentEvent struct {
	CandidateID string `json:"candidate_id"`
	State       string `json:"state"`
	IdentityID  string `json:"identity_id,omitempty"`
}

type AttendanceRecordResponse struct {
	ID           string `json:"id"`
	IdentityID   string `json:"identity_id"`
	DisplayName  string `json:"display_name"`
	Role         string `json:"role"`
	Date         string `json:"date"`
	TimeOfDay    string `json:"time_of_day"`
	ScheduleID   int64  `json:"schedule_id"`
	ScheduleName string `json:"schedule_name"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

type AttendanceListResponse struct {
	Records []AttendanceRecordResponse `json:"records"`
	Total   int                        `json:"total"`
}

type AttendanceQuery struct {
	Date       string `form:"date"`
	IdentityID string `form:"identity_id"`
	Limit      int    `form:"limit" binding:"omitempty,min=0,max=1000"`
	Offset     int    `form:"offset" binding:"omitempty,min=0"`
}

type AttendanceStateQuery struct {
	IdentityID string `form:"identity_id" binding:"required"`
	Date       string `form:"date" binding:"required"`
	ScheduleID int64  `form:"schedule_id" binding:"required,min=1"`
}

// AttendanceStateResponse is "recorded" or "not_recorded".
type AttendanceStateResponse struct {
	IdentityID string `json:"identity_id"`
	Date       string `json:"date"`
	ScheduleID int64  `json:"schedule_id"`
	State      string `json:"state"`
}
