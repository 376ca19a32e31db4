package dto

type ScheduleRequest struct {
	Name            string `json:"name" binding:"required,max=200"`
	Kind            string `json:"kind" binding:"required,oneof=fixed recurring_weekly custom_interval"`
	StartTime       string `json:"start_time" binding:"required"`
	EndTime         string `json:"end_time" binding:"required"`
	Weekdays        []int  `json:"weekdays" binding:"omitempty,dive,min=1,max=7"`
	IntervalMinutes int    `json:"interval_minutes" binding:"omitempty,min=0"`
	IsActive        *bool  `json:"is_active"`
}

type ScheduleResponse struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	Kind            string `json:"kind"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	Weekdays        []int  `json:"weekdays"`
	IntervalMinutes int    `json:"interval_minutes,omitempty"`
	IsActive        bool   `json:"is_active"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

type ScheduleListResponse struct {
	Schedules []ScheduleResponse `json:"schedules"`
	Total     int                `json:"total"`
}

// WindowResponse answers whether an attendance window is open right now.
type WindowResponse struct {
	Open     bool              `json:"open"`
	Schedule *ScheduleResponse `json:"schedule,omitempty"`
	At       string            `json:"at"`
}

type SettingsRequest struct {
	RecognitionActive *bool  `json:"recognition_active"`
	CaptureMode       string `json:"capture_mode" binding:"omitempty,oneof=continuous scheduled"`
	CameraAlwaysOn    *bool  `json:"camera_always_on"`
}

type SettingsResponse struct {
	RecognitionActive bool   `json:"recognition_active"`
	CaptureMode       string `json:"capture_mode"`
	CameraAlwaysOn    bool   `json:"camera_always_on"`
}
