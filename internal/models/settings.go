package models

import "fmt"

// Keys of the system_settings table.
const (
	SettingRecognitionActive = "recognition_active"
	SettingCaptureMode       = "capture_mode"
	SettingCameraAlwaysOn    = "camera_always_on"
)

// CaptureMode controls when the recognition loop runs.
type CaptureMode string

const (
	// CaptureContinuous recognizes on every cycle.
	CaptureContinuous CaptureMode = "continuous"
	// CaptureScheduled recognizes only while an attendance window is open.
	CaptureScheduled CaptureMode = "scheduled"
)

func ParseCaptureMode(s string) (CaptureMode, error) {
	switch CaptureMode(s) {
	case CaptureContinuous, CaptureScheduled:
		return CaptureMode(s), nil
	}
	return "", fmt.Errorf("unknown capture mode %q", s)
}
