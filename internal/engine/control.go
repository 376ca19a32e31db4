package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/your-org/attend/internal/enrollment"
	"github.com/your-org/attend/internal/ingest"
	"github.com/your-org/attend/internal/models"
	"github.com/your-org/attend/pkg/dto"
)

type cameraStatuser interface {
	Status() ingest.CameraStatus
}

// Status returns the current loop state. When ctx is usable it also asks the
// policy whether a window is open; a failing store leaves the last known one.
func (e *Engine) Status(ctx context.Context) Status {
	now := e.now()
	if sched, err := e.policy.OpenSchedule(ctx, now); err == nil {
		e.setWindow(sched)
	}

	e.mu.Lock()
	e.clearStaleLocked(now)
	st := Status{
		Mode:              e.mode,
		RecognitionActive: e.active,
		CaptureMode:       e.captureMode,
		CameraAlwaysOn:    e.cameraOn,
		WindowOpen:        e.window != nil,
		LastCycleAt:       e.lastCycle,
	}
	if e.window != nil {
		st.ActiveSchedule = e.window.Name
	}
	if e.last != nil {
		last := *e.last
		st.LastDecision = &last
	}
	if e.lastErr != nil {
		st.LastError = e.lastErr.Error()
	}
	e.mu.Unlock()

	snap := e.gallery.Snapshot()
	st.GalleryVersion = snap.Version()
	st.GallerySize = snap.Len()
	st.GalleryIdentities = snap.IdentityCount()
	st.GalleryBuiltAt = snap.BuiltAt()
	st.PendingCandidate = e.enroll.Pending()
	st.LastResolution = e.enroll.LastResolution()
	if cs, ok := e.frames.(cameraStatuser); ok {
		camera := cs.Status()
		st.Camera = &camera
	}
	return st
}

// Approve enrolls the pending candidate and announces the resolution.
func (e *Engine) Approve(ctx context.Context, a enrollment.Approval) (models.Identity, error) {
	pending := e.enroll.Pending()
	ident, err := e.enroll.Approve(ctx, a)
	if err != nil {
		return models.Identity{}, err
	}
	e.setMode(e.idleMode())
	if pending != nil {
		e.publish(ctx, dto.KioskEvent{
			Type: dto.EventEnrollment,
			Enrollment: &dto.EnrollmentEvent{
				CandidateID: pending.ID.String(),
				State:       enrollment.ResolvedAccepted.String(),
				IdentityID:  ident.ID,
			},
		})
	}
	return ident, nil
}

// Reject discards the pending candidate.
func (e *Engine) Reject(ctx context.Context) error {
	pending := e.enroll.Pending()
	if err := e.enroll.Reject(); err != nil {
		return err
	}
	e.setMode(e.idleMode())
	if pending != nil {
		e.publish(ctx, dto.KioskEvent{
			Type: dto.EventEnrollment,
			Enrollment: &dto.EnrollmentEvent{
				CandidateID: pending.ID.String(),
				State:       enrollment.ResolvedRejected.String(),
			},
		})
	}
	return nil
}

// Pause stops recognition until Resume. The switch is persisted.
func (e *Engine) Pause(ctx context.Context) error {
	return e.SetRecognitionActive(ctx, false)
}

func (e *Engine) Resume(ctx context.Context) error {
	return e.SetRecognitionActive(ctx, true)
}

func (e *Engine) SetRecognitionActive(ctx context.Context, active bool) error {
	if e.settings != nil {
		if err := e.settings.PutSetting(ctx, models.SettingRecognitionActive, strconv.FormatBool(active)); err != nil {
			return fmt.Errorf("save %s: %w", models.SettingRecognitionActive, err)
		}
	}
	e.mu.Lock()
	e.active = active
	e.mu.Unlock()
	if active {
		e.setMode(e.idleMode())
	} else {
		e.setMode(ModePaused)
	}
	slog.Info("recognition switched", "active", active)
	return nil
}

func (e *Engine) SetCaptureMode(ctx context.Context, mode models.CaptureMode) error {
	if _, err := models.ParseCaptureMode(string(mode)); err != nil {
		return err
	}
	if e.settings != nil {
		if err := e.settings.PutSetting(ctx, models.SettingCaptureMode, string(mode)); err != nil {
			return fmt.Errorf("save %s: %w", models.SettingCaptureMode, err)
		}
	}
	e.mu.Lock()
	e.captureMode = mode
	e.mu.Unlock()
	slog.Info("capture mode changed", "mode", string(mode))
	return nil
}

// SetCameraAlwaysOn persists camera_always_on and starts or stops the camera
// to match, so the choice survives a restart.
func (e *Engine) SetCameraAlwaysOn(ctx context.Context, on bool) error {
	if e.settings != nil {
		if err := e.settings.PutSetting(ctx, models.SettingCameraAlwaysOn, strconv.FormatBool(on)); err != nil {
			return fmt.Errorf("save %s: %w", models.SettingCameraAlwaysOn, err)
		}
	}
	e.mu.Lock()
	e.cameraOn = on
	e.mu.Unlock()
	slog.Info("camera switched", "always_on", on)
	return e.applyCamera()
}

// ReloadGallery re-reads the gallery from the store. A failed reload is
// retried by the loop until it succeeds.
func (e *Engine) ReloadGallery(ctx context.Context) error {
	err := e.gallery.Reload(ctx)
	e.mu.Lock()
	e.needReload = err != nil
	e.mu.Unlock()
	if err != nil {
		if !errors.Is(err, models.ErrPersistenceUnavailable) {
			err = models.PersistenceError("reload gallery", err)
		}
		return err
	}
	return nil
}
