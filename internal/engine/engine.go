// Package engine runs the recognition loop: it pulls the latest camera frame,
// extracts the primary face, matches it against the gallery and hands the
// result to the attendance policy or the enrollment controller.
package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/attend/internal/attendance"
	"github.com/your-org/attend/internal/config"
	"github.com/your-org/attend/internal/enrollment"
	"github.com/your-org/attend/internal/gallery"
	"github.com/your-org/attend/internal/ingest"
	"github.com/your-org/attend/internal/match"
	"github.com/your-org/attend/internal/models"
	"github.com/your-org/attend/internal/observability"
	"github.com/your-org/attend/internal/vision"
	"github.com/your-org/attend/pkg/dto"
)

type Mode string

const (
	ModeRecognizing       Mode = "recognizing"
	ModeEnrolling         Mode = "enrolling"
	ModePaused            Mode = "paused"
	ModeOutsideWindow     Mode = "outside_window"
	ModeCameraUnavailable Mode = "camera_unavailable"
	ModeDegraded          Mode = "degraded"
)

// FrameSource yields the newest camera frame. A nil frame with a nil error
// means nothing new has arrived.
type FrameSource interface {
	LatestFrame() (*ingest.Frame, error)
}

type Extractor interface {
	Extract(img image.Image) (vision.Face, error)
}

type Gallery interface {
	Snapshot() *gallery.Snapshot
	Reload(ctx context.Context) error
}

type Policy interface {
	Record(ctx context.Context, identityID string, now time.Time) (attendance.Decision, error)
	OpenSchedule(ctx context.Context, now time.Time) (*models.Schedule, error)
}

// Settings persists the operator switches.
type Settings interface {
	GetSetting(ctx context.Context, key string) (string, error)
	PutSetting(ctx context.Context, key, value string) error
}

// CameraControl starts and stops the capture process. *ingest.Camera implements it.
type CameraControl interface {
	Start() error
	Stop()
}

// Publisher fans out kiosk events. Failures are logged and never stop the loop.
type Publisher interface {
	Publish(ctx context.Context, ev dto.KioskEvent) error
}

type Options struct {
	KioskID        string
	Tolerance      float64
	Cadence        time.Duration
	IdleCadence    time.Duration
	MaxFrameAge    time.Duration
	DisplayTimeout time.Duration
	// CameraAlwaysOn is used until camera_always_on is stored.
	CameraAlwaysOn bool
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		KioskID:        cfg.Kiosk.ID,
		Tolerance:      cfg.Recognition.Tolerance,
		Cadence:        cfg.Recognition.Cadence,
		IdleCadence:    cfg.Recognition.IdleCadence,
		MaxFrameAge:    cfg.Recognition.MaxFrameAge,
		DisplayTimeout: cfg.Recognition.DisplayTimeout,
		CameraAlwaysOn: cfg.Camera.AutoStart,
	}
}

func (o *Options) setDefaults() {
	if o.Tolerance <= 0 {
		o.Tolerance = match.DefaultTolerance
	}
	if o.Cadence <= 0 {
		o.Cadence = 200 * time.Millisecond
	}
	if o.IdleCadence < o.Cadence {
		o.IdleCadence = max(time.Second, o.Cadence)
	}
	if o.MaxFrameAge <= 0 {
		o.MaxFrameAge = time.Second
	}
	if o.DisplayTimeout <= 0 {
		o.DisplayTimeout = 3 * time.Second
	}
}

// Deps are the collaborators of an Engine. Camera, Settings and Publisher
// may be nil.
type Deps struct {
	Frames     FrameSource
	Camera     CameraControl
	Extractor  Extractor
	Gallery    Gallery
	Policy     Policy
	Enrollment *enrollment.Controller
	Settings   Settings
	Publisher  Publisher
}

// Recognition is the last matched face shown on the kiosk display.
type Recognition struct {
	IdentityID   string                  `json:"identity_id"`
	DisplayName  string                  `json:"display_name"`
	Role         models.Role             `json:"role,omitempty"`
	Distance     float64                 `json:"distance"`
	Confidence   float64                 `json:"confidence"`
	Decision     attendance.DecisionKind `json:"decision"`
	ScheduleID   int64                   `json:"schedule_id,omitempty"`
	ScheduleName string                  `json:"schedule_name,omitempty"`
	At           time.Time               `json:"at"`
}

// Status is a point-in-time view of the loop for the operator API.
type Status struct {
	Mode              Mode                      `json:"mode"`
	RecognitionActive bool                      `json:"recognition_active"`
	CaptureMode       models.CaptureMode        `json:"capture_mode"`
	CameraAlwaysOn    bool                      `json:"camera_always_on"`
	Camera            *ingest.CameraStatus      `json:"camera,omitempty"`
	WindowOpen        bool                      `json:"window_open"`
	ActiveSchedule    string                    `json:"active_schedule,omitempty"`
	GalleryVersion    uint64                    `json:"gallery_version"`
	GallerySize       int                       `json:"gallery_size"`
	GalleryIdentities int                       `json:"gallery_identities"`
	GalleryBuiltAt    time.Time                 `json:"gallery_built_at"`
	PendingCandidate  *enrollment.CandidateView `json:"pending_candidate,omitempty"`
	LastResolution    *enrollment.Resolution    `json:"last_resolution,omitempty"`
	LastDecision      *Recognition              `json:"last_decision,omitempty"`
	LastError         string                    `json:"last_error,omitempty"`
	LastCycleAt       time.Time                 `json:"last_cycle_at"`
}

type Engine struct {
	frames    FrameSource
	camera    CameraControl
	extractor Extractor
	gallery   Gallery
	policy    Policy
	enroll    *enrollment.Controller
	settings  Settings
	publisher Publisher
	opts      Options
	now       func() time.Time

	mu          sync.RWMutex
	mode        Mode
	active      bool
	captureMode models.CaptureMode
	cameraOn    bool
	window      *models.Schedule
	last        *Recognition
	lastErr     error
	lastCycle   time.Time
	needReload  bool
}

func New(deps Deps, opts Options) *Engine {
	opts.setDefaults()
	e := &Engine{
		frames:      deps.Frames,
		camera:      deps.Camera,
		extractor:   deps.Extractor,
		gallery:     deps.Gallery,
		policy:      deps.Policy,
		enroll:      deps.Enrollment,
		settings:    deps.Settings,
		publisher:   deps.Publisher,
		opts:        opts,
		now:         time.Now,
		mode:        ModeRecognizing,
		active:      true,
		captureMode: models.CaptureContinuous,
		cameraOn:    opts.CameraAlwaysOn,
	}
	if e.publisher == nil {
		e.publisher = noPublisher{}
	}
	return e
}

type noPublisher struct{}

func (noPublisher) Publish(context.Context, dto.KioskEvent) error { return nil }

// LoadSettings reads the operator switches from the store. Missing keys
// keep their defaults. The camera is then started or stopped to match
// camera_always_on, also when loading fails.
func (e *Engine) LoadSettings(ctx context.Context) (err error) {
	defer func() {
		if cerr := e.applyCamera(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if e.settings == nil {
		return nil
	}
	for _, setting := range []struct {
		key   string
		apply func(string) error
	}{
		{models.SettingRecognitionActive, func(v string) error {
			active, err := strconv.ParseBool(v)
			if err == nil {
				e.active = active
			}
			return err
		}},
		{models.SettingCaptureMode, func(v string) error {
			mode, err := models.ParseCaptureMode(v)
			if err == nil {
				e.captureMode = mode
			}
			return err
		}},
		{models.SettingCameraAlwaysOn, func(v string) error {
			on, err := strconv.ParseBool(v)
			if err == nil {
				e.cameraOn = on
			}
			return err
		}},
	} {
		value, err := e.settings.GetSetting(ctx, setting.key)
		if errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("load %s: %w", setting.key, err)
		}
		e.mu.Lock()
		err = setting.apply(value)
		e.mu.Unlock()
		if err != nil {
			return fmt.Errorf("parse %s: %w", setting.key, err)
		}
	}
	return nil
}

// applyCamera starts or stops the camera to match cameraOn.
func (e *Engine) applyCamera() error {
	if e.camera == nil {
		return nil
	}
	e.mu.RLock()
	on := e.cameraOn
	e.mu.RUnlock()
	if !on {
		e.camera.Stop()
		return nil
	}
	if err := e.camera.Start(); err != nil {
		return fmt.Errorf("start camera: %w", err)
	}
	return nil
}

// Run drives the loop until ctx is cancelled. Each cycle picks the delay
// before the next one.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("recognition loop started",
		"cadence", e.opts.Cadence,
		"idle_cadence", e.opts.IdleCadence,
		"tolerance", e.opts.Tolerance,
	)
	current := e.opts.Cadence
	ticker := time.NewTicker(current)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("recognition loop stopped")
			return nil
		case <-ticker.C:
		}

		next := e.safeStep(ctx)
		if next != current {
			ticker.Reset(next)
			current = next
		}
	}
}

func (e *Engine) safeStep(ctx context.Context) (next time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			observability.CycleErrors.WithLabelValues("panic").Inc()
			slog.Error("recognition cycle panic", "panic", r)
			next = e.opts.Cadence
		}
	}()
	return e.Step(ctx)
}

// Step runs one recognition cycle and returns the delay before the next.
func (e *Engine) Step(ctx context.Context) time.Duration {
	now := e.now()
	e.mu.Lock()
	e.lastCycle = now
	e.clearStaleLocked(now)
	active, captureMode, needReload := e.active, e.captureMode, e.needReload
	e.mu.Unlock()

	if needReload {
		if err := e.ReloadGallery(ctx); err != nil {
			return e.degraded(err)
		}
	}

	if !active {
		e.enroll.Expire(now)
		e.setMode(ModePaused)
		return e.opts.IdleCadence
	}

	if captureMode == models.CaptureScheduled {
		sched, err := e.policy.OpenSchedule(ctx, now)
		if err != nil {
			return e.degraded(err)
		}
		e.setWindow(sched)
		if sched == nil {
			e.enroll.Expire(now)
			e.setMode(ModeOutsideWindow)
			return e.opts.IdleCadence
		}
	}

	frame, err := e.frames.LatestFrame()
	if err != nil {
		e.enroll.Expire(now)
		if errors.Is(err, ingest.ErrFrameSourceUnavailable) {
			e.setMode(ModeCameraUnavailable)
			return e.opts.IdleCadence
		}
		observability.CycleErrors.WithLabelValues("frame").Inc()
		slog.Warn("read frame", "error", err)
		return e.opts.Cadence
	}
	if frame == nil {
		e.enroll.Expire(now)
		e.setMode(e.idleMode())
		return e.opts.Cadence
	}
	if age := now.Sub(frame.CapturedAt); age > e.opts.MaxFrameAge {
		observability.FramesDropped.WithLabelValues("stale").Inc()
		slog.Debug("skip stale frame", "seq", frame.Seq, "age", age)
		return e.opts.Cadence
	}

	observability.FramesProcessed.Inc()
	face, err := e.extractor.Extract(frame.Image)
	if err != nil {
		e.enroll.Expire(now)
		if !errors.Is(err, vision.ErrNoFaceFound) {
			observability.CycleErrors.WithLabelValues("extract").Inc()
			slog.Warn("extract face", "error", err, "seq", frame.Seq)
		}
		e.setMode(e.idleMode())
		return e.opts.Cadence
	}
	e.enroll.Seen(now)

	snap := e.gallery.Snapshot()
	res := match.Match(face.Signature, snap, e.opts.Tolerance)
	if !res.Matched {
		observability.MatchResults.WithLabelValues("no_match").Inc()
		e.observeUnknown(ctx, face, now)
		return e.opts.Cadence
	}
	observability.MatchResults.WithLabelValues("matched").Inc()

	decision, err := e.policy.Record(ctx, res.IdentityID, now)
	if err != nil {
		return e.degraded(err)
	}

	rec := &Recognition{
		IdentityID: res.IdentityID,
		Distance:   res.Distance,
		Confidence: res.Confidence(),
		Decision:   decision.Kind,
		At:         now,
	}
	if ident, ok := snap.Identity(res.IdentityID); ok {
		rec.DisplayName = ident.DisplayName
		rec.Role = ident.Role
	}
	if decision.Schedule != nil {
		rec.ScheduleID = decision.Schedule.ID
		rec.ScheduleName = decision.Schedule.Name
	}

	e.mu.Lock()
	repeat := e.last != nil && e.last.IdentityID == rec.IdentityID && e.last.Decision == rec.Decision
	e.last = rec
	e.lastErr = nil
	if decision.Schedule != nil {
		e.window = decision.Schedule
	}
	e.mu.Unlock()
	e.setMode(e.idleMode())

	if !repeat {
		slog.Info("face recognized",
			"identity_id", rec.IdentityID,
			"distance", rec.Distance,
			"decision", string(rec.Decision),
		)
		e.publish(ctx, dto.KioskEvent{
			Type:        dto.EventRecognition,
			Recognition: recognitionEvent(rec, decision),
		})
	}
	return e.opts.Cadence
}

func recognitionEvent(rec *Recognition, d attendance.Decision) *dto.RecognitionEvent {
	return &dto.RecognitionEvent{
		IdentityID:   rec.IdentityID,
		DisplayName:  rec.DisplayName,
		Role:         string(rec.Role),
		Distance:     rec.Distance,
		Confidence:   rec.Confidence,
		Decision:     string(rec.Decision),
		ScheduleID:   rec.ScheduleID,
		ScheduleName: rec.ScheduleName,
		Date:         d.Date.String(),
		TimeOfDay:    d.TimeOfDay.String(),
		Inserted:     d.Accepted(),
	}
}

func (e *Engine) observeUnknown(ctx context.Context, face vision.Face, now time.Time) {
	before := e.enroll.Pending()
	e.enroll.Observe(face, now)
	after := e.enroll.Pending()
	e.setMode(ModeEnrolling)
	if after != nil && (before == nil || before.ID != after.ID) {
		e.publish(ctx, dto.KioskEvent{
			Type: dto.EventEnrollment,
			Enrollment: &dto.EnrollmentEvent{
				CandidateID: after.ID.String(),
				State:       after.State.String(),
			},
		})
	}
}

// degraded records a failed cycle. Persistence outages are retried on the
// next cycle with no writes in between.
func (e *Engine) degraded(err error) time.Duration {
	kind := "policy"
	if errors.Is(err, models.ErrPersistenceUnavailable) {
		kind = "persistence"
	}
	observability.CycleErrors.WithLabelValues(kind).Inc()
	slog.Error("recognition cycle failed", "error", err, "kind", kind)

	e.mu.Lock()
	e.lastErr = err
	e.mu.Unlock()
	e.setMode(ModeDegraded)
	return e.opts.IdleCadence
}

// idleMode is the mode after a cycle that did not fail.
func (e *Engine) idleMode() Mode {
	if e.enroll.Pending() != nil {
		return ModeEnrolling
	}
	return ModeRecognizing
}

func (e *Engine) setMode(m Mode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mode != m {
		slog.Info("kiosk mode changed", "from", string(e.mode), "to", string(m))
		e.mode = m
	}
	if m != ModeDegraded {
		e.lastErr = nil
	}
}

func (e *Engine) setWindow(s *models.Schedule) {
	e.mu.Lock()
	e.window = s
	e.mu.Unlock()
}

// clearStaleLocked drops the displayed recognition after the display timeout.
func (e *Engine) clearStaleLocked(now time.Time) {
	if e.last != nil && now.Sub(e.last.At) > e.opts.DisplayTimeout {
		e.last = nil
	}
}

func (e *Engine) publish(ctx context.Context, ev dto.KioskEvent) {
	ev.ID = uuid.NewString()
	ev.KioskID = e.opts.KioskID
	ev.At = e.now()
	pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := e.publisher.Publish(pubCtx, ev); err != nil {
		slog.Warn("publish kiosk event", "error", err, "type", string(ev.Type))
	}
}
