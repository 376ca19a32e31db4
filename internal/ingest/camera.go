package ingest

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"log/slog"
	"sync"
	"time"

	"github.com/your-org/attend/internal/config"
	"github.com/your-org/attend/internal/observability"
)

type CameraState string

const (
	CameraStopped  CameraState = "stopped"
	CameraStarting CameraState = "starting"
	CameraRunning  CameraState = "running"
	CameraFailed   CameraState = "failed"
)

// CameraStatus is a point-in-time view of the capture process.
type CameraStatus struct {
	State       CameraState `json:"state"`
	Source      string      `json:"source"`
	LastError   string      `json:"last_error,omitempty"`
	LastFrameAt *time.Time  `json:"last_frame_at,omitempty"`
	Dropped     uint64      `json:"dropped_frames"`
}

// extractFunc runs one capture attempt and blocks until it ends.
type extractFunc func(ctx context.Context, src Source, fps, width int, cb FrameCallback) error

const maxCaptureRetries = 3

// Camera captures frames with ffmpeg in the background and keeps only the latest one.
type Camera struct {
	src        Source
	fps        int
	width      int
	retryDelay time.Duration
	extract    extractFunc

	buf FrameBuffer

	mu      sync.Mutex
	state   CameraState
	lastErr error
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewCamera(cfg config.CameraConfig) *Camera {
	return &Camera{
		src:        Source{URL: cfg.Device, InputFormat: cfg.InputFormat},
		fps:        cfg.FPS,
		width:      cfg.Width,
		retryDelay: cfg.RetryDelay,
		extract:    runFFmpeg,
		state:      CameraStopped,
	}
}

// Start launches the capture loop. Starting a running camera is a no-op.
func (c *Camera) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == CameraStarting || c.state == CameraRunning {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.state = CameraStarting
	c.lastErr = nil
	c.buf.Reset()

	slog.Info("starting camera", "source", c.src.URL, "fps", c.fps, "width", c.width)
	go c.run(ctx, c.done)
	return nil
}

// Stop terminates capture and waits for the loop to exit.
func (c *Camera) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	slog.Info("camera stopped", "source", c.src.URL)
}

func (c *Camera) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == CameraRunning
}

// LatestFrame returns the newest frame not yet handed out, or nil when no
// new frame has arrived. It fails with ErrFrameSourceUnavailable while the
// camera is stopped or failed.
func (c *Camera) LatestFrame() (*Frame, error) {
	c.mu.Lock()
	state, lastErr := c.state, c.lastErr
	c.mu.Unlock()

	switch state {
	case CameraStopped:
		return nil, ErrFrameSourceUnavailable
	case CameraFailed:
		return nil, fmt.Errorf("%w: %v", ErrFrameSourceUnavailable, lastErr)
	}
	return c.buf.Take(), nil
}

func (c *Camera) Status() CameraStatus {
	c.mu.Lock()
	st := CameraStatus{State: c.state, Source: c.src.URL, Dropped: c.buf.Dropped()}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	c.mu.Unlock()

	if f := c.buf.Peek(); f != nil {
		at := f.CapturedAt
		st.LastFrameAt = &at
	}
	return st
}

func (c *Camera) setState(state CameraState, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
	if err != nil {
		c.lastErr = err
	}
	if state == CameraRunning {
		observability.CameraRunning.Set(1)
	} else {
		observability.CameraRunning.Set(0)
	}
}

func (c *Camera) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	attempt := 0
	for {
		produced := false
		err := c.extract(ctx, c.src, c.fps, c.width, func(data []byte) error {
			img, err := jpeg.Decode(bytes.NewReader(data))
			if err != nil {
				observability.FramesDropped.WithLabelValues("decode").Inc()
				return fmt.Errorf("decode frame: %w", err)
			}
			if !produced {
				produced = true
				c.setState(CameraRunning, nil)
			}
			c.buf.Put(img, time.Now())
			return nil
		})

		if ctx.Err() != nil {
			c.setState(CameraStopped, nil)
			return
		}
		if err == nil {
			err = fmt.Errorf("capture ended")
		}
		if produced {
			attempt = 0
		}
		attempt++
		if attempt > maxCaptureRetries {
			slog.Error("camera failed after retries", "source", c.src.URL, "error", err)
			c.setState(CameraFailed, err)
			return
		}

		delay := c.retryDelay << uint(attempt-1)
		slog.Warn("retrying camera capture",
			"source", c.src.URL,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		c.setState(CameraStarting, err)

		select {
		case <-ctx.Done():
			c.setState(CameraStopped, nil)
			return
		case <-time.After(delay):
		}
	}
}
