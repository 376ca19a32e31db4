package ingest

import (
	"errors"
	"image"
	"sync"
	"time"

	"github.com/your-org/attend/internal/observability"
)

// ErrFrameSourceUnavailable means the camera is stopped or has failed.
var ErrFrameSourceUnavailable = errors.New("frame source unavailable")

// Frame is one decoded camera image.
type Frame struct {
	Image      image.Image
	CapturedAt time.Time
	Seq        uint64
}

// FrameBuffer holds only the newest frame. A frame that is overwritten
// before anyone takes it is dropped.
type FrameBuffer struct {
	mu      sync.Mutex
	latest  *Frame
	taken   bool
	seq     uint64
	dropped uint64
}

// Put stores img as the newest frame.
func (b *FrameBuffer) Put(img image.Image, capturedAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.latest != nil && !b.taken {
		b.dropped++
		observability.FramesDropped.WithLabelValues("overwritten").Inc()
	}
	b.seq++
	b.latest = &Frame{Image: img, CapturedAt: capturedAt, Seq: b.seq}
	b.taken = false
}

// Take returns the newest frame if it has not been taken yet, otherwise nil.
func (b *FrameBuffer) Take() *Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.latest == nil || b.taken {
		return nil
	}
	b.taken = true
	return b.latest
}

// Peek returns the newest frame without consuming it.
func (b *FrameBuffer) Peek() *Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest
}

// Dropped is the number of frames overwritten before being taken.
func (b *FrameBuffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

func (b *FrameBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latest = nil
	b.taken = false
}
