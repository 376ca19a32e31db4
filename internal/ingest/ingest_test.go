package ingest

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil))
	return buf.Bytes()
}

func TestFrameBufferKeepsLatest(t *testing.T) {
	var b FrameBuffer
	assert.Nil(t, b.Take())

	now := time.Now()
	b.Put(image.NewRGBA(image.Rect(0, 0, 1, 1)), now)
	b.Put(image.NewRGBA(image.Rect(0, 0, 2, 2)), now.Add(time.Millisecond))

	f := b.Take()
	require.NotNil(t, f)
	assert.Equal(t, 2, f.Image.Bounds().Dx())
	assert.Equal(t, uint64(2), f.Seq)
	assert.Equal(t, uint64(1), b.Dropped())

	assert.Nil(t, b.Take(), "a frame is handed out once")
	assert.NotNil(t, b.Peek())

	b.Put(image.NewRGBA(image.Rect(0, 0, 3, 3)), now)
	assert.Equal(t, uint64(1), b.Dropped(), "taken frames are not counted as dropped")
}

func TestFFmpegArgs(t *testing.T) {
	args := ffmpegArgs(Source{URL: "/dev/video0"}, 5, 640)
	assert.Contains(t, args, "v4l2")
	assert.Equal(t, "fps=5,scale=640:-1", args[indexOf(args, "-vf")+1])

	args = ffmpegArgs(Source{URL: "rtsp://cam.local/stream"}, 5, 640)
	assert.Contains(t, args, "-rtsp_transport")
	assert.NotContains(t, args, "v4l2")

	args = ffmpegArgs(Source{URL: "0", InputFormat: "avfoundation"}, 10, 320)
	assert.Equal(t, "avfoundation", args[indexOf(args, "-f")+1])
}

func indexOf(args []string, s string) int {
	for i, a := range args {
		if a == s {
			return i
		}
	}
	return -1
}

func TestReadJPEGFrames(t *testing.T) {
	one := jpegBytes(t, 8, 8)
	two := jpegBytes(t, 16, 16)
	stream := append(append([]byte("noise"), one...), two...)

	var got [][]byte
	err := readJPEGFrames(context.Background(), bytes.NewReader(stream), func(data []byte) error {
		got = append(got, data)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	img, err := jpeg.Decode(bytes.NewReader(got[1]))
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())
}

func TestReadJPEGFramesDropsTruncatedTail(t *testing.T) {
	one := jpegBytes(t, 8, 8)
	stream := append(append([]byte{}, one...), one[:len(one)/2]...)

	count := 0
	err := readJPEGFrames(context.Background(), bytes.NewReader(stream), func([]byte) error {
		count++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestReadJPEGFramesWithoutFrames(t *testing.T) {
	err := readJPEGFrames(context.Background(), strings.NewReader("ffmpeg said nothing useful"), func([]byte) error {
		t.Fatal("unexpected frame")
		return nil
	})
	assert.ErrorIs(t, err, errNoFrames)
}

func newTestCamera(extract extractFunc) *Camera {
	return &Camera{
		src:        Source{URL: "test"},
		fps:        5,
		width:      64,
		retryDelay: time.Millisecond,
		extract:    extract,
		state:      CameraStopped,
	}
}

func TestCameraDeliversFrames(t *testing.T) {
	frame := jpegBytes(t, 32, 24)
	cam := newTestCamera(func(ctx context.Context, _ Source, _, _ int, cb FrameCallback) error {
		_ = cb([]byte("garbage"))
		_ = cb(frame)
		<-ctx.Done()
		return ctx.Err()
	})

	_, err := cam.LatestFrame()
	assert.ErrorIs(t, err, ErrFrameSourceUnavailable)

	require.NoError(t, cam.Start())
	require.NoError(t, cam.Start(), "start is idempotent")

	require.Eventually(t, cam.Running, time.Second, 5*time.Millisecond)
	f, err := cam.LatestFrame()
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, 32, f.Image.Bounds().Dx())

	f, err = cam.LatestFrame()
	require.NoError(t, err)
	assert.Nil(t, f, "no new frame is a gap")

	cam.Stop()
	assert.Equal(t, CameraStopped, cam.Status().State)
	_, err = cam.LatestFrame()
	assert.ErrorIs(t, err, ErrFrameSourceUnavailable)
}

func TestCameraFailsAfterRetries(t *testing.T) {
	var attempts atomic.Int32
	cam := newTestCamera(func(context.Context, Source, int, int, FrameCallback) error {
		attempts.Add(1)
		return errors.New("no such device")
	})

	require.NoError(t, cam.Start())
	require.Eventually(t, func() bool { return cam.Status().State == CameraFailed }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(maxCaptureRetries+1), attempts.Load())

	_, err := cam.LatestFrame()
	assert.ErrorIs(t, err, ErrFrameSourceUnavailable)
	assert.Contains(t, cam.Status().LastError, "no such device")

	cam.Stop()
}

func TestCameraStopIsSafeWhenIdle(t *testing.T) {
	cam := newTestCamera(nil)
	cam.Stop()
	assert.Equal(t, CameraStopped, cam.Status().State)
}
