package ingest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// FrameCallback is called for each extracted JPEG frame. The slice is owned
// by the callee.
type FrameCallback func(frameData []byte) error

// Source describes where ffmpeg reads video from. URL is a device path
// (/dev/video0), a network stream (rtsp://, http://) or a file.
// InputFormat forces the demuxer, e.g. v4l2, avfoundation or dshow.
type Source struct {
	URL         string
	InputFormat string
}

const maxFrameBytes = 10 << 20

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}

	errNoFrames = errors.New("ffmpeg produced no frames")
)

// runFFmpeg decodes src at fps frames per second, scaled to width, and
// passes each frame to cb as JPEG. It blocks until ctx is cancelled or
// ffmpeg exits.
func runFFmpeg(ctx context.Context, src Source, fps, width int, cb FrameCallback) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", ffmpegArgs(src, fps, width)...)
	cmd.WaitDelay = 2 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	stderr := &lastLine{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	readErr := readJPEGFrames(ctx, stdout, cb)
	if readErr != nil {
		// Unblock ffmpeg if we stopped reading early.
		_, _ = io.Copy(io.Discard, stdout)
	}
	waitErr := cmd.Wait()

	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case readErr != nil:
		return stderr.wrap(fmt.Errorf("read frames: %w", readErr))
	case waitErr != nil:
		return stderr.wrap(fmt.Errorf("ffmpeg: %w", waitErr))
	}
	return nil
}

func ffmpegArgs(src Source, fps, width int) []string {
	args := []string{"-hide_banner", "-loglevel", "warning"}

	switch {
	case strings.HasPrefix(src.URL, "rtsp://"), strings.HasPrefix(src.URL, "rtsps://"):
		args = append(args,
			"-rtsp_transport", "tcp",
			"-timeout", "5000000", // 5s socket timeout (microseconds)
		)
	case strings.HasPrefix(src.URL, "http://"), strings.HasPrefix(src.URL, "https://"):
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
		)
	}

	format := src.InputFormat
	if format == "" && strings.HasPrefix(src.URL, "/dev/video") {
		format = "v4l2"
	}
	if format != "" {
		args = append(args, "-f", format)
	}

	return append(args,
		"-i", src.URL,
		"-vf", fmt.Sprintf("fps=%d,scale=%d:-1", fps, width),
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"pipe:1",
	)
}

// readJPEGFrames splits a stream of concatenated JPEG images. Bytes outside
// SOI..EOI are skipped and a truncated final frame is dropped. A stream that
// ends without a single frame is an error.
func readJPEGFrames(ctx context.Context, r io.Reader, cb FrameCallback) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 512<<10), maxFrameBytes)
	sc.Split(splitJPEG)

	frames := 0
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		frames++
		if err := cb(bytes.Clone(sc.Bytes())); err != nil {
			slog.Warn("frame callback error", "error", err)
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	if frames == 0 {
		return errNoFrames
	}
	return nil
}

// splitJPEG is a bufio.SplitFunc yielding one SOI..EOI frame per token.
func splitJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, jpegSOI)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// Keep a trailing 0xFF that may begin the next marker.
		return max(len(data)-1, 0), nil, nil
	}
	end := bytes.Index(data[start+len(jpegSOI):], jpegEOI)
	if end < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		return start, nil, nil
	}
	stop := start + len(jpegSOI) + end + len(jpegEOI)
	return stop, data[start:stop], nil
}

// lastLine is an io.Writer that logs ffmpeg's stderr and remembers its
// last line for error reports.
type lastLine struct {
	mu   sync.Mutex
	line string
}

func (l *lastLine) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			slog.Warn("ffmpeg stderr", "output", line)
			l.mu.Lock()
			l.line = line
			l.mu.Unlock()
		}
	}
	return len(p), nil
}

func (l *lastLine) wrap(err error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.line == "" {
		return err
	}
	return fmt.Errorf("%w (%s)", err, l.line)
}
