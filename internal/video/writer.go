// Package video writes recording artifacts: H.264 video files through an
// ffmpeg subprocess fed raw BGR frames, and JPEG snapshots.
package video

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"time"

	"github.com/visiona/vigia/internal/types"
)

// Writer consumes raw BGR frames and produces one video file. Close flushes
// the encoder and finalizes the container; the file is not playable before
// Close returns.
type Writer interface {
	Write(frame types.Frame) error
	Close() error
}

// OpenFunc creates a Writer for one recording. Sessions take it as a
// dependency so tests can substitute an in-memory writer.
type OpenFunc func(path string, width, height int, fps float64) (Writer, error)

// closeTimeout bounds how long Close waits for the encoder to finalize.
const closeTimeout = 10 * time.Second

// FFmpegWriter pipes raw frames into an ffmpeg child process encoding
// H.264 into an mp4 file.
type FFmpegWriter struct {
	path   string
	width  int
	height int

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	errBuf bytes.Buffer

	frames uint64
}

// encoderArgs builds the ffmpeg argument list for one recording.
func encoderArgs(path string, width, height int, fps float64) []string {
	return []string{
		"-y",
		"-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", strconv.FormatFloat(fps, 'f', -1, 64),
		"-i", "-",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-pix_fmt", "yuv420p",
		path,
	}
}

// OpenFFmpeg starts an encoder writing to path. It satisfies OpenFunc.
func OpenFFmpeg(path string, width, height int, fps float64) (Writer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid video dimensions %dx%d", width, height)
	}
	if fps <= 0 {
		return nil, fmt.Errorf("invalid frame rate %v", fps)
	}

	w := &FFmpegWriter{path: path, width: width, height: height}
	w.cmd = exec.Command("ffmpeg", encoderArgs(path, width, height, fps)...)
	w.cmd.Stderr = &w.errBuf

	stdin, err := w.cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder stdin pipe: %w", err)
	}
	w.stdin = stdin

	if err := w.cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg encoder: %w", err)
	}

	slog.Debug("encoder started",
		"path", path,
		"size", fmt.Sprintf("%dx%d", width, height),
		"fps", fps,
		"pid", w.cmd.Process.Pid,
	)
	return w, nil
}

// Write sends one raw BGR frame to the encoder.
func (w *FFmpegWriter) Write(frame types.Frame) error {
	if frame.Width != w.width || frame.Height != w.height {
		return fmt.Errorf("frame %dx%d does not match encoder %dx%d",
			frame.Width, frame.Height, w.width, w.height)
	}
	need := w.width * w.height * 3
	if len(frame.Data) < need {
		return fmt.Errorf("frame data is %d bytes, encoder needs %d", len(frame.Data), need)
	}
	if _, err := w.stdin.Write(frame.Data[:need]); err != nil {
		return fmt.Errorf("failed to write frame to encoder: %s%w", w.errTail(), err)
	}
	w.frames++
	return nil
}

// Close signals end of stream and waits for ffmpeg to flush and finalize the
// file. A stuck encoder is killed after 10 seconds.
func (w *FFmpegWriter) Close() error {
	if err := w.stdin.Close(); err != nil {
		slog.Warn("failed to close encoder stdin", "path", w.path, "error", err)
	}

	done := make(chan error, 1)
	go func() { done <- w.cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("encoder exited with error: %s%w", w.errTail(), err)
		}
	case <-time.After(closeTimeout):
		if w.cmd.Process != nil {
			w.cmd.Process.Kill()
		}
		<-done
		return fmt.Errorf("encoder did not finalize %s within %s", w.path, closeTimeout)
	}

	slog.Debug("encoder finished", "path", w.path, "frames", w.frames)
	return nil
}

// errTail returns captured ffmpeg stderr for error messages, empty when
// ffmpeg reported nothing.
func (w *FFmpegWriter) errTail() string {
	s := bytes.TrimSpace(w.errBuf.Bytes())
	if len(s) == 0 {
		return ""
	}
	const max = 512
	if len(s) > max {
		s = s[len(s)-max:]
	}
	return fmt.Sprintf("ffmpeg: %s: ", s)
}
