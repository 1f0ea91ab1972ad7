// Package timelapse writes one frame per second into hourly-rotated video
// files stamped for accelerated playback.
package timelapse

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/visiona/vigia/internal/notify"
	"github.com/visiona/vigia/internal/types"
	"github.com/visiona/vigia/internal/video"
)

// TargetFPS is the playback rate stamped on timelapse files. It is fixed
// regardless of the source frame rate; with one appended frame per second a
// played-back hour lasts 40 minutes.
const TargetFPS = 1.5

// Config describes one camera's timelapse output.
type Config struct {
	Camera string
	Dir    string
	Width  int
	Height int
	// Open creates video files. Nil means video.OpenFFmpeg.
	Open video.OpenFunc
	// Notifier receives rotation notifications. Nil disables them.
	Notifier notify.Notifier
	// OnRotated, when set, receives a record of each completed file.
	OnRotated func(types.TimelapseRotation)
}

// Rotator owns one camera's current timelapse file. The camera loop calls
// Tick roughly once per second with the newest frame; Rotator appends it and
// rotates the file when the local clock enters minute zero of an hour.
type Rotator struct {
	cfg Config

	writer      video.Writer
	path        string
	justRotated bool
	frames      uint64
}

// New returns a rotator that opens its first file on the first Tick.
func New(cfg Config) *Rotator {
	if cfg.Open == nil {
		cfg.Open = video.OpenFFmpeg
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Nop{}
	}
	return &Rotator{cfg: cfg}
}

// Tick appends frame to the current file, then rotates if now sits in
// minute zero of the hour and this boundary has not rotated yet. now is the
// frame's capture time. An error means a file could not be created.
func (r *Rotator) Tick(frame types.Frame, now time.Time) error {
	if r.writer == nil {
		if err := r.open(now); err != nil {
			return err
		}
	}

	if err := r.writer.Write(frame); err != nil {
		// Drop the broken file; the next tick starts a fresh one.
		slog.Error("failed to append timelapse frame",
			"camera", r.cfg.Camera,
			"path", r.path,
			"error", err,
		)
		r.closeCurrent()
		return nil
	}
	r.frames++

	if now.Minute() == 0 && !r.justRotated {
		r.rotate(now)
		r.justRotated = true
	} else if now.Minute() != 0 {
		r.justRotated = false
	}
	return nil
}

// rotate closes the current file, notifies, and opens the next one.
func (r *Rotator) rotate(now time.Time) {
	previous := r.path
	frames := r.frames
	r.closeCurrent()

	slog.Info("timelapse rotated",
		"camera", r.cfg.Camera,
		"path", previous,
		"frames", frames,
	)
	r.cfg.Notifier.TimelapseRotated(r.cfg.Camera, previous)
	if r.cfg.OnRotated != nil {
		r.cfg.OnRotated(types.TimelapseRotation{
			Camera:    r.cfg.Camera,
			Path:      previous,
			RotatedAt: now,
		})
	}

	if err := r.open(now); err != nil {
		// The next tick retries; rotation itself already happened.
		slog.Error("failed to open next timelapse file",
			"camera", r.cfg.Camera,
			"error", err,
		)
	}
}

// open starts a new file named by the current timestamp.
func (r *Rotator) open(now time.Time) error {
	path := filepath.Join(r.cfg.Dir, types.ArtifactBase(r.cfg.Camera, now)+".mp4")
	w, err := r.cfg.Open(path, r.cfg.Width, r.cfg.Height, TargetFPS)
	if err != nil {
		return fmt.Errorf("failed to open timelapse file %s: %w", path, err)
	}
	r.writer = w
	r.path = path
	r.frames = 0
	slog.Debug("timelapse file opened", "camera", r.cfg.Camera, "path", path)
	return nil
}

// closeCurrent finalizes the open file, if any.
func (r *Rotator) closeCurrent() {
	if r.writer == nil {
		return
	}
	if err := r.writer.Close(); err != nil {
		slog.Error("failed to finalize timelapse file",
			"camera", r.cfg.Camera,
			"path", r.path,
			"error", err,
		)
	}
	r.writer = nil
	r.path = ""
}

// Close flushes the current file at shutdown. The partial file is kept; no
// rotation notification fires for it.
func (r *Rotator) Close() {
	r.closeCurrent()
}
