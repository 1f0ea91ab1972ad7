// Package record implements the recording pipeline: a per-session worker
// that owns the video encoder and snapshot writer, fed by the camera loop
// through a message channel so disk and encoder latency never stall frame
// capture.
package record

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/visiona/vigia/internal/notify"
	"github.com/visiona/vigia/internal/types"
	"github.com/visiona/vigia/internal/video"
)

// channelCapacity sizes the session channel. It comfortably holds a full
// pre-event ring drain plus several seconds of live frames; a producer only
// blocks once the worker has fallen that far behind, trading latency for
// never losing session frames.
const channelCapacity = 256

type kind int

const (
	msgFrame kind = iota
	msgBest
	msgEnd
)

type message struct {
	kind  kind
	frame types.Frame
	area  int
}

// Config describes one recording session.
type Config struct {
	Camera   string
	VideoDir string
	PhotoDir string
	// StartedAt is the activation time; it names the video and first
	// photo.
	StartedAt time.Time
	Width     int
	Height    int
	FPS       float64
	// Open creates the video encoder. Nil means video.OpenFFmpeg.
	Open video.OpenFunc
	// Notifier receives the end-of-session notification. Nil disables it.
	Notifier notify.Notifier
	// OnFinished, when set, receives the session summary after the video
	// is finalized and the notifier fired.
	OnFinished func(types.PersonEvent)
}

// Session is one camera's active recording. It is owned by a single camera
// loop: that loop is the only sender, and exactly one session exists per
// camera at a time.
type Session struct {
	id        string
	camera    string
	photoDir  string
	videoPath string
	firstPath string
	startedAt time.Time

	writer     video.Writer
	notifier   notify.Notifier
	onFinished func(types.PersonEvent)

	ch    chan message
	done  chan struct{}
	ended atomic.Bool
}

// Open creates the session's video encoder and starts its worker. An
// encoder that cannot be opened is an error the caller must treat as fatal.
func Open(cfg Config) (*Session, error) {
	open := cfg.Open
	if open == nil {
		open = video.OpenFFmpeg
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}

	base := types.ArtifactBase(cfg.Camera, cfg.StartedAt)
	s := &Session{
		id:         uuid.NewString(),
		camera:     cfg.Camera,
		photoDir:   cfg.PhotoDir,
		videoPath:  filepath.Join(cfg.VideoDir, base+".mp4"),
		firstPath:  filepath.Join(cfg.PhotoDir, base+"-first.jpg"),
		startedAt:  cfg.StartedAt,
		notifier:   notifier,
		onFinished: cfg.OnFinished,
		ch:         make(chan message, channelCapacity),
		done:       make(chan struct{}),
	}

	w, err := open(s.videoPath, cfg.Width, cfg.Height, cfg.FPS)
	if err != nil {
		return nil, fmt.Errorf("failed to open video encoder for %s: %w", s.videoPath, err)
	}
	s.writer = w

	go s.worker()

	slog.Info("recording session opened",
		"camera", s.camera,
		"session_id", s.id,
		"video", s.videoPath,
	)
	return s, nil
}

// ID returns the session's trace id.
func (s *Session) ID() string { return s.id }

// VideoPath returns the session's video file path.
func (s *Session) VideoPath() string { return s.videoPath }

// FirstPhotoPath returns where the activation photo belongs. The camera
// loop writes that photo synchronously at activation; the session only
// falls back to its path when no best frame ever arrives.
func (s *Session) FirstPhotoPath() string { return s.firstPath }

// Done is closed once the worker has finalized the session.
func (s *Session) Done() <-chan struct{} { return s.done }

// SendFrame queues one frame for encoding. It reports false, without
// queueing, on an ended session.
func (s *Session) SendFrame(frame types.Frame) bool {
	if s.ended.Load() {
		slog.Error("frame sent to ended session", "camera", s.camera, "session_id", s.id)
		return false
	}
	s.ch <- message{kind: msgFrame, frame: frame}
	return true
}

// SendBest queues a new best-frame candidate with its box area. Later
// candidates supersede earlier ones.
func (s *Session) SendBest(frame types.Frame, area int) bool {
	if s.ended.Load() {
		slog.Error("best frame sent to ended session", "camera", s.camera, "session_id", s.id)
		return false
	}
	s.ch <- message{kind: msgBest, frame: frame, area: area}
	return true
}

// End signals the worker to finalize. Idempotent; the first call wins.
// Callers wanting the artifacts on disk wait on Done.
func (s *Session) End() {
	if s.ended.Swap(true) {
		return
	}
	s.ch <- message{kind: msgEnd}
}

// worker drains the channel until End, encoding frames and holding the
// latest best candidate, then finalizes.
func (s *Session) worker() {
	defer close(s.done)

	var best *types.Frame
	var bestArea int
	var frames uint64

	for msg := range s.ch {
		switch msg.kind {
		case msgFrame:
			if err := s.writer.Write(msg.frame); err != nil {
				slog.Error("failed to encode frame",
					"camera", s.camera,
					"session_id", s.id,
					"seq", msg.frame.Seq,
					"error", err,
				)
				continue
			}
			frames++
		case msgBest:
			f := msg.frame
			best = &f
			bestArea = msg.area
		case msgEnd:
			s.finalize(best, bestArea, frames)
			return
		}
	}
}

// finalize flushes the encoder, writes the best photo when one arrived, and
// fires the end notifier with the best photo or, failing that, the first.
func (s *Session) finalize(best *types.Frame, bestArea int, frames uint64) {
	if err := s.writer.Close(); err != nil {
		slog.Error("failed to finalize video",
			"camera", s.camera,
			"session_id", s.id,
			"video", s.videoPath,
			"error", err,
		)
	}

	photo := s.firstPath
	bestPath := ""
	if best != nil {
		bestPath = filepath.Join(s.photoDir, types.ArtifactBase(s.camera, best.Timestamp)+"-best.jpg")
		if err := video.SaveJPEG(bestPath, *best); err != nil {
			slog.Error("failed to write best photo",
				"camera", s.camera,
				"session_id", s.id,
				"path", bestPath,
				"error", err,
			)
			bestPath = ""
		} else {
			photo = bestPath
		}
	}

	s.notifier.PersonEventEnded(s.camera, photo, s.videoPath)

	slog.Info("recording session closed",
		"camera", s.camera,
		"session_id", s.id,
		"video", s.videoPath,
		"frames", frames,
		"best_area", bestArea,
	)

	if s.onFinished != nil {
		s.onFinished(types.PersonEvent{
			ID:             s.id,
			Camera:         s.camera,
			StartedAt:      s.startedAt,
			EndedAt:        time.Now(),
			VideoPath:      s.videoPath,
			FirstPhotoPath: s.firstPath,
			BestPhotoPath:  bestPath,
			PeakArea:       bestArea,
			FramesWritten:  frames,
		})
	}
}
