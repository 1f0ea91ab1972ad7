// Package camera runs one camera's full pipeline: frames from a capture
// provider flow through detection, the boundary filter, and the trigger
// machine, feeding the pre-event ring while idle and a live recording
// session while active, with an independent timelapse cadence on the side.
package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/visiona/vigia/internal/boundary"
	"github.com/visiona/vigia/internal/detect"
	"github.com/visiona/vigia/internal/notify"
	"github.com/visiona/vigia/internal/prebuffer"
	"github.com/visiona/vigia/internal/record"
	"github.com/visiona/vigia/internal/stream"
	"github.com/visiona/vigia/internal/timelapse"
	"github.com/visiona/vigia/internal/trigger"
	"github.com/visiona/vigia/internal/types"
	"github.com/visiona/vigia/internal/video"
)

// ErrFatal marks errors that must end the process instead of the camera's
// restart cycle. Failing to open a recording encoder is the one such case;
// the supervisor checks for it with errors.Is before scheduling a restart.
var ErrFatal = errors.New("fatal camera error")

// tickInterval is the cadence of the timelapse append, measured in stream
// time.
const tickInterval = time.Second

// statsEvery is the cadence of the periodic per-camera stats line, measured
// in stream time.
const statsEvery = 60 * time.Second

// Events receives pipeline milestones for fan-out beyond the shell-script
// notifier: broker, store, archive, metrics.
type Events interface {
	SessionStarted(types.PersonEvent)
	SessionFinished(types.PersonEvent)
	TimelapseRotated(types.TimelapseRotation)
}

type nopEvents struct{}

func (nopEvents) SessionStarted(types.PersonEvent) {}

func (nopEvents) SessionFinished(types.PersonEvent) {}

func (nopEvents) TimelapseRotated(types.TimelapseRotation) {}

// Config wires one camera's pipeline together. Provider is called once per
// connection attempt; everything else is shared across attempts.
type Config struct {
	Name     string
	Boundary boundary.Polygon
	Trigger  trigger.Config
	Monitor  bool

	VideoDir string
	PhotoDir string
	// TimelapseDir enables the timelapse when non-empty.
	TimelapseDir string

	Provider func() (stream.Provider, error)
	Adapter  *detect.Adapter
	Notifier notify.Notifier
	Events   Events
	// OpenVideo creates encoders for sessions and timelapse files. Nil
	// means video.OpenFFmpeg.
	OpenVideo video.OpenFunc

	// RingCapacity overrides the pre-event ring size. Zero means
	// prebuffer.DefaultCapacity.
	RingCapacity int
	// MeasureWindow overrides the warm-up rate measurement span. Zero
	// means stream.DefaultMeasureWindow.
	MeasureWindow time.Duration
}

// Loop is one camera's supervised pipeline. Run executes a single
// connection attempt; the supervisor calls it again after a backoff when the
// stream fails.
type Loop struct {
	cfg Config

	mu       sync.Mutex
	provider stream.Provider

	preview atomic.Value // *previewShot
}

type previewShot struct {
	frame types.Frame
	det   *types.Detection
	at    time.Time
}

// New validates the wiring and returns a loop ready to run.
func New(cfg Config) (*Loop, error) {
	if cfg.Name == "" {
		return nil, errors.New("camera name is required")
	}
	if cfg.Provider == nil {
		return nil, errors.New("stream provider factory is required")
	}
	if cfg.Adapter == nil {
		return nil, errors.New("detection adapter is required")
	}
	if cfg.VideoDir == "" || cfg.PhotoDir == "" {
		return nil, errors.New("video and photo directories are required")
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Nop{}
	}
	if cfg.Events == nil {
		cfg.Events = nopEvents{}
	}
	if cfg.RingCapacity <= 0 {
		cfg.RingCapacity = prebuffer.DefaultCapacity
	}

	return &Loop{cfg: cfg}, nil
}

// Name returns the camera name.
func (l *Loop) Name() string { return l.cfg.Name }

// Stats returns the current connection's stream counters.
func (l *Loop) Stats() types.StreamStats {
	l.mu.Lock()
	p := l.provider
	l.mu.Unlock()

	if p == nil {
		return types.StreamStats{}
	}
	return p.Stats()
}

// Snapshot returns the most recent frame and detection seen by a monitored
// camera. The third result is false when monitoring is off or no frame has
// arrived yet.
func (l *Loop) Snapshot() (types.Frame, *types.Detection, bool) {
	v := l.preview.Load()
	if v == nil {
		return types.Frame{}, nil, false
	}
	shot := v.(*previewShot)
	return shot.frame, shot.det, true
}

// Run executes one connection attempt: connect, measure rate and geometry,
// then process frames until the stream ends or the context is cancelled. An
// open session is flushed before returning so captured frames survive a
// restart. Errors wrapping ErrFatal must stop the supervisor.
func (l *Loop) Run(ctx context.Context) error {
	provider, err := l.cfg.Provider()
	if err != nil {
		return fmt.Errorf("create stream provider: %w", err)
	}

	l.mu.Lock()
	l.provider = provider
	l.mu.Unlock()

	frames, err := provider.Start(ctx)
	if err != nil {
		return fmt.Errorf("start stream: %w", err)
	}
	defer provider.Stop()

	m, err := stream.MeasureRate(ctx, frames, l.cfg.MeasureWindow)
	if err != nil {
		return fmt.Errorf("measure stream: %w", err)
	}

	geom, err := l.cfg.Adapter.Prepare(m.Width, m.Height)
	if err != nil {
		return fmt.Errorf("prepare detector: %w", err)
	}

	fps := m.FPS
	if fps < 1 {
		slog.Warn("measured frame rate below 1fps, clamping",
			"camera", l.cfg.Name,
			"measured", m.FPS,
		)
		fps = 1
	}

	slog.Info("camera pipeline ready",
		"camera", l.cfg.Name,
		"resolution", fmt.Sprintf("%dx%d", m.Width, m.Height),
		"fps", fps,
	)

	p := &pipeline{
		loop: l,
		geom: geom,
		fps:  fps,
		ring: prebuffer.New(l.cfg.RingCapacity),
		trig: trigger.New(l.cfg.Trigger),
	}
	if l.cfg.TimelapseDir != "" {
		p.rotator = timelapse.New(timelapse.Config{
			Camera:    l.cfg.Name,
			Dir:       l.cfg.TimelapseDir,
			Width:     m.Width,
			Height:    m.Height,
			Open:      l.cfg.OpenVideo,
			Notifier:  l.cfg.Notifier,
			OnRotated: l.cfg.Events.TimelapseRotated,
		})
	}
	defer p.shutdown()

	for {
		select {
		case <-ctx.Done():
			slog.Info("camera loop stopping", "camera", l.cfg.Name)
			return ctx.Err()

		case f, ok := <-frames:
			if !ok {
				return errors.New("stream ended")
			}
			if err := p.processFrame(f); err != nil {
				return err
			}
		}
	}
}

// pipeline holds the state of one connection attempt.
type pipeline struct {
	loop *Loop

	geom detect.Geometry
	fps  float64

	ring    *prebuffer.Ring
	trig    *trigger.Machine
	rotator *timelapse.Rotator
	sess    *record.Session

	lastTick  time.Time
	lastStats time.Time
}

// processFrame runs the per-frame order of operations: timelapse cadence,
// detection, boundary verdict, trigger observation, then the resulting
// session and ring traffic. Returns only fatal errors.
func (p *pipeline) processFrame(f types.Frame) error {
	l := p.loop
	now := f.Timestamp

	if p.lastStats.IsZero() {
		p.lastStats = now
	} else if now.Sub(p.lastStats) >= statsEvery {
		p.lastStats = now
		st := l.Stats()
		slog.Info("camera stats",
			"camera", l.cfg.Name,
			"fps", st.FPSReal,
			"frames", st.FrameCount,
			"dropped", st.Dropped,
			"state", p.trig.State(),
		)
	}

	if p.rotator != nil && (p.lastTick.IsZero() || now.Sub(p.lastTick) >= tickInterval) {
		p.lastTick = now
		if err := p.rotator.Tick(f, now); err != nil {
			slog.Error("timelapse append failed",
				"camera", l.cfg.Name,
				"error", err,
			)
		}
	}

	var det *types.Detection
	if d, err := l.cfg.Adapter.Detect(f, p.geom); err != nil {
		slog.Error("detection failed",
			"camera", l.cfg.Name,
			"seq", f.Seq,
			"trace_id", f.TraceID,
			"error", err,
		)
	} else {
		det = d
	}

	inside := det != nil && l.cfg.Boundary.Inside(det.Center())

	if l.cfg.Monitor {
		l.preview.Store(&previewShot{frame: f, det: det, at: now})
	}

	acts := p.trig.Observe(det, inside, now)

	if acts.WindowClosed {
		slog.Debug("trigger window closed without activation",
			"camera", l.cfg.Name,
			"frames", acts.WindowFrames,
			"distance", acts.WindowDistance,
		)
	}

	if acts.Activate {
		if err := p.activate(f, now); err != nil {
			return err
		}
	}

	if acts.NewBest && p.sess != nil {
		p.sess.SendBest(f, p.trig.BestArea())
	}

	if acts.Deactivate {
		if p.sess == nil {
			slog.Error("deactivation with no open session", "camera", l.cfg.Name)
		} else {
			slog.Info("person event ending",
				"camera", l.cfg.Name,
				"session", p.sess.ID(),
			)
			p.sess.End()
			p.sess = nil
		}
	}

	if p.trig.Active() {
		if p.sess == nil {
			slog.Error("trigger active with no open session", "camera", l.cfg.Name)
		} else {
			p.sess.SendFrame(f)
		}
	} else {
		p.ring.Push(f)
	}

	return nil
}

// activate opens a session at the current frame's timestamp, seeds it with
// the drained pre-event ring, writes the first photo, and announces the
// event. An encoder that cannot open ends the process.
func (p *pipeline) activate(f types.Frame, now time.Time) error {
	l := p.loop

	sess, err := record.Open(record.Config{
		Camera:     l.cfg.Name,
		VideoDir:   l.cfg.VideoDir,
		PhotoDir:   l.cfg.PhotoDir,
		StartedAt:  now,
		Width:      f.Width,
		Height:     f.Height,
		FPS:        p.fps,
		Open:       l.cfg.OpenVideo,
		Notifier:   l.cfg.Notifier,
		OnFinished: l.cfg.Events.SessionFinished,
	})
	if err != nil {
		return fmt.Errorf("%w: open recording session: %w", ErrFatal, err)
	}
	p.sess = sess

	drained := p.ring.Drain()
	for _, pre := range drained {
		sess.SendFrame(pre)
	}

	if err := video.SaveJPEG(sess.FirstPhotoPath(), f); err != nil {
		slog.Error("first photo write failed",
			"camera", l.cfg.Name,
			"path", sess.FirstPhotoPath(),
			"error", err,
		)
	}
	l.cfg.Notifier.PersonEventStarted(l.cfg.Name, sess.FirstPhotoPath())

	l.cfg.Events.SessionStarted(types.PersonEvent{
		ID:             sess.ID(),
		Camera:         l.cfg.Name,
		StartedAt:      now,
		VideoPath:      sess.VideoPath(),
		FirstPhotoPath: sess.FirstPhotoPath(),
	})

	slog.Info("person event started",
		"camera", l.cfg.Name,
		"session", sess.ID(),
		"video", sess.VideoPath(),
		"preroll_frames", len(drained),
	)

	return nil
}

// shutdown flushes an open session and closes the timelapse file at the end
// of a connection attempt.
func (p *pipeline) shutdown() {
	if p.sess != nil {
		p.sess.End()
		<-p.sess.Done()
		p.sess = nil
	}
	if p.rotator != nil {
		p.rotator.Close()
	}
}
