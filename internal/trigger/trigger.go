// Package trigger implements the per-camera recording trigger: evidence
// accumulated across frames inside a rolling one-second window decides when a
// recording session starts, and a 30 second quiet period decides when it
// ends.
package trigger

import (
	"math"
	"time"

	"github.com/visiona/vigia/internal/types"
)

// State is the trigger machine state.
type State int

const (
	// StateIdle means no qualifying evidence in the current window.
	StateIdle State = iota
	// StateAccumulating means qualifying frames have been seen in the
	// current window but the activation thresholds are not yet met.
	StateAccumulating
	// StateActive means a recording session is open.
	StateActive
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccumulating:
		return "accumulating"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

const (
	// windowLength bounds how long trigger evidence may accumulate.
	windowLength = time.Second
	// quietPeriod is how long a session stays open after the last
	// qualifying detection.
	quietPeriod = 30 * time.Second
)

// Config holds the per-camera activation thresholds.
//
// The defaults (0 frames, 0 distance) fire on the first qualifying frame,
// since activation requires strictly more than both thresholds. Callers
// wanting hysteresis must set both.
type Config struct {
	TriggerFrames   int
	TriggerDistance float64
}

// Actions tells the camera loop what to do after one observed frame. At most
// one of Activate/Deactivate is set per call.
type Actions struct {
	// Activate: thresholds were just crossed, open a session.
	Activate bool
	// NewBest: this frame's box beats every earlier area while a session
	// is open; forward it as the session's best-frame candidate.
	NewBest bool
	// Deactivate: the quiet period elapsed, end the session.
	Deactivate bool
	// WindowClosed reports a window that expired with evidence but no
	// activation, for diagnostics. WindowFrames/WindowDistance carry the
	// discarded counters.
	WindowClosed   bool
	WindowFrames   int
	WindowDistance float64
}

// Machine is the trigger state machine for one camera. It is exclusively
// owned by that camera's loop and driven once per processed frame with the
// frame's capture time; it never reads the wall clock itself.
type Machine struct {
	cfg   Config
	state State

	windowStart time.Time
	frames      int
	distance    float64
	lastCenter  *types.Point

	bestArea      int
	lastDetection time.Time
}

// New returns an idle machine with the given thresholds.
func New(cfg Config) *Machine {
	return &Machine{cfg: cfg}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Active reports whether a session should be open.
func (m *Machine) Active() bool { return m.state == StateActive }

// BestArea returns the largest qualifying box area seen since the last
// deactivation.
func (m *Machine) BestArea() int { return m.bestArea }

// Observe advances the machine by one frame. det is nil when the frame had
// no accepted detection; inside is the boundary verdict for det's center and
// is ignored when det is nil; now is the frame's capture time.
func (m *Machine) Observe(det *types.Detection, inside bool, now time.Time) Actions {
	var a Actions

	if m.windowStart.IsZero() {
		m.windowStart = now
	}
	if now.Sub(m.windowStart) > windowLength {
		if m.state != StateActive && m.frames > 0 {
			a.WindowClosed = true
			a.WindowFrames = m.frames
			a.WindowDistance = m.distance
		}
		m.resetWindow(now)
	}

	if det != nil && inside {
		m.lastDetection = now

		if area := det.Area(); area > m.bestArea {
			m.bestArea = area
			a.NewBest = m.state == StateActive
		}

		center := det.Center()
		if m.lastCenter != nil {
			m.distance += euclidean(*m.lastCenter, center)
		}
		m.lastCenter = &center
		m.frames++

		if m.state != StateActive {
			m.state = StateAccumulating
			if m.frames > m.cfg.TriggerFrames && m.distance > m.cfg.TriggerDistance {
				m.state = StateActive
				a.Activate = true
			}
		}
	}

	if m.state == StateActive && now.Sub(m.lastDetection) > quietPeriod {
		m.state = StateIdle
		m.bestArea = 0
		m.resetWindow(now)
		a.Deactivate = true
	}

	return a
}

// resetWindow discards the current window's evidence. bestArea is left
// alone; that resets only on deactivation.
func (m *Machine) resetWindow(now time.Time) {
	m.windowStart = now
	m.frames = 0
	m.distance = 0
	m.lastCenter = nil
	if m.state == StateAccumulating {
		m.state = StateIdle
	}
}

func euclidean(a, b types.Point) float64 {
	dx := float64(a.X - b.X)
	dy := float64(a.Y - b.Y)
	return math.Sqrt(dx*dx + dy*dy)
}
