package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/visiona/vigia/internal/types"
)

// ScriptStream replays a fixed frame sequence verbatim and then closes its
// channel, standing in for a live camera in tests and dry runs. The closed
// channel exercises the same stream-ended path a real connection failure
// takes.
type ScriptStream struct {
	camera string
	frames []types.Frame

	ch   chan types.Frame
	stop chan struct{}
	done chan struct{}

	mu      sync.Mutex
	started bool
	once    sync.Once
	emitted uint64
	lastAt  time.Time
}

// NewScriptStream creates a provider that will emit the given frames in
// order. Frames are sent exactly as provided; callers stamp timestamps,
// dimensions, and camera names themselves.
func NewScriptStream(camera string, frames []types.Frame) *ScriptStream {
	return &ScriptStream{
		camera: camera,
		frames: frames,
		ch:     make(chan types.Frame, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start begins the replay.
func (s *ScriptStream) Start(ctx context.Context) (<-chan types.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil, fmt.Errorf("stream already started")
	}
	s.started = true

	go s.replay(ctx)
	return s.ch, nil
}

func (s *ScriptStream) replay(ctx context.Context) {
	defer close(s.done)
	defer close(s.ch)

	for _, f := range s.frames {
		select {
		case s.ch <- f:
			s.mu.Lock()
			s.emitted++
			s.lastAt = f.Timestamp
			s.mu.Unlock()
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		}
	}
}

// Stop halts the replay and waits for the channel to close.
func (s *ScriptStream) Stop() error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	if !started {
		return fmt.Errorf("stream not started")
	}

	s.once.Do(func() { close(s.stop) })
	<-s.done
	return nil
}

// Stats returns a snapshot of the replay progress.
func (s *ScriptStream) Stats() types.StreamStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res string
	if len(s.frames) > 0 {
		res = fmt.Sprintf("%dx%d", s.frames[0].Width, s.frames[0].Height)
	}

	return types.StreamStats{
		Connected:   s.started && s.emitted < uint64(len(s.frames)),
		FrameCount:  s.emitted,
		FPSReal:     0,
		LastFrameAt: s.lastAt,
		Resolution:  res,
	}
}
