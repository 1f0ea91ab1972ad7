// Package prebuffer holds the most recent frames seen while a camera is not
// recording, so a new session can be seeded with the seconds immediately
// before its trigger.
package prebuffer

import "github.com/visiona/vigia/internal/types"

// DefaultCapacity is sized for roughly ten seconds of pre-roll at a typical
// residential camera rate.
const DefaultCapacity = 150

// Ring is a fixed-capacity cyclic frame buffer with a single writer.
//
// While the camera is idle every incoming frame overwrites the slot at the
// write cursor; once a session drains it the ring starts over empty. Not safe
// for concurrent use; it is owned by exactly one camera loop.
type Ring struct {
	slots  []types.Frame
	cursor int
	fill   int
}

// New returns an empty ring with the given capacity. Capacities below 1 fall
// back to DefaultCapacity.
func New(capacity int) *Ring {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Ring{slots: make([]types.Frame, capacity)}
}

// Push stores f at the write cursor, overwriting the oldest frame once the
// ring is full.
func (r *Ring) Push(f types.Frame) {
	r.slots[r.cursor] = f
	r.cursor = (r.cursor + 1) % len(r.slots)
	if r.fill < len(r.slots) {
		r.fill++
	}
}

// Drain returns the buffered frames oldest-first and empties the ring.
//
// Before the first wrap the frames occupy [0, fill); afterwards chronological
// order is [cursor, cap) followed by [0, cursor). Ownership of the returned
// frames passes to the caller.
func (r *Ring) Drain() []types.Frame {
	out := make([]types.Frame, 0, r.fill)
	if r.fill < len(r.slots) {
		out = append(out, r.slots[:r.fill]...)
	} else {
		out = append(out, r.slots[r.cursor:]...)
		out = append(out, r.slots[:r.cursor]...)
	}

	for i := range r.slots {
		r.slots[i] = types.Frame{}
	}
	r.cursor = 0
	r.fill = 0
	return out
}

// Len returns the number of buffered frames.
func (r *Ring) Len() int { return r.fill }

// Cap returns the ring capacity.
func (r *Ring) Cap() int { return len(r.slots) }
