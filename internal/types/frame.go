package types

import (
	"time"
)

// Frame represents a single captured video frame.
//
// Data holds raw interleaved BGR bytes (Width*Height*3), the native channel
// order of the capture pipeline. A Frame owns its Data slice; components that
// retain a frame beyond the current loop iteration must Clone it.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Data      []byte
	Camera    string
	TraceID   string
}

// Clone returns a deep copy of the frame with its own Data buffer.
func (f Frame) Clone() Frame {
	c := f
	c.Data = make([]byte, len(f.Data))
	copy(c.Data, f.Data)
	return c
}

// Size returns the expected byte length for the frame's dimensions.
func (f Frame) Size() int {
	return f.Width * f.Height * 3
}

// Point is a pixel coordinate in source-frame space.
type Point struct {
	X int
	Y int
}

// Detection is a single person bounding box in source-frame pixel
// coordinates.
//
// Width and Height are corner differences straight from the model output and
// may be negative when the raw corners are inverted; consumers must tolerate
// degenerate boxes.
type Detection struct {
	X      int
	Y      int
	Width  int
	Height int
	Score  float32
}

// Center returns the box center point.
func (d Detection) Center() Point {
	return Point{X: d.X + d.Width/2, Y: d.Y + d.Height/2}
}

// Area returns Width*Height. It can be negative for degenerate boxes.
func (d Detection) Area() int {
	return d.Width * d.Height
}

// StreamStats is a snapshot of a capture provider's counters.
type StreamStats struct {
	Connected   bool
	FrameCount  uint64
	Dropped     uint64
	FPSReal     float64
	LastFrameAt time.Time
	Resolution  string
}
