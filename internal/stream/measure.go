package stream

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/visiona/vigia/internal/types"
)

// DefaultMeasureWindow is how much stream time a rate measurement spans.
const DefaultMeasureWindow = time.Second

// Measurement describes a stream as observed over a short warm-up window.
type Measurement struct {
	Width  int
	Height int
	FPS    float64
	Frames int
}

// MeasureRate consumes frames until their own timestamps span the given
// window, then reports the observed dimensions and frame rate. Dimensions
// come from the first frame; the rate is the mean interval rate across the
// window. Consumed frames are discarded, so callers run this once per
// connection before processing begins.
//
// Returns an error if the channel closes or the context is cancelled before
// the window fills.
func MeasureRate(ctx context.Context, frames <-chan types.Frame, window time.Duration) (Measurement, error) {
	if window <= 0 {
		window = DefaultMeasureWindow
	}

	var m Measurement
	var first time.Time

	for {
		select {
		case <-ctx.Done():
			return Measurement{}, ctx.Err()

		case f, ok := <-frames:
			if !ok {
				return Measurement{}, fmt.Errorf("stream closed during rate measurement")
			}

			if m.Frames == 0 {
				m.Width = f.Width
				m.Height = f.Height
				first = f.Timestamp
			}
			m.Frames++

			elapsed := f.Timestamp.Sub(first)
			if elapsed < window {
				continue
			}

			m.FPS = float64(m.Frames-1) / elapsed.Seconds()
			slog.Info("stream rate measured",
				"camera", f.Camera,
				"resolution", fmt.Sprintf("%dx%d", m.Width, m.Height),
				"fps", m.FPS,
				"frames", m.Frames,
			)
			return m, nil
		}
	}
}
