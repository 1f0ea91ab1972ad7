// Package stream acquires raw video frames from camera sources. Providers
// deliver interleaved BGR bytes at the source's native resolution and rate;
// everything downstream measures geometry and frame rate instead of
// configuring it.
package stream

import (
	"context"

	"github.com/visiona/vigia/internal/types"
)

// Provider is a single-connection frame source.
//
// Start returns the frame channel or an immediate setup error. The channel
// closes when the connection ends for any reason; the caller owns restart
// policy and builds a fresh provider per attempt. Stop cancels the
// connection and waits for the channel to close.
type Provider interface {
	Start(ctx context.Context) (<-chan types.Frame, error)
	Stop() error
	Stats() types.StreamStats
}
