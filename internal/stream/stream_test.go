package stream

import (
	"context"
	"testing"
	"time"

	"github.com/visiona/vigia/internal/types"
)

func testFrame(seq uint64, ts time.Time, w, h int) types.Frame {
	return types.Frame{
		Seq:       seq,
		Timestamp: ts,
		Width:     w,
		Height:    h,
		Data:      make([]byte, w*h*3),
	}
}

// TestMeasureRate verifies dimensions come from the first frame and the rate
// is the mean interval rate across the window.
func TestMeasureRate(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.Local)

	ch := make(chan types.Frame, 16)
	for i := 0; i <= 5; i++ {
		ch <- testFrame(uint64(i+1), t0.Add(time.Duration(i)*100*time.Millisecond), 640, 480)
	}

	m, err := MeasureRate(context.Background(), ch, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("MeasureRate failed: %v", err)
	}
	if m.Width != 640 || m.Height != 480 {
		t.Errorf("dimensions = %dx%d, want 640x480", m.Width, m.Height)
	}
	if m.Frames != 6 {
		t.Errorf("frames = %d, want 6", m.Frames)
	}
	if m.FPS != 10.0 {
		t.Errorf("fps = %v, want 10.0", m.FPS)
	}
}

// TestMeasureRateDefaultWindow verifies a zero window falls back to one
// second of stream time.
func TestMeasureRateDefaultWindow(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.Local)

	ch := make(chan types.Frame, 16)
	for i := 0; i <= 10; i++ {
		ch <- testFrame(uint64(i+1), t0.Add(time.Duration(i)*100*time.Millisecond), 320, 240)
	}

	m, err := MeasureRate(context.Background(), ch, 0)
	if err != nil {
		t.Fatalf("MeasureRate failed: %v", err)
	}
	if m.Frames != 11 {
		t.Errorf("frames = %d, want 11", m.Frames)
	}
	if m.FPS != 10.0 {
		t.Errorf("fps = %v, want 10.0", m.FPS)
	}
}

// TestMeasureRateStreamClosed verifies a channel closing mid-measurement is
// an error, not a partial result.
func TestMeasureRateStreamClosed(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.Local)

	ch := make(chan types.Frame, 4)
	ch <- testFrame(1, t0, 640, 480)
	ch <- testFrame(2, t0.Add(100*time.Millisecond), 640, 480)
	close(ch)

	if _, err := MeasureRate(context.Background(), ch, time.Second); err == nil {
		t.Fatal("expected error after stream close")
	}
}

// TestMeasureRateCancelled verifies context cancellation unblocks the
// measurement.
func TestMeasureRateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan types.Frame)

	errCh := make(chan error, 1)
	go func() {
		_, err := MeasureRate(ctx, ch, time.Second)
		errCh <- err
	}()

	cancel()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected cancellation error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("MeasureRate did not return after cancel")
	}
}

// TestScriptReplayInOrder verifies the scripted provider emits every frame
// verbatim and then closes the channel.
func TestScriptReplayInOrder(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.Local)

	frames := make([]types.Frame, 0, 5)
	for i := 0; i < 5; i++ {
		frames = append(frames, testFrame(uint64(i+1), t0.Add(time.Duration(i)*time.Second), 64, 48))
	}

	s := NewScriptStream("porch", frames)
	ch, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		select {
		case f, ok := <-ch:
			if !ok {
				t.Fatalf("channel closed after %d frames, want 5", i)
			}
			if f.Seq != uint64(i+1) {
				t.Fatalf("frame %d has seq %d", i, f.Seq)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for frame %d", i)
		}
	}

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("received frame past end of script")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not close after replay")
	}

	if got := s.Stats().FrameCount; got != 5 {
		t.Errorf("FrameCount = %d, want 5", got)
	}
}

// TestScriptStop verifies Stop halts a replay mid-sequence and the channel
// still closes.
func TestScriptStop(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.Local)

	frames := make([]types.Frame, 0, 10)
	for i := 0; i < 10; i++ {
		frames = append(frames, testFrame(uint64(i+1), t0.Add(time.Duration(i)*time.Second), 64, 48))
	}

	s := NewScriptStream("porch", frames)
	ch, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	first, ok := <-ch
	if !ok || first.Seq != 1 {
		t.Fatalf("first frame = %v ok=%v", first.Seq, ok)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	var last uint64 = 1
	for f := range ch {
		if f.Seq != last+1 {
			t.Fatalf("out-of-order frame %d after %d", f.Seq, last)
		}
		last = f.Seq
	}
	if last >= 10 {
		t.Errorf("replay ran to completion despite Stop")
	}
}

// TestScriptStartTwice verifies a provider is single-use.
func TestScriptStartTwice(t *testing.T) {
	s := NewScriptStream("porch", nil)
	if _, err := s.Start(context.Background()); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	if _, err := s.Start(context.Background()); err == nil {
		t.Fatal("second Start should fail")
	}
}
