package detect

import (
	"errors"
	"testing"

	"github.com/visiona/vigia/internal/types"
)

type fakeEngine struct {
	out    *Output
	err    error
	calls  int
	tensor []byte
}

func (f *fakeEngine) Infer(tensor []byte) (*Output, error) {
	f.calls++
	f.tensor = append(f.tensor[:0], tensor...)
	if f.err != nil {
		return nil, f.err
	}
	if f.out != nil {
		return f.out, nil
	}
	return &Output{}, nil
}

func uniformFrame(width, height int, b, g, r byte) types.Frame {
	data := make([]byte, width*height*3)
	for i := 0; i < len(data); i += 3 {
		data[i] = b
		data[i+1] = g
		data[i+2] = r
	}
	return types.Frame{Width: width, Height: height, Data: data}
}

// TestPrepareGeometry verifies the centered-square crop mapping for
// landscape, portrait and square streams.
func TestPrepareGeometry(t *testing.T) {
	a := NewAdapter(&fakeEngine{}, AdapterConfig{})

	cases := []struct {
		w, h                   int
		side, offsetX, offsetY int
		scale                  float64
	}{
		{1280, 720, 720, 280, 0, 2.25},
		{720, 1280, 720, 0, 280, 2.25},
		{640, 640, 640, 0, 0, 2.0},
	}
	for _, c := range cases {
		g, err := a.Prepare(c.w, c.h)
		if err != nil {
			t.Fatalf("Prepare(%d,%d): %v", c.w, c.h, err)
		}
		if g.Side != c.side || g.OffsetX != c.offsetX || g.OffsetY != c.offsetY {
			t.Errorf("Prepare(%d,%d) = side %d offset (%d,%d), want side %d offset (%d,%d)",
				c.w, c.h, g.Side, g.OffsetX, g.OffsetY, c.side, c.offsetX, c.offsetY)
		}
		if g.Scale != c.scale {
			t.Errorf("Prepare(%d,%d) scale = %v, want %v", c.w, c.h, g.Scale, c.scale)
		}
	}

	if _, err := a.Prepare(0, 720); err == nil {
		t.Error("Prepare accepted zero width")
	}
	if _, err := a.Prepare(1280, -1); err == nil {
		t.Error("Prepare accepted negative height")
	}
}

// TestDetectPicksFirstQualifying verifies output order wins over score and
// that corners denormalize into source pixels.
func TestDetectPicksFirstQualifying(t *testing.T) {
	eng := &fakeEngine{out: &Output{
		// candidate 0: person but below threshold
		// candidate 1: confident but wrong class
		// candidate 2: first qualifying, returned
		// candidate 3: higher score, must be ignored
		Boxes: []float32{
			0.1, 0.1, 0.2, 0.2,
			0.1, 0.1, 0.2, 0.2,
			0.25, 0.25, 0.5, 0.75,
			0.3, 0.3, 0.6, 0.6,
		},
		Classes: []float32{0, 2, 0, 0},
		Scores:  []float32{0.5, 0.95, 0.9, 0.99},
		Count:   4,
	}}
	a := NewAdapter(eng, AdapterConfig{})

	g, err := a.Prepare(640, 640)
	if err != nil {
		t.Fatal(err)
	}
	det, err := a.Detect(uniformFrame(640, 640, 1, 2, 3), g)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if det == nil {
		t.Fatal("Detect returned no detection")
	}
	if det.Score != 0.9 {
		t.Errorf("Score = %v, want 0.9 (first qualifying, not best)", det.Score)
	}
	// span = 320 * 2.0 = 640: [0.25,0.25,0.5,0.75] -> y0=160 x0=160 y1=320 x1=480
	if det.X != 160 || det.Y != 160 || det.Width != 320 || det.Height != 160 {
		t.Errorf("box = (%d,%d %dx%d), want (160,160 320x160)",
			det.X, det.Y, det.Width, det.Height)
	}
	if eng.calls != 1 {
		t.Errorf("engine called %d times, want 1", eng.calls)
	}
}

// TestDetectCropOffsets verifies denormalized boxes are translated by the
// crop offset on a landscape stream.
func TestDetectCropOffsets(t *testing.T) {
	eng := &fakeEngine{out: &Output{
		Boxes:   []float32{0.0, 0.5, 1.0, 1.0},
		Classes: []float32{0},
		Scores:  []float32{0.9},
		Count:   1,
	}}
	a := NewAdapter(eng, AdapterConfig{})

	g, err := a.Prepare(1280, 720)
	if err != nil {
		t.Fatal(err)
	}
	det, err := a.Detect(uniformFrame(1280, 720, 0, 0, 0), g)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if det == nil {
		t.Fatal("Detect returned no detection")
	}
	// span = 320 * 2.25 = 720, offset (280,0):
	// x0 = 0.5*720+280 = 640, x1 = 720+280 = 1000, y0 = 0, y1 = 720
	if det.X != 640 || det.Y != 0 || det.Width != 360 || det.Height != 720 {
		t.Errorf("box = (%d,%d %dx%d), want (640,0 360x720)",
			det.X, det.Y, det.Width, det.Height)
	}
}

// TestDetectNegativeBoxPreserved verifies inverted raw corners come through
// as negative width without clamping.
func TestDetectNegativeBoxPreserved(t *testing.T) {
	eng := &fakeEngine{out: &Output{
		Boxes:   []float32{0.25, 0.75, 0.5, 0.25},
		Classes: []float32{0},
		Scores:  []float32{0.9},
		Count:   1,
	}}
	a := NewAdapter(eng, AdapterConfig{})

	g, _ := a.Prepare(640, 640)
	det, err := a.Detect(uniformFrame(640, 640, 0, 0, 0), g)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if det == nil {
		t.Fatal("Detect returned no detection")
	}
	if det.Width != -320 {
		t.Errorf("Width = %d, want -320 (inverted corners preserved)", det.Width)
	}
	if det.Height != 160 {
		t.Errorf("Height = %d, want 160", det.Height)
	}
}

// TestDetectNothingQualifies verifies a frame with no accepted candidate
// returns nil without error.
func TestDetectNothingQualifies(t *testing.T) {
	eng := &fakeEngine{out: &Output{
		Boxes:   []float32{0.1, 0.1, 0.2, 0.2, 0.1, 0.1, 0.2, 0.2},
		Classes: []float32{0, 3},
		Scores:  []float32{0.7, 0.99},
		Count:   2,
	}}
	a := NewAdapter(eng, AdapterConfig{})

	g, _ := a.Prepare(640, 640)
	det, err := a.Detect(uniformFrame(640, 640, 0, 0, 0), g)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if det != nil {
		t.Fatalf("Detect = %+v, want nil", det)
	}
	if eng.calls != 1 {
		t.Errorf("engine called %d times, want 1", eng.calls)
	}
}

// TestDetectScanCap verifies candidates past the 50th slot are never
// considered.
func TestDetectScanCap(t *testing.T) {
	const n = 60
	out := &Output{
		Boxes:   make([]float32, n*4),
		Classes: make([]float32, n),
		Scores:  make([]float32, n),
		Count:   n,
	}
	for i := 0; i < n; i++ {
		out.Classes[i] = 1 // not a person
		out.Scores[i] = 0.95
	}
	out.Classes[55] = 0 // qualifying, but out of scan range

	eng := &fakeEngine{out: out}
	a := NewAdapter(eng, AdapterConfig{})
	g, _ := a.Prepare(640, 640)

	det, err := a.Detect(uniformFrame(640, 640, 0, 0, 0), g)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if det != nil {
		t.Fatalf("candidate 55 was accepted; scan must stop at 50")
	}

	out.Classes[49] = 0 // inside scan range
	det, err = a.Detect(uniformFrame(640, 640, 0, 0, 0), g)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if det == nil {
		t.Fatal("candidate 49 not accepted")
	}
}

// TestDetectEngineError verifies an inference failure surfaces as an error,
// not as a detection.
func TestDetectEngineError(t *testing.T) {
	boom := errors.New("worker gone")
	eng := &fakeEngine{err: boom}
	a := NewAdapter(eng, AdapterConfig{})

	g, _ := a.Prepare(640, 640)
	det, err := a.Detect(uniformFrame(640, 640, 0, 0, 0), g)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped engine error", err)
	}
	if det != nil {
		t.Fatalf("det = %+v, want nil on engine error", det)
	}
}

// TestDetectRejectsMismatchedFrame verifies frames that do not match the
// prepared geometry fail before reaching the engine.
func TestDetectRejectsMismatchedFrame(t *testing.T) {
	eng := &fakeEngine{}
	a := NewAdapter(eng, AdapterConfig{})
	g, _ := a.Prepare(640, 640)

	if _, err := a.Detect(uniformFrame(320, 240, 0, 0, 0), g); err == nil {
		t.Error("mismatched dimensions accepted")
	}

	short := types.Frame{Width: 640, Height: 640, Data: make([]byte, 10)}
	if _, err := a.Detect(short, g); err == nil {
		t.Error("truncated frame data accepted")
	}
	if eng.calls != 0 {
		t.Errorf("engine called %d times on bad frames, want 0", eng.calls)
	}
}

// TestPackSwapsChannels verifies the tensor is RGB while the stream is BGR,
// using a uniform-color frame so scaling cannot perturb values.
func TestPackSwapsChannels(t *testing.T) {
	eng := &fakeEngine{}
	a := NewAdapter(eng, AdapterConfig{})

	g, err := a.Prepare(8, 8)
	if err != nil {
		t.Fatal(err)
	}
	// BGR (10,20,30): blue 10, green 20, red 30.
	if _, err := a.Detect(uniformFrame(8, 8, 10, 20, 30), g); err != nil {
		t.Fatalf("Detect: %v", err)
	}

	want := a.InputSize() * a.InputSize() * 3
	if len(eng.tensor) != want {
		t.Fatalf("tensor length = %d, want %d", len(eng.tensor), want)
	}
	for i := 0; i < len(eng.tensor); i += 3 {
		if eng.tensor[i] != 30 || eng.tensor[i+1] != 20 || eng.tensor[i+2] != 10 {
			t.Fatalf("tensor triplet at %d = (%d,%d,%d), want RGB (30,20,10)",
				i, eng.tensor[i], eng.tensor[i+1], eng.tensor[i+2])
		}
	}
}

// BenchmarkDetect measures the full pack+infer path with a no-op engine.
func BenchmarkDetect(b *testing.B) {
	a := NewAdapter(&fakeEngine{}, AdapterConfig{})
	g, _ := a.Prepare(1280, 720)
	frame := uniformFrame(1280, 720, 10, 20, 30)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := a.Detect(frame, g); err != nil {
			b.Fatal(err)
		}
	}
}
