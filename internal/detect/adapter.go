package detect

import (
	"fmt"
	"image"
	"sync"

	"golang.org/x/image/draw"

	"github.com/visiona/vigia/internal/types"
)

const (
	// DefaultInputSize is the model's square input resolution.
	DefaultInputSize = 320
	// DefaultThreshold is the minimum accepted person confidence.
	DefaultThreshold = 0.75
	// maxCandidates caps how many output slots one pass is scanned for.
	maxCandidates = 50
)

// Inferencer runs one detection pass over a packed RGB input tensor.
type Inferencer interface {
	Infer(tensor []byte) (*Output, error)
}

// Geometry is the crop/scale mapping between one stream's frames and the
// model input. It is measured once from a stream's first frame and reused
// for every frame until the stream restarts.
type Geometry struct {
	SrcWidth  int
	SrcHeight int
	// Side is the centered crop square's edge, the shorter source axis.
	Side    int
	OffsetX int
	OffsetY int
	// Scale is Side divided by the model input size; box corners multiply
	// by InputSize*Scale to land back in source pixels.
	Scale float64
}

// AdapterConfig configures tensor packing and output filtering.
type AdapterConfig struct {
	// InputSize is the model's square input resolution. Zero means 320.
	InputSize int
	// PersonClass is the class index accepted as a person. The default 0
	// matches COCO-trained SSD exports.
	PersonClass int
	// Threshold is the exclusive minimum score. Zero means 0.75.
	Threshold float32
}

// Adapter packs frames into input tensors and decodes engine output into at
// most one person detection per frame. One Adapter is shared by every
// camera; per-stream state lives in the Geometry the caller passes in.
type Adapter struct {
	engine      Inferencer
	inputSize   int
	personClass int
	threshold   float32

	pool sync.Pool
}

type packBuffers struct {
	src    []uint8
	dst    *image.RGBA
	tensor []byte
}

// NewAdapter returns an adapter running passes through engine.
func NewAdapter(engine Inferencer, cfg AdapterConfig) *Adapter {
	if cfg.InputSize <= 0 {
		cfg.InputSize = DefaultInputSize
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	size := cfg.InputSize
	return &Adapter{
		engine:      engine,
		inputSize:   size,
		personClass: cfg.PersonClass,
		threshold:   cfg.Threshold,
		pool: sync.Pool{
			New: func() interface{} {
				return &packBuffers{
					dst:    image.NewRGBA(image.Rect(0, 0, size, size)),
					tensor: make([]byte, size*size*3),
				}
			},
		},
	}
}

// InputSize returns the model's square input resolution.
func (a *Adapter) InputSize() int { return a.inputSize }

// Prepare computes the crop geometry for a stream of width x height frames.
// The crop is the largest centered square, so the full shorter axis fits.
func (a *Adapter) Prepare(width, height int) (Geometry, error) {
	if width <= 0 || height <= 0 {
		return Geometry{}, fmt.Errorf("invalid frame dimensions %dx%d", width, height)
	}
	side := width
	if height < width {
		side = height
	}
	return Geometry{
		SrcWidth:  width,
		SrcHeight: height,
		Side:      side,
		OffsetX:   (width - side) / 2,
		OffsetY:   (height - side) / 2,
		Scale:     float64(side) / float64(a.inputSize),
	}, nil
}

// Detect runs one frame through the engine and returns the first candidate
// whose class and score qualify, denormalized into source-frame pixels, or
// nil when nothing qualifies. The returned box's width/height may be
// negative when the raw output's corners are inverted; callers must not
// assume positivity. An error means this frame could not be evaluated.
func (a *Adapter) Detect(frame types.Frame, g Geometry) (*types.Detection, error) {
	if frame.Width != g.SrcWidth || frame.Height != g.SrcHeight {
		return nil, fmt.Errorf("frame %dx%d does not match prepared geometry %dx%d",
			frame.Width, frame.Height, g.SrcWidth, g.SrcHeight)
	}
	need := ((g.OffsetY+g.Side-1)*g.SrcWidth + g.OffsetX + g.Side) * 3
	if len(frame.Data) < need {
		return nil, fmt.Errorf("frame data is %d bytes, crop needs %d", len(frame.Data), need)
	}

	b := a.pool.Get().(*packBuffers)
	defer a.pool.Put(b)

	out, err := a.engine.Infer(a.pack(frame, g, b))
	if err != nil {
		return nil, err
	}

	n := maxCandidates
	if out.Count < n {
		n = out.Count
	}
	if len(out.Scores) < n {
		n = len(out.Scores)
	}
	if len(out.Classes) < n {
		n = len(out.Classes)
	}
	if len(out.Boxes)/4 < n {
		n = len(out.Boxes) / 4
	}

	// First accepted candidate wins; best-by-area selection happens across
	// frames in the trigger, not across candidates here.
	span := float64(a.inputSize) * g.Scale
	for i := 0; i < n; i++ {
		if int(out.Classes[i]) != a.personClass || out.Scores[i] <= a.threshold {
			continue
		}
		y0 := int(float64(out.Boxes[4*i+0])*span) + g.OffsetY
		x0 := int(float64(out.Boxes[4*i+1])*span) + g.OffsetX
		y1 := int(float64(out.Boxes[4*i+2])*span) + g.OffsetY
		x1 := int(float64(out.Boxes[4*i+3])*span) + g.OffsetX
		return &types.Detection{
			X:      x0,
			Y:      y0,
			Width:  x1 - x0,
			Height: y1 - y0,
			Score:  out.Scores[i],
		}, nil
	}
	return nil, nil
}

// pack crops the centered square out of the frame, scales it to the model
// input resolution, and lays it out as an RGB byte tensor. The stream's BGR
// byte order is swapped to RGB here, during the final tensor copy.
func (a *Adapter) pack(frame types.Frame, g Geometry, b *packBuffers) []byte {
	need := g.Side * g.Side * 4
	if cap(b.src) < need {
		b.src = make([]uint8, need)
	}
	b.src = b.src[:need]

	for y := 0; y < g.Side; y++ {
		si := ((g.OffsetY+y)*g.SrcWidth + g.OffsetX) * 3
		di := y * g.Side * 4
		for x := 0; x < g.Side; x++ {
			copy(b.src[di:di+3], frame.Data[si:si+3])
			b.src[di+3] = 0xFF
			si += 3
			di += 4
		}
	}

	srcImg := &image.RGBA{
		Pix:    b.src,
		Stride: g.Side * 4,
		Rect:   image.Rect(0, 0, g.Side, g.Side),
	}
	draw.ApproxBiLinear.Scale(b.dst, b.dst.Rect, srcImg, srcImg.Rect, draw.Src, nil)

	px := b.dst.Pix
	t := b.tensor
	for i, j := 0, 0; j < len(t); i, j = i+4, j+3 {
		t[j+0] = px[i+2]
		t[j+1] = px[i+1]
		t[j+2] = px[i+0]
	}
	return t
}
