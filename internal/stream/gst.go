package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
	"github.com/visiona/vigia/internal/types"
)

const (
	frameChannelDepth = 10
	busPollInterval   = 50 * time.Millisecond
	stopTimeout       = 3 * time.Second
	defaultLatency    = 200 * time.Millisecond
)

// GstConfig configures a GStreamer capture provider.
type GstConfig struct {
	// Camera is the logical camera name stamped on every frame.
	Camera string
	// Source is the stream URI. Sources starting with rtsp:// get a
	// dedicated H.264 RTSP chain over TCP; anything else (file://,
	// http://, ...) goes through uridecodebin.
	Source string
	// Latency is the RTSP jitter buffer depth. Zero means 200ms.
	Latency time.Duration
}

// GstStream captures frames from one camera source through a GStreamer
// pipeline ending in an appsink that emits raw BGR at the stream's native
// resolution and rate.
//
// A GstStream runs exactly one connection. When the pipeline errors out or
// reaches end of stream, the frame channel closes and the provider is spent;
// the supervisor decides whether to build a new one.
type GstStream struct {
	camera  string
	source  string
	latency time.Duration

	frames chan types.Frame
	done   chan struct{}

	mu        sync.Mutex
	started   bool
	connected bool
	width     int
	height    int
	lastAt    time.Time
	startedAt time.Time
	cancel    context.CancelFunc

	frameCount uint64
	dropped    uint64
}

// NewGstStream creates a capture provider for the given source URI.
func NewGstStream(cfg GstConfig) (*GstStream, error) {
	if cfg.Camera == "" {
		return nil, fmt.Errorf("camera name is required")
	}
	if cfg.Source == "" {
		return nil, fmt.Errorf("stream source is required")
	}

	latency := cfg.Latency
	if latency == 0 {
		latency = defaultLatency
	}

	return &GstStream{
		camera:  cfg.Camera,
		source:  cfg.Source,
		latency: latency,
		frames:  make(chan types.Frame, frameChannelDepth),
		done:    make(chan struct{}),
	}, nil
}

// Start builds the pipeline and begins delivering frames. Build failures are
// returned immediately; connection failures after Start surface as a closed
// frame channel.
func (s *GstStream) Start(ctx context.Context) (<-chan types.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil, fmt.Errorf("stream already started")
	}

	gst.Init(nil)

	pipeline, sink, err := s.buildPipeline()
	if err != nil {
		return nil, err
	}

	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return s.onNewSample(sink)
		},
	})

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.started = true
	s.startedAt = time.Now()

	go s.run(runCtx, pipeline)

	slog.Info("stream starting",
		"camera", s.camera,
		"source", s.source,
	)

	return s.frames, nil
}

// buildPipeline assembles source -> decode -> videoconvert -> BGR caps ->
// appsink. rtspsrc and uridecodebin both expose their decoded pads
// dynamically, so the source half links in a pad-added callback.
func (s *GstStream) buildPipeline() (*gst.Pipeline, *app.Sink, error) {
	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, nil, fmt.Errorf("create pipeline: %w", err)
	}

	sink, err := app.NewAppSink()
	if err != nil {
		return nil, nil, fmt.Errorf("create appsink: %w", err)
	}
	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", 1)
	sink.SetProperty("drop", true)

	videoconvert, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, nil, fmt.Errorf("create videoconvert: %w", err)
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, nil, fmt.Errorf("create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString("video/x-raw,format=BGR"))

	if strings.HasPrefix(s.source, "rtsp://") {
		rtspsrc, err := gst.NewElement("rtspsrc")
		if err != nil {
			return nil, nil, fmt.Errorf("create rtspsrc: %w", err)
		}
		rtspsrc.SetProperty("location", s.source)
		rtspsrc.SetProperty("protocols", 4) // TCP
		rtspsrc.SetProperty("latency", int(s.latency.Milliseconds()))

		depay, err := gst.NewElement("rtph264depay")
		if err != nil {
			return nil, nil, fmt.Errorf("create rtph264depay: %w", err)
		}
		parse, err := gst.NewElement("h264parse")
		if err != nil {
			return nil, nil, fmt.Errorf("create h264parse: %w", err)
		}
		decode, err := gst.NewElement("avdec_h264")
		if err != nil {
			return nil, nil, fmt.Errorf("create avdec_h264: %w", err)
		}

		if err := pipeline.AddMany(rtspsrc, depay, parse, decode, videoconvert, capsfilter, sink.Element); err != nil {
			return nil, nil, fmt.Errorf("add elements: %w", err)
		}
		if err := gst.ElementLinkMany(depay, parse, decode, videoconvert, capsfilter, sink.Element); err != nil {
			return nil, nil, fmt.Errorf("link elements: %w", err)
		}

		rtspsrc.Connect("pad-added", func(self *gst.Element, srcPad *gst.Pad) {
			sinkPad := depay.GetStaticPad("sink")
			if sinkPad != nil {
				srcPad.Link(sinkPad)
			}
		})

		return pipeline, sink, nil
	}

	src, err := gst.NewElement("uridecodebin")
	if err != nil {
		return nil, nil, fmt.Errorf("create uridecodebin: %w", err)
	}
	src.SetProperty("uri", s.source)

	if err := pipeline.AddMany(src, videoconvert, capsfilter, sink.Element); err != nil {
		return nil, nil, fmt.Errorf("add elements: %w", err)
	}
	if err := gst.ElementLinkMany(videoconvert, capsfilter, sink.Element); err != nil {
		return nil, nil, fmt.Errorf("link elements: %w", err)
	}

	src.Connect("pad-added", func(self *gst.Element, srcPad *gst.Pad) {
		sinkPad := videoconvert.GetStaticPad("sink")
		if sinkPad != nil {
			srcPad.Link(sinkPad)
		}
	})

	return pipeline, sink, nil
}

// run drives the pipeline and processes bus messages until the connection
// ends. Closing the frame channel is the failure signal the camera loop
// watches for.
func (s *GstStream) run(ctx context.Context, pipeline *gst.Pipeline) {
	defer close(s.done)
	defer close(s.frames)
	defer s.setConnected(false)

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		slog.Error("stream pipeline start failed",
			"camera", s.camera,
			"error", err,
		)
		return
	}
	defer pipeline.SetState(gst.StateNull)

	bus := pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			slog.Info("stream pipeline cancelled", "camera", s.camera)
			return
		default:
		}

		msg := bus.TimedPop(busPollInterval)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			slog.Info("stream end of stream", "camera", s.camera)
			return

		case gst.MessageError:
			gerr := msg.ParseError()
			slog.Error("stream pipeline error",
				"camera", s.camera,
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
			)
			return

		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				_, current := msg.ParseStateChanged()
				if current == gst.StatePlaying {
					s.setConnected(true)
					slog.Info("stream connected",
						"camera", s.camera,
						"source", s.source,
					)
				}
			}
		}
	}
}

// onNewSample copies each mapped sample into an owned frame and hands it to
// the channel, dropping when the consumer lags. Runs on the GStreamer
// streaming thread.
func (s *GstStream) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowEOS
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowError
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	defer buffer.Unmap()

	if len(data) == 0 {
		return gst.FlowOK
	}

	width, height := s.frameDims(sink)
	if width <= 0 || height <= 0 {
		return gst.FlowOK
	}

	frameData := make([]byte, len(data))
	copy(frameData, data)

	frame := types.Frame{
		Seq:       atomic.AddUint64(&s.frameCount, 1),
		Timestamp: time.Now(),
		Width:     width,
		Height:    height,
		Data:      frameData,
		Camera:    s.camera,
		TraceID:   uuid.New().String(),
	}

	s.mu.Lock()
	s.lastAt = frame.Timestamp
	s.mu.Unlock()

	select {
	case s.frames <- frame:
	default:
		atomic.AddUint64(&s.dropped, 1)
		slog.Debug("stream frame dropped, channel full",
			"camera", s.camera,
			"seq", frame.Seq,
		)
	}

	return gst.FlowOK
}

// frameDims reads the negotiated frame size from the appsink pad caps on the
// first sample and caches it for the rest of the connection.
func (s *GstStream) frameDims(sink *app.Sink) (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.width > 0 && s.height > 0 {
		return s.width, s.height
	}

	pad := sink.Element.GetStaticPad("sink")
	if pad == nil {
		return 0, 0
	}
	caps := pad.GetCurrentCaps()
	if caps == nil || caps.GetSize() == 0 {
		return 0, 0
	}

	structure := caps.GetStructureAt(0)
	if v, err := structure.GetValue("width"); err == nil {
		if w, ok := v.(int); ok {
			s.width = w
		}
	}
	if v, err := structure.GetValue("height"); err == nil {
		if h, ok := v.(int); ok {
			s.height = h
		}
	}

	if s.width > 0 && s.height > 0 {
		slog.Info("stream caps negotiated",
			"camera", s.camera,
			"resolution", fmt.Sprintf("%dx%d", s.width, s.height),
		)
	}

	return s.width, s.height
}

// Stop cancels the connection and waits briefly for the pipeline to wind
// down.
func (s *GstStream) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel == nil {
		return fmt.Errorf("stream not started")
	}
	cancel()

	select {
	case <-s.done:
		slog.Info("stream stopped",
			"camera", s.camera,
			"frames", atomic.LoadUint64(&s.frameCount),
			"dropped", atomic.LoadUint64(&s.dropped),
			"uptime", time.Since(s.startedAt).Round(time.Millisecond),
		)
	case <-time.After(stopTimeout):
		slog.Warn("stream stop timeout, pipeline may still be running",
			"camera", s.camera,
		)
	}

	return nil
}

// Stats returns a snapshot of the connection's counters.
func (s *GstStream) Stats() types.StreamStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	frames := atomic.LoadUint64(&s.frameCount)

	var fps float64
	if !s.startedAt.IsZero() {
		if up := time.Since(s.startedAt).Seconds(); up > 0 {
			fps = float64(frames) / up
		}
	}

	var res string
	if s.width > 0 && s.height > 0 {
		res = fmt.Sprintf("%dx%d", s.width, s.height)
	}

	return types.StreamStats{
		Connected:   s.connected,
		FrameCount:  frames,
		Dropped:     atomic.LoadUint64(&s.dropped),
		FPSReal:     fps,
		LastFrameAt: s.lastAt,
		Resolution:  res,
	}
}

func (s *GstStream) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}
