// Package core wires the configured cameras, the shared detector engine,
// and the optional event backends into one supervised daemon.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/visiona/vigia/internal/archive"
	"github.com/visiona/vigia/internal/boundary"
	"github.com/visiona/vigia/internal/camera"
	"github.com/visiona/vigia/internal/config"
	"github.com/visiona/vigia/internal/detect"
	"github.com/visiona/vigia/internal/emitter"
	"github.com/visiona/vigia/internal/notify"
	"github.com/visiona/vigia/internal/store"
	"github.com/visiona/vigia/internal/stream"
	"github.com/visiona/vigia/internal/trigger"
)

const (
	// restartBackoff is the fixed delay between camera worker restarts.
	restartBackoff = 10 * time.Second
	// statsInterval is how often stream and engine figures are mirrored
	// into metrics.
	statsInterval = 10 * time.Second
)

// cameraRunner pairs a camera loop with its supervision counter.
type cameraRunner struct {
	loop     *camera.Loop
	restarts atomic.Uint64
}

// Vigia is the daemon orchestrator.
type Vigia struct {
	cfg *config.Config

	// Core components
	engine   *detect.Engine
	adapter  *detect.Adapter
	notifier *notify.ScriptNotifier
	metrics  *Metrics
	runners  []*cameraRunner

	// Optional backends
	emitter *emitter.MQTTEmitter
	store   *store.Store
	archive *archive.Uploader
	sink    *EventSink

	server *http.Server

	// Lifecycle management
	started   time.Time
	mu        sync.RWMutex
	wg        sync.WaitGroup
	isRunning bool
	cancelRun context.CancelCauseFunc
}

// New builds the orchestrator from a validated configuration. Everything
// that touches the environment (preflight, the detector subprocess,
// backend connections, camera workers) happens in Run.
func New(cfg *config.Config) (*Vigia, error) {
	engine, err := detect.NewEngine(detect.EngineConfig{
		Script:       cfg.Detector.Script,
		Model:        cfg.Detector.Model,
		ReadyTimeout: time.Duration(cfg.Detector.ReadyTimeoutS) * time.Second,
		InferTimeout: time.Duration(cfg.Detector.InferTimeoutS) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create detector engine: %w", err)
	}

	adapter := detect.NewAdapter(engine, detect.AdapterConfig{
		InputSize:   cfg.Detector.InputSize,
		PersonClass: cfg.Detector.PersonClass,
		Threshold:   cfg.Detector.Threshold,
	})

	return &Vigia{
		cfg:      cfg,
		engine:   engine,
		adapter:  adapter,
		notifier: notify.NewScriptNotifier(cfg.Notify.ScriptDir),
		metrics:  NewMetrics(),
	}, nil
}

// Run starts the daemon and blocks until the context is cancelled or a
// camera worker fails fatally. On a fatal worker failure the returned
// error is the worker's.
func (v *Vigia) Run(ctx context.Context) error {
	v.mu.Lock()
	if v.isRunning {
		v.mu.Unlock()
		return fmt.Errorf("service is already running")
	}
	v.isRunning = true
	v.started = time.Now()
	v.mu.Unlock()

	// Cancellable with a cause so a fatal camera failure can take the
	// whole daemon down through the normal exit path.
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	v.mu.Lock()
	v.cancelRun = cancel
	v.mu.Unlock()

	slog.Info("vigia starting",
		"instance_id", v.cfg.InstanceID,
		"cameras", len(v.cfg.Cameras),
	)

	ready := Preflight(v.cfg, v.notifier.Enabled())
	for _, c := range ready.Checks {
		if c.OK {
			slog.Info("preflight check passed", "check", c.Name, "detail", c.Detail)
		} else {
			slog.Error("preflight check failed", "check", c.Name, "detail", c.Detail)
		}
	}
	if err := ready.Err(); err != nil {
		return fmt.Errorf("preflight failed: %w", err)
	}

	if err := v.engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start detector engine: %w", err)
	}

	if v.cfg.Emitter != nil {
		em := emitter.NewMQTTEmitter(*v.cfg.Emitter, v.cfg.InstanceID)
		if err := em.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect mqtt: %w", err)
		}
		v.emitter = em
	}
	if v.cfg.Store != nil {
		st, err := store.Open(v.cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("failed to open event store: %w", err)
		}
		v.store = st
	}
	if v.cfg.Archive != nil {
		up, err := archive.NewUploader(ctx, *v.cfg.Archive)
		if err != nil {
			return fmt.Errorf("failed to connect archive: %w", err)
		}
		v.archive = up
	}
	v.sink = NewEventSink(v.metrics, v.emitter, v.store, v.archive)

	if err := v.buildRunners(); err != nil {
		return err
	}

	for _, r := range v.runners {
		v.wg.Add(1)
		go v.supervise(ctx, r)
	}

	v.wg.Add(1)
	go v.statsLoop(ctx)

	if v.cfg.Health.Listen != "" {
		v.startAPIServer(v.cfg.Health.Listen)
	}

	slog.Info("vigia running",
		"cameras", len(v.runners),
		"api", v.cfg.Health.Listen,
	)

	<-ctx.Done()

	if err := context.Cause(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("vigia run loop exiting after fatal error", "error", err)
		return err
	}
	slog.Info("vigia run loop exiting")
	return nil
}

// buildRunners loads each camera's boundary and constructs its loop. Any
// failure here is a startup failure.
func (v *Vigia) buildRunners() error {
	for _, cam := range v.cfg.Cameras {
		var poly boundary.Polygon
		if cam.Boundary != "" {
			p, err := boundary.Load(cam.Boundary)
			if err != nil {
				return fmt.Errorf("camera %s: %w", cam.Name, err)
			}
			poly = p
		}

		name := cam.Name
		source := cam.Source
		latency := time.Duration(cam.LatencyMS) * time.Millisecond

		timelapseDir := ""
		if cam.Timelapse {
			timelapseDir = v.cfg.Capture.TimelapseDir()
		}

		loop, err := camera.New(camera.Config{
			Name:     name,
			Boundary: poly,
			Trigger: trigger.Config{
				TriggerFrames:   cam.TriggerFrames,
				TriggerDistance: cam.TriggerDistance,
			},
			Monitor:      cam.Monitor,
			VideoDir:     v.cfg.Capture.VideoDir(),
			PhotoDir:     v.cfg.Capture.PhotoDir(),
			TimelapseDir: timelapseDir,
			Provider: func() (stream.Provider, error) {
				return stream.NewGstStream(stream.GstConfig{
					Camera:  name,
					Source:  source,
					Latency: latency,
				})
			},
			Adapter:      v.adapter,
			Notifier:     v.notifier,
			Events:       v.sink,
			RingCapacity: cam.PrerollFrames,
		})
		if err != nil {
			return fmt.Errorf("camera %s: %w", cam.Name, err)
		}
		v.runners = append(v.runners, &cameraRunner{loop: loop})
	}
	return nil
}

// supervise runs one camera loop, restarting it after stream failures
// until the context ends. A fatal loop error takes the daemon down.
func (v *Vigia) supervise(ctx context.Context, r *cameraRunner) {
	defer v.wg.Done()

	name := r.loop.Name()
	for {
		err := r.loop.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, camera.ErrFatal) {
			slog.Error("camera worker failed fatally", "camera", name, "error", err)
			v.cancelRun(fmt.Errorf("camera %s: %w", name, err))
			return
		}

		r.restarts.Add(1)
		v.metrics.Restarts.WithLabelValues(name).Inc()
		slog.Warn("camera worker stopped, restarting",
			"camera", name,
			"error", err,
			"backoff_s", int(restartBackoff.Seconds()),
			"restarts", r.restarts.Load(),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(restartBackoff):
		}
	}
}

// statsLoop mirrors stream and engine snapshots into the metrics gauges.
func (v *Vigia) statsLoop(ctx context.Context) {
	defer v.wg.Done()

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, r := range v.runners {
				name := r.loop.Name()
				st := r.loop.Stats()

				connected := 0.0
				if st.Connected {
					connected = 1
				}
				v.metrics.StreamConnected.WithLabelValues(name).Set(connected)
				v.metrics.StreamFPS.WithLabelValues(name).Set(st.FPSReal)
				v.metrics.FramesReceived.WithLabelValues(name).Set(float64(st.FrameCount))
				v.metrics.FramesDropped.WithLabelValues(name).Set(float64(st.Dropped))
			}

			es := v.engine.Stats()
			up := 0.0
			if es.Active {
				up = 1
			}
			v.metrics.EngineUp.Set(up)
			v.metrics.EngineInferences.Set(float64(es.Inferences))
			v.metrics.EngineFailures.Set(float64(es.Failures))
		}
	}
}

// Shutdown performs the graceful shutdown of all components. The run
// context must already be cancelled; callers bound the wait with ctx.
func (v *Vigia) Shutdown(ctx context.Context) error {
	v.mu.Lock()
	if !v.isRunning {
		v.mu.Unlock()
		return nil
	}
	v.mu.Unlock()

	slog.Info("shutting down vigia")

	// Shutdown sequence (order is important!):
	// 1. Stop the API server so probes stop reporting ready.
	if v.server != nil {
		if err := v.server.Shutdown(ctx); err != nil {
			slog.Error("failed to stop api server", "error", err)
		}
	}

	// 2. Wait for camera workers; each one flushes its open session and
	//    timelapse on the way out.
	slog.Info("waiting for camera workers to finish")
	v.wg.Wait()
	slog.Info("all camera workers finished")

	// 3. Stop the detector subprocess.
	if err := v.engine.Stop(); err != nil {
		slog.Error("failed to stop detector engine", "error", err)
	}

	// 4. Drain the event sink so queued publishes and uploads land.
	if v.sink != nil {
		v.sink.Close()
	}

	// 5. Disconnect the backends.
	if v.emitter != nil {
		v.emitter.Disconnect()
	}
	if v.store != nil {
		if err := v.store.Close(); err != nil {
			slog.Error("failed to close event store", "error", err)
		}
	}

	v.mu.Lock()
	uptime := time.Since(v.started)
	v.isRunning = false
	v.mu.Unlock()

	slog.Info("vigia shutdown complete", "uptime", uptime)
	return nil
}

// ShutdownTimeout returns the configured graceful shutdown timeout.
func (v *Vigia) ShutdownTimeout() time.Duration {
	timeout := time.Duration(v.cfg.ShutdownTimeoutS) * time.Second
	if timeout == 0 {
		return 5 * time.Second
	}
	return timeout
}
