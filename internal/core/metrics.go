package core

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments exported on /metrics.
//
// Counters are incremented at the point where the event happens. Stream
// and engine figures are mirrored from component stats snapshots by the
// stats loop, so those are gauges.
type Metrics struct {
	registry *prometheus.Registry

	SessionsStarted  *prometheus.CounterVec
	SessionsFinished *prometheus.CounterVec
	Rotations        *prometheus.CounterVec
	Restarts         *prometheus.CounterVec

	StreamConnected *prometheus.GaugeVec
	StreamFPS       *prometheus.GaugeVec
	FramesReceived  *prometheus.GaugeVec
	FramesDropped   *prometheus.GaugeVec

	EngineUp         prometheus.Gauge
	EngineInferences prometheus.Gauge
	EngineFailures   prometheus.Gauge
}

// NewMetrics builds a metrics set on its own registry so tests can hold
// several instances without collector name collisions.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		SessionsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vigia_sessions_started_total",
			Help: "Recording sessions opened, per camera.",
		}, []string{"camera"}),
		SessionsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vigia_sessions_finished_total",
			Help: "Recording sessions closed, per camera.",
		}, []string{"camera"}),
		Rotations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vigia_timelapse_rotations_total",
			Help: "Timelapse files rotated out, per camera.",
		}, []string{"camera"}),
		Restarts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vigia_camera_restarts_total",
			Help: "Camera worker restarts after stream failures.",
		}, []string{"camera"}),

		StreamConnected: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vigia_stream_connected",
			Help: "1 while the camera stream is delivering frames.",
		}, []string{"camera"}),
		StreamFPS: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vigia_stream_fps",
			Help: "Measured frame rate of the camera stream.",
		}, []string{"camera"}),
		FramesReceived: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vigia_stream_frames_received",
			Help: "Frames received from the camera since startup.",
		}, []string{"camera"}),
		FramesDropped: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vigia_stream_frames_dropped",
			Help: "Frames dropped because processing lagged behind.",
		}, []string{"camera"}),

		EngineUp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vigia_engine_up",
			Help: "1 while the inference engine process is running.",
		}),
		EngineInferences: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vigia_engine_inferences",
			Help: "Inference calls completed since startup.",
		}),
		EngineFailures: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vigia_engine_failures",
			Help: "Inference calls that failed since startup.",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
