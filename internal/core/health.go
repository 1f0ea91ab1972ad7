package core

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/visiona/vigia/internal/archive"
	"github.com/visiona/vigia/internal/detect"
	"github.com/visiona/vigia/internal/emitter"
	"github.com/visiona/vigia/internal/types"
	"github.com/visiona/vigia/internal/video"
)

// HealthStatus represents the health state of the daemon.
type HealthStatus struct {
	Status           string `json:"status"` // "healthy", "degraded", "unhealthy"
	UptimeSeconds    int64  `json:"uptime_seconds"`
	CamerasUp        int    `json:"cameras_up"`
	CamerasTotal     int    `json:"cameras_total"`
	EngineUp         bool   `json:"engine_up"`
	EmitterConnected bool   `json:"emitter_connected"`
}

// CameraStatus is one camera's live figures for the status API.
type CameraStatus struct {
	Connected   bool      `json:"connected"`
	FPS         float64   `json:"fps"`
	Frames      uint64    `json:"frames"`
	Dropped     uint64    `json:"dropped"`
	Restarts    uint64    `json:"restarts"`
	Resolution  string    `json:"resolution,omitempty"`
	LastFrameAt time.Time `json:"last_frame_at"`
}

// SystemStatus carries best-effort process host figures.
type SystemStatus struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryUsedMB  uint64  `json:"memory_used_mb"`
}

// StatusReport is the full /api/status payload.
type StatusReport struct {
	InstanceID    string                  `json:"instance_id"`
	Status        string                  `json:"status"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	Cameras       map[string]CameraStatus `json:"cameras"`
	Engine        detect.EngineStats      `json:"engine"`
	Emitter       *emitter.Stats          `json:"emitter,omitempty"`
	Archive       *archive.Stats          `json:"archive,omitempty"`
	System        SystemStatus            `json:"system"`
}

// HealthCheck returns the current health of the daemon. Degraded means
// running with a disconnected camera, engine, or emitter.
func (v *Vigia) HealthCheck() HealthStatus {
	v.mu.RLock()
	running := v.isRunning
	started := v.started
	v.mu.RUnlock()

	status := HealthStatus{
		Status:       "healthy",
		CamerasTotal: len(v.cfg.Cameras),
	}
	if !started.IsZero() {
		status.UptimeSeconds = int64(time.Since(started).Seconds())
	}

	for _, r := range v.runners {
		if r.loop.Stats().Connected {
			status.CamerasUp++
		}
	}
	status.EngineUp = v.engine.Stats().Active

	emitterOK := true
	if v.emitter != nil {
		status.EmitterConnected = v.emitter.Stats().Connected
		emitterOK = status.EmitterConnected
	}

	switch {
	case !running:
		status.Status = "unhealthy"
	case !status.EngineUp || status.CamerasUp < status.CamerasTotal || !emitterOK:
		status.Status = "degraded"
	}
	return status
}

// Status returns the full status report served on /api/status.
func (v *Vigia) Status() StatusReport {
	health := v.HealthCheck()

	report := StatusReport{
		InstanceID:    v.cfg.InstanceID,
		Status:        health.Status,
		UptimeSeconds: health.UptimeSeconds,
		Cameras:       make(map[string]CameraStatus, len(v.runners)),
		Engine:        v.engine.Stats(),
		System:        systemStatus(),
	}

	for _, r := range v.runners {
		st := r.loop.Stats()
		report.Cameras[r.loop.Name()] = CameraStatus{
			Connected:   st.Connected,
			FPS:         st.FPSReal,
			Frames:      st.FrameCount,
			Dropped:     st.Dropped,
			Restarts:    r.restarts.Load(),
			Resolution:  st.Resolution,
			LastFrameAt: st.LastFrameAt,
		}
	}

	if v.emitter != nil {
		s := v.emitter.Stats()
		report.Emitter = &s
	}
	if v.archive != nil {
		s := v.archive.Stats()
		report.Archive = &s
	}
	return report
}

// systemStatus samples host figures, best effort.
func systemStatus() SystemStatus {
	var s SystemStatus
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		s.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		s.MemoryPercent = vm.UsedPercent
		s.MemoryUsedMB = vm.Used / 1024 / 1024
	}
	return s
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// LivenessHandler handles /healthz: 200 whenever the process is alive.
func (v *Vigia) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	v.mu.RLock()
	started := v.started
	v.mu.RUnlock()

	uptime := int64(0)
	if !started.IsZero() {
		uptime = int64(time.Since(started).Seconds())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "alive",
		"uptime": uptime,
	})
}

// ReadinessHandler handles /readyz: 503 while unhealthy, 200 otherwise.
// Degraded still reports ready.
func (v *Vigia) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	health := v.HealthCheck()

	code := http.StatusOK
	if health.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, health)
}

// StatusHandler handles /api/status.
func (v *Vigia) StatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, v.Status())
}

// EventsHandler handles /api/events, backed by the event store. Filters:
// ?camera=, ?since= (RFC 3339), ?limit= (default 50, max 500).
func (v *Vigia) EventsHandler(w http.ResponseWriter, r *http.Request) {
	if v.store == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "event store not configured"})
		return
	}

	camera := r.URL.Query().Get("camera")

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = min(n, 500)
	}

	var since *time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid since, want RFC 3339"})
			return
		}
		since = &t
	}

	events, err := v.store.ListEvents(camera, since, limit)
	if err != nil {
		slog.Error("failed to list events", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "event query failed"})
		return
	}
	if events == nil {
		events = []types.PersonEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// PreviewHandler handles /api/cameras/{camera}/preview: the camera's most
// recent frame as a JPEG. The latest detection box, when there is one,
// rides along in the X-Vigia-Detection header so the pixels stay clean.
func (v *Vigia) PreviewHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["camera"]

	var runner *cameraRunner
	for _, c := range v.runners {
		if c.loop.Name() == name {
			runner = c
			break
		}
	}
	if runner == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown camera"})
		return
	}

	frame, det, ok := runner.loop.Snapshot()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no frame available yet"})
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("X-Vigia-Frame-Time", frame.Timestamp.Format(time.RFC3339))
	if det != nil {
		w.Header().Set("X-Vigia-Detection",
			fmt.Sprintf("%d,%d,%d,%d", det.X, det.Y, det.Width, det.Height))
	}
	if err := video.EncodeJPEG(w, frame); err != nil {
		slog.Error("failed to encode preview", "camera", name, "error", err)
	}
}

// startAPIServer serves the health probes, Prometheus metrics, and the
// status API. It does not block; listen failures are logged.
func (v *Vigia) startAPIServer(listen string) {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", v.LivenessHandler).Methods(http.MethodGet)
	r.HandleFunc("/readyz", v.ReadinessHandler).Methods(http.MethodGet)
	r.Handle("/metrics", v.metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/api/status", v.StatusHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/events", v.EventsHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/cameras/{camera}/preview", v.PreviewHandler).Methods(http.MethodGet)

	v.server = &http.Server{
		Addr:         listen,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("starting api server",
		"listen", listen,
		"endpoints", []string{"/healthz", "/readyz", "/metrics", "/api/status", "/api/events"},
	)

	go func() {
		if err := v.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("api server failed", "error", err)
		}
	}()
}
