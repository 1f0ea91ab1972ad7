package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vigia.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
detector:
  script: detector/run.sh
  model: detector/model.tflite
cameras:
  - name: porch
    source: rtsp://10.0.0.2/stream
`

const fullConfig = `
instance_id: barn-1
shutdown_timeout_s: 10
capture:
  base_dir: /srv/vigia/captures
detector:
  script: detector/run.sh
  model: detector/model.tflite
  input_size: 300
  person_class: 1
  threshold: 0.6
  ready_timeout_s: 30
  infer_timeout_s: 2
notify:
  script_dir: /etc/vigia/hooks
cameras:
  - name: porch
    source: rtsp://10.0.0.2/stream
    monitor: true
    timelapse: true
    boundary: porch-boundary.csv
    trigger_frames: 3
    trigger_distance: 25.5
    preroll_frames: 300
    latency_ms: 100
  - name: yard
    source: file:///var/feeds/yard.mp4
emitter:
  broker: tcp://broker.local:1883
  qos: 1
store:
  path: /srv/vigia/events.db
archive:
  endpoint: minio.local:9000
  bucket: vigia-captures
  use_ssl: true
health:
  listen: ":9090"
`

// TestLoadAppliesDefaults checks that a minimal file gets the documented
// defaults filled in.
func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.InstanceID != "vigia" {
		t.Errorf("InstanceID = %q, want vigia", cfg.InstanceID)
	}
	if cfg.ShutdownTimeoutS != 5 {
		t.Errorf("ShutdownTimeoutS = %d, want 5", cfg.ShutdownTimeoutS)
	}
	if cfg.Capture.BaseDir != "captures" {
		t.Errorf("Capture.BaseDir = %q, want captures", cfg.Capture.BaseDir)
	}
	if cfg.Notify.ScriptDir != "." {
		t.Errorf("Notify.ScriptDir = %q, want .", cfg.Notify.ScriptDir)
	}
	det := cfg.Detector
	if det.InputSize != 320 || det.PersonClass != 0 || det.Threshold != 0.75 {
		t.Errorf("detector defaults = %+v", det)
	}
	if det.ReadyTimeoutS != 15 || det.InferTimeoutS != 5 {
		t.Errorf("detector timeout defaults = %+v", det)
	}
	cam := cfg.Cameras[0]
	if cam.TriggerFrames != 1 || cam.TriggerDistance != 0 {
		t.Errorf("trigger defaults = %+v", cam)
	}
	if cam.PrerollFrames != 150 {
		t.Errorf("PrerollFrames = %d, want 150", cam.PrerollFrames)
	}
	if cfg.Emitter != nil || cfg.Store != nil || cfg.Archive != nil {
		t.Error("optional sections should stay nil when absent")
	}
	if cfg.Health.Listen != "" {
		t.Errorf("Health.Listen = %q, want empty", cfg.Health.Listen)
	}
}

// TestLoadFullConfig checks that explicit values survive validation and
// dependent defaults derive from the instance id.
func TestLoadFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, fullConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.InstanceID != "barn-1" || cfg.ShutdownTimeoutS != 10 {
		t.Errorf("instance = %q timeout = %d", cfg.InstanceID, cfg.ShutdownTimeoutS)
	}
	if cfg.Capture.BaseDir != "/srv/vigia/captures" {
		t.Errorf("Capture.BaseDir = %q", cfg.Capture.BaseDir)
	}
	det := cfg.Detector
	if det.InputSize != 300 || det.PersonClass != 1 || det.Threshold != 0.6 {
		t.Errorf("detector = %+v", det)
	}
	if det.ReadyTimeoutS != 30 || det.InferTimeoutS != 2 {
		t.Errorf("detector timeouts = %+v", det)
	}
	if len(cfg.Cameras) != 2 {
		t.Fatalf("cameras = %d, want 2", len(cfg.Cameras))
	}
	porch := cfg.Cameras[0]
	if !porch.Monitor || !porch.Timelapse || porch.Boundary != "porch-boundary.csv" {
		t.Errorf("porch = %+v", porch)
	}
	if porch.TriggerFrames != 3 || porch.TriggerDistance != 25.5 {
		t.Errorf("porch trigger = %+v", porch)
	}
	if porch.PrerollFrames != 300 || porch.LatencyMS != 100 {
		t.Errorf("porch tuning = %+v", porch)
	}
	yard := cfg.Cameras[1]
	if yard.TriggerFrames != 1 || yard.PrerollFrames != 150 {
		t.Errorf("yard should get defaults, got %+v", yard)
	}
	if cfg.Emitter == nil || cfg.Emitter.ClientID != "barn-1" || cfg.Emitter.TopicPrefix != "vigia" {
		t.Errorf("emitter = %+v", cfg.Emitter)
	}
	if cfg.Store == nil || cfg.Store.Path != "/srv/vigia/events.db" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Archive == nil || cfg.Archive.Prefix != "barn-1" || !cfg.Archive.UseSSL {
		t.Errorf("archive = %+v", cfg.Archive)
	}
	if cfg.Health.Listen != ":9090" {
		t.Errorf("Health.Listen = %q", cfg.Health.Listen)
	}
}

// TestLoadRejectsInvalid covers the validator's error paths.
func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "no cameras",
			body: "detector:\n  script: run.sh\n  model: m.tflite\n",
			want: "at least one camera",
		},
		{
			name: "unnamed camera",
			body: minimalConfig + "  - source: rtsp://10.0.0.3/stream\n",
			want: "camera name is required",
		},
		{
			name: "camera name with spaces",
			body: "detector:\n  script: run.sh\n  model: m.tflite\ncameras:\n  - name: front porch\n    source: rtsp://x\n",
			want: "name must match",
		},
		{
			name: "duplicate camera names",
			body: minimalConfig + "  - name: porch\n    source: rtsp://10.0.0.3/stream\n",
			want: "duplicate name",
		},
		{
			name: "camera without source",
			body: "detector:\n  script: run.sh\n  model: m.tflite\ncameras:\n  - name: porch\n",
			want: "source is required",
		},
		{
			name: "missing detector script",
			body: "detector:\n  model: m.tflite\ncameras:\n  - name: porch\n    source: rtsp://x\n",
			want: "detector.script is required",
		},
		{
			name: "threshold out of range",
			body: "detector:\n  script: run.sh\n  model: m.tflite\n  threshold: 1.5\ncameras:\n  - name: porch\n    source: rtsp://x\n",
			want: "threshold must be in",
		},
		{
			name: "negative trigger distance",
			body: "detector:\n  script: run.sh\n  model: m.tflite\ncameras:\n  - name: porch\n    source: rtsp://x\n    trigger_distance: -1\n",
			want: "trigger_distance must be >= 0",
		},
		{
			name: "uppercase instance id",
			body: "instance_id: Barnatron\n" + minimalConfig,
			want: "instance_id must match",
		},
		{
			name: "emitter without broker",
			body: minimalConfig + "emitter:\n  qos: 1\n",
			want: "emitter.broker is required",
		},
		{
			name: "archive without bucket",
			body: minimalConfig + "archive:\n  endpoint: minio.local:9000\n",
			want: "archive.bucket is required",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Load error = %v, want containing %q", err, tc.want)
			}
		})
	}
}

// TestLoadMissingFile reports a read error for an absent path.
func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "failed to read") {
		t.Fatalf("err = %v, want read failure", err)
	}
}

// TestLoadUnparsableYAML reports a parse error for malformed input.
func TestLoadUnparsableYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "cameras: ["))
	if err == nil || !strings.Contains(err.Error(), "failed to parse") {
		t.Fatalf("err = %v, want parse failure", err)
	}
}

// TestFromFlags builds the single-camera configuration from command-line
// inputs.
func TestFromFlags(t *testing.T) {
	cfg, err := FromFlags(Flags{
		Source:    "rtsp://10.0.0.2/stream",
		Monitor:   true,
		Timelapse: true,
		Polygon:   "boundary.csv",
		Script:    "detector/run.sh",
		Model:     "detector/model.tflite",
	})
	if err != nil {
		t.Fatalf("FromFlags: %v", err)
	}
	if len(cfg.Cameras) != 1 {
		t.Fatalf("cameras = %d, want 1", len(cfg.Cameras))
	}
	cam := cfg.Cameras[0]
	if cam.Name != "cam" {
		t.Errorf("Name = %q, want cam", cam.Name)
	}
	if cam.Source != "rtsp://10.0.0.2/stream" {
		t.Errorf("Source = %q", cam.Source)
	}
	if !cam.Monitor || !cam.Timelapse || cam.Boundary != "boundary.csv" {
		t.Errorf("flags not carried over: %+v", cam)
	}
	if cam.TriggerFrames != 1 || cam.PrerollFrames != 150 {
		t.Errorf("camera defaults = %+v", cam)
	}
	if cfg.Capture.BaseDir != "captures" {
		t.Errorf("Capture.BaseDir = %q, want captures", cfg.Capture.BaseDir)
	}
}

// TestFromFlagsRequiresSource rejects an empty video source.
func TestFromFlagsRequiresSource(t *testing.T) {
	_, err := FromFlags(Flags{Script: "run.sh", Model: "m.tflite"})
	if err == nil || !strings.Contains(err.Error(), "source is required") {
		t.Fatalf("err = %v, want source error", err)
	}
}

// TestCaptureDirs derives the fixed output tree from the base directory.
func TestCaptureDirs(t *testing.T) {
	c := CaptureConfig{BaseDir: "captures"}
	if got, want := c.VideoDir(), filepath.Join("captures", "people", "video"); got != want {
		t.Errorf("VideoDir = %q, want %q", got, want)
	}
	if got, want := c.PhotoDir(), filepath.Join("captures", "people", "photos"); got != want {
		t.Errorf("PhotoDir = %q, want %q", got, want)
	}
	if got, want := c.TimelapseDir(), filepath.Join("captures", "timelapse"); got != want {
		t.Errorf("TimelapseDir = %q, want %q", got, want)
	}
}
