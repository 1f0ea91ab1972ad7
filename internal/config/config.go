// Package config defines the vigiad configuration file model and the
// single-camera flag mode used when no file is given.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the complete vigiad configuration.
type Config struct {
	// InstanceID identifies this daemon in emitter topics, archive
	// prefixes and logs. Lowercase letters, digits and dashes.
	InstanceID       string         `yaml:"instance_id"`
	ShutdownTimeoutS int            `yaml:"shutdown_timeout_s"`
	Capture          CaptureConfig  `yaml:"capture"`
	Detector         DetectorConfig `yaml:"detector"`
	Notify           NotifyConfig   `yaml:"notify"`
	Cameras          []CameraConfig `yaml:"cameras"`
	Emitter          *EmitterConfig `yaml:"emitter,omitempty"`
	Store            *StoreConfig   `yaml:"store,omitempty"`
	Archive          *ArchiveConfig `yaml:"archive,omitempty"`
	Health           HealthConfig   `yaml:"health"`
}

// CameraConfig describes one supervised camera.
type CameraConfig struct {
	Name   string `yaml:"name"`
	Source string `yaml:"source"`
	// Monitor exposes the camera's latest frame on the preview endpoint.
	Monitor bool `yaml:"monitor"`
	// Timelapse enables the hourly-rotated timelapse recording.
	Timelapse bool `yaml:"timelapse"`
	// Boundary is a polygon CSV path, one "x,y" point per line. Empty
	// means the whole frame counts as inside.
	Boundary string `yaml:"boundary,omitempty"`
	// TriggerFrames and TriggerDistance gate activation: a window must
	// carry more than TriggerFrames qualifying frames whose centers
	// travel more than TriggerDistance pixels. Defaults 1 and 0.
	TriggerFrames   int     `yaml:"trigger_frames"`
	TriggerDistance float64 `yaml:"trigger_distance"`
	// PrerollFrames sizes the pre-event ring buffer (default: 150).
	PrerollFrames int `yaml:"preroll_frames"`
	// LatencyMS is the RTSP jitter buffer in milliseconds (default: 200).
	LatencyMS int `yaml:"latency_ms"`
}

// CaptureConfig locates the output tree. The directories must already
// exist when the daemon starts.
type CaptureConfig struct {
	BaseDir string `yaml:"base_dir"`
}

// VideoDir returns the person-event video directory.
func (c CaptureConfig) VideoDir() string { return filepath.Join(c.BaseDir, "people", "video") }

// PhotoDir returns the person-event photo directory.
func (c CaptureConfig) PhotoDir() string { return filepath.Join(c.BaseDir, "people", "photos") }

// TimelapseDir returns the timelapse video directory.
func (c CaptureConfig) TimelapseDir() string { return filepath.Join(c.BaseDir, "timelapse") }

// DetectorConfig configures the inference worker subprocess shared by all
// cameras.
type DetectorConfig struct {
	Script string `yaml:"script"`
	Model  string `yaml:"model"`
	// InputSize is the model's square input resolution (default: 320).
	InputSize int `yaml:"input_size"`
	// PersonClass is the class index accepted as a person (default: 0).
	PersonClass int `yaml:"person_class"`
	// Threshold is the exclusive score minimum (default: 0.75).
	Threshold     float32 `yaml:"threshold"`
	ReadyTimeoutS int     `yaml:"ready_timeout_s"`
	InferTimeoutS int     `yaml:"infer_timeout_s"`
}

// NotifyConfig locates the notifier scripts probed at startup.
type NotifyConfig struct {
	ScriptDir string `yaml:"script_dir"`
}

// EmitterConfig configures the optional MQTT event publisher. Credentials
// come from the environment (MQTT_USERNAME, MQTT_PASSWORD) so the file can
// be committed.
type EmitterConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// StoreConfig configures the optional embedded event store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// ArchiveConfig configures the optional capture upload to S3-compatible
// storage. Credentials come from the environment (MINIO_ACCESS_KEY,
// MINIO_SECRET_KEY).
type ArchiveConfig struct {
	Endpoint string `yaml:"endpoint"`
	Bucket   string `yaml:"bucket"`
	UseSSL   bool   `yaml:"use_ssl"`
	Prefix   string `yaml:"prefix"`
}

// HealthConfig configures the HTTP status server. An empty listen address
// disables it.
type HealthConfig struct {
	Listen string `yaml:"listen"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Flags carries the single-camera command-line inputs.
type Flags struct {
	Source    string
	Monitor   bool
	Timelapse bool
	Polygon   string
	Script    string
	Model     string
}

// FromFlags builds a one-camera configuration for running without a file.
func FromFlags(f Flags) (*Config, error) {
	cfg := &Config{
		Detector: DetectorConfig{
			Script: f.Script,
			Model:  f.Model,
		},
		Cameras: []CameraConfig{{
			Name:      "cam",
			Source:    f.Source,
			Monitor:   f.Monitor,
			Timelapse: f.Timelapse,
			Boundary:  f.Polygon,
		}},
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
