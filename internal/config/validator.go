package config

import (
	"fmt"
	"regexp"
)

var (
	instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

	// Camera names end up in file names and URL paths.
	cameraNamePattern = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)
)

// Validate checks the configuration and fills defaults in place.
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		cfg.InstanceID = "vigia" // default
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5 // default
	}
	if cfg.Capture.BaseDir == "" {
		cfg.Capture.BaseDir = "captures" // default
	}
	if cfg.Notify.ScriptDir == "" {
		cfg.Notify.ScriptDir = "." // default
	}

	if err := validateDetector(&cfg.Detector); err != nil {
		return err
	}

	if len(cfg.Cameras) == 0 {
		return fmt.Errorf("at least one camera is required")
	}
	seen := make(map[string]bool, len(cfg.Cameras))
	for i := range cfg.Cameras {
		cam := &cfg.Cameras[i]
		if err := validateCamera(cam); err != nil {
			return err
		}
		if seen[cam.Name] {
			return fmt.Errorf("camera '%s': duplicate name", cam.Name)
		}
		seen[cam.Name] = true
	}

	if cfg.Emitter != nil {
		if cfg.Emitter.Broker == "" {
			return fmt.Errorf("emitter.broker is required")
		}
		if cfg.Emitter.QoS > 2 {
			return fmt.Errorf("emitter.qos must be 0, 1 or 2")
		}
		if cfg.Emitter.ClientID == "" {
			cfg.Emitter.ClientID = cfg.InstanceID // default
		}
		if cfg.Emitter.TopicPrefix == "" {
			cfg.Emitter.TopicPrefix = "vigia" // default
		}
	}

	if cfg.Store != nil && cfg.Store.Path == "" {
		cfg.Store.Path = "vigia.db" // default
	}

	if cfg.Archive != nil {
		if cfg.Archive.Endpoint == "" {
			return fmt.Errorf("archive.endpoint is required")
		}
		if cfg.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required")
		}
		if cfg.Archive.Prefix == "" {
			cfg.Archive.Prefix = cfg.InstanceID // default
		}
	}

	return nil
}

func validateDetector(det *DetectorConfig) error {
	if det.Script == "" {
		return fmt.Errorf("detector.script is required")
	}
	if det.Model == "" {
		return fmt.Errorf("detector.model is required")
	}
	if det.InputSize <= 0 {
		det.InputSize = 320 // default
	}
	if det.PersonClass < 0 {
		return fmt.Errorf("detector.person_class must be >= 0")
	}
	if det.Threshold == 0 {
		det.Threshold = 0.75 // default
	}
	if det.Threshold < 0 || det.Threshold >= 1 {
		return fmt.Errorf("detector.threshold must be in (0, 1)")
	}
	if det.ReadyTimeoutS <= 0 {
		det.ReadyTimeoutS = 15 // default
	}
	if det.InferTimeoutS <= 0 {
		det.InferTimeoutS = 5 // default
	}
	return nil
}

func validateCamera(cam *CameraConfig) error {
	if cam.Name == "" {
		return fmt.Errorf("camera name is required")
	}
	if !cameraNamePattern.MatchString(cam.Name) {
		return fmt.Errorf("camera '%s': name must match pattern [A-Za-z0-9_-]+", cam.Name)
	}
	if cam.Source == "" {
		return fmt.Errorf("camera '%s': source is required", cam.Name)
	}
	if cam.TriggerFrames <= 0 {
		cam.TriggerFrames = 1 // default
	}
	if cam.TriggerDistance < 0 {
		return fmt.Errorf("camera '%s': trigger_distance must be >= 0", cam.Name)
	}
	if cam.PrerollFrames <= 0 {
		cam.PrerollFrames = 150 // default
	}
	if cam.LatencyMS < 0 {
		return fmt.Errorf("camera '%s': latency_ms must be >= 0", cam.Name)
	}
	return nil
}
