package core

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/visiona/vigia/internal/config"
)

// Check is one startup validation result.
type Check struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// Readiness is the outcome of the startup validation pass. The
// supervisor refuses to spawn camera workers unless OK reports true.
type Readiness struct {
	Checks []Check `json:"checks"`
}

// OK reports whether every check passed.
func (r Readiness) OK() bool {
	for _, c := range r.Checks {
		if !c.OK {
			return false
		}
	}
	return true
}

// Err returns the failed checks as one error, or nil when all passed.
func (r Readiness) Err() error {
	var errs []error
	for _, c := range r.Checks {
		if !c.OK {
			errs = append(errs, fmt.Errorf("%s: %s", c.Name, c.Detail))
		}
	}
	return errors.Join(errs...)
}

// Preflight validates the environment a validated configuration expects:
// the capture directories, the detector files, and every referenced
// boundary file. Capture directories must already exist; the daemon
// never creates them, so a missing one points at an unmounted disk or a
// wrong working directory. The notifier check is informational and
// always passes.
func Preflight(cfg *config.Config, enabledNotifications []string) Readiness {
	var r Readiness

	r.Checks = append(r.Checks, checkDir("capture video directory", cfg.Capture.VideoDir()))
	r.Checks = append(r.Checks, checkDir("capture photo directory", cfg.Capture.PhotoDir()))

	timelapse := false
	for _, cam := range cfg.Cameras {
		if cam.Timelapse {
			timelapse = true
			break
		}
	}
	if timelapse {
		r.Checks = append(r.Checks, checkDir("timelapse directory", cfg.Capture.TimelapseDir()))
	}

	r.Checks = append(r.Checks, checkFile("detector script", cfg.Detector.Script))
	r.Checks = append(r.Checks, checkFile("detector model", cfg.Detector.Model))

	for _, cam := range cfg.Cameras {
		if cam.Boundary == "" {
			continue
		}
		r.Checks = append(r.Checks, checkFile(
			fmt.Sprintf("camera %s boundary file", cam.Name), cam.Boundary))
	}

	detail := "none enabled"
	if len(enabledNotifications) > 0 {
		detail = strings.Join(enabledNotifications, ", ")
	}
	r.Checks = append(r.Checks, Check{Name: "notification scripts", OK: true, Detail: detail})

	return r
}

func checkDir(name, path string) Check {
	info, err := os.Stat(path)
	switch {
	case err != nil:
		return Check{Name: name, Detail: fmt.Sprintf("'%s' does not exist at this location", path)}
	case !info.IsDir():
		return Check{Name: name, Detail: fmt.Sprintf("'%s' is not a directory", path)}
	}
	return Check{Name: name, OK: true, Detail: path}
}

func checkFile(name, path string) Check {
	info, err := os.Stat(path)
	switch {
	case err != nil:
		return Check{Name: name, Detail: fmt.Sprintf("'%s' does not exist", path)}
	case info.IsDir():
		return Check{Name: name, Detail: fmt.Sprintf("'%s' is a directory, not a file", path)}
	}
	return Check{Name: name, OK: true, Detail: path}
}
