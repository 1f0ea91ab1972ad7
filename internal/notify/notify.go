// Package notify invokes the operator's external notification scripts on
// event milestones. Scripts are probed once at startup; a missing script
// disables its notification, a present one is launched fire-and-forget.
package notify

import (
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
)

const (
	startScript    = "notify_start_person.sh"
	endScript      = "notify_end_person.sh"
	rolloverScript = "notify_timelapse_rollover.sh"
)

// Notifier fires external notifications. Implementations must never block
// the caller on the external process and must never fail the caller: launch
// problems are logged and swallowed.
type Notifier interface {
	// PersonEventStarted fires when a recording session opens, with the
	// first photo's path.
	PersonEventStarted(camera, photoPath string)
	// PersonEventEnded fires after a session's video is finalized, with
	// the best photo (or the first photo when no best exists) and the
	// video path.
	PersonEventEnded(camera, photoPath, videoPath string)
	// TimelapseRotated fires after an hourly rotation closes a timelapse
	// file, with the closed file's path.
	TimelapseRotated(camera, videoPath string)
}

// ScriptNotifier launches shell scripts from a directory, usually the
// working directory the daemon was started in.
type ScriptNotifier struct {
	dir             string
	startEnabled    bool
	endEnabled      bool
	rolloverEnabled bool
}

// NewScriptNotifier probes dir for the three notifier scripts and returns a
// notifier with the present ones enabled. An empty dir means the working
// directory.
func NewScriptNotifier(dir string) *ScriptNotifier {
	if dir == "" {
		dir = "."
	}
	n := &ScriptNotifier{dir: dir}

	exists := func(name string) bool {
		_, err := os.Stat(filepath.Join(dir, name))
		return err == nil
	}

	if n.startEnabled = exists(startScript); n.startEnabled {
		slog.Info("notifier script enabled", "script", startScript, "args", "<first-photo>")
	}
	if n.endEnabled = exists(endScript); n.endEnabled {
		slog.Info("notifier script enabled", "script", endScript, "args", "<photo> <video>")
	}
	if n.rolloverEnabled = exists(rolloverScript); n.rolloverEnabled {
		slog.Info("notifier script enabled", "script", rolloverScript, "args", "<timelapse-video>")
	}
	return n
}

// Enabled returns the names of the scripts found at startup.
func (n *ScriptNotifier) Enabled() []string {
	var names []string
	if n.startEnabled {
		names = append(names, startScript)
	}
	if n.endEnabled {
		names = append(names, endScript)
	}
	if n.rolloverEnabled {
		names = append(names, rolloverScript)
	}
	return names
}

// PersonEventStarted implements Notifier.
func (n *ScriptNotifier) PersonEventStarted(camera, photoPath string) {
	if !n.startEnabled {
		return
	}
	n.launch(camera, startScript, photoPath)
}

// PersonEventEnded implements Notifier.
func (n *ScriptNotifier) PersonEventEnded(camera, photoPath, videoPath string) {
	if !n.endEnabled {
		return
	}
	n.launch(camera, endScript, photoPath, videoPath)
}

// TimelapseRotated implements Notifier.
func (n *ScriptNotifier) TimelapseRotated(camera, videoPath string) {
	if !n.rolloverEnabled {
		return
	}
	n.launch(camera, rolloverScript, videoPath)
}

// launch starts a script without waiting for it. A goroutine reaps the
// process so it never lingers as a zombie; its exit status only gets logged.
func (n *ScriptNotifier) launch(camera, script string, args ...string) {
	slog.Info("calling notifier script", "camera", camera, "script", script, "args", args)

	cmd := exec.Command("./"+script, args...)
	cmd.Dir = n.dir
	if err := cmd.Start(); err != nil {
		slog.Error("failed to launch notifier script",
			"camera", camera,
			"script", script,
			"error", err,
		)
		return
	}

	go func() {
		if err := cmd.Wait(); err != nil {
			slog.Warn("notifier script exited with error",
				"camera", camera,
				"script", script,
				"error", err,
			)
		}
	}()
}

// Nop is a Notifier that does nothing.
type Nop struct{}

func (Nop) PersonEventStarted(camera, photoPath string) {}

func (Nop) PersonEventEnded(camera, photoPath, videoPath string) {}

func (Nop) TimelapseRotated(camera, videoPath string) {}
