// pkg/restart/restart.go - relaunch applications recorded by the census.

package restart

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/windowsadmins/patchrun/pkg/census"
	"github.com/windowsadmins/patchrun/pkg/logging"
)

// DefaultPause separates consecutive launches.
const DefaultPause = 2 * time.Second

// Checker reports whether an application is running right now.
type Checker interface {
	Running(ctx context.Context, name string) (bool, error)
}

// Launcher starts an executable without waiting for it.
type Launcher interface {
	Launch(path string) error
}

// Step is the application restart step.
type Step struct {
	checker  Checker
	launcher Launcher
	pause    time.Duration
	sleep    func(time.Duration)
	log      *logging.Logger
}

// New returns a step that pauses for pause after each launch. A negative
// pause uses DefaultPause.
func New(checker Checker, launcher Launcher, pause time.Duration, log *logging.Logger) *Step {
	if pause < 0 {
		pause = DefaultPause
	}
	if launcher == nil {
		launcher = ProcessLauncher{}
	}
	return &Step{
		checker:  checker,
		launcher: launcher,
		pause:    pause,
		sleep:    time.Sleep,
		log:      log,
	}
}

// Run relaunches every snapshot entry that is not running, unless a reboot
// is pending. It returns the number of applications launched.
func (s *Step) Run(ctx context.Context, snapshot census.Snapshot, rebootRequired bool) int {
	if rebootRequired {
		s.log.Info("Reboot pending, not restarting applications", "recorded", snapshot.Len())
		return 0
	}
	if snapshot.Len() == 0 {
		s.log.Info("No applications to restart")
		return 0
	}

	launched := 0
	for _, entry := range snapshot.Entries() {
		running, err := s.checker.Running(ctx, entry.Name)
		if err != nil {
			s.log.Warn("Could not check whether application is running", "app", entry.Name, "error", err)
		}
		if running {
			s.log.Info("Application already running", "app", entry.Name)
			continue
		}

		if err := s.launcher.Launch(entry.Path); err != nil {
			s.log.Warn("Failed to restart application", "app", entry.Name, "path", entry.Path, "error", err)
			continue
		}
		launched++
		s.log.Success("Restarted application", "app", entry.Name, "path", entry.Path)
		if s.pause > 0 {
			s.sleep(s.pause)
		}
	}
	return launched
}

// ProcessLauncher starts executables detached from this process.
type ProcessLauncher struct{}

// Launch starts path in its own directory and lets it run on.
func (ProcessLauncher) Launch(path string) error {
	cmd := exec.Command(path)
	cmd.Dir = filepath.Dir(path)
	detach(cmd)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", path, err)
	}
	return cmd.Process.Release()
}
