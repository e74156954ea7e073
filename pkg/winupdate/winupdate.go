// pkg/winupdate/winupdate.go - apply pending Windows updates.
//
// The PSWindowsUpdate module is tried first. Any failure on that path
// falls back once to the Windows Update Agent COM API.

package winupdate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/windowsadmins/patchrun/pkg/logging"
)

// DefaultRebootGrace is how long users get to save work before a forced reboot.
const DefaultRebootGrace = 60 * time.Second

// ErrPreferredUnavailable is returned when PSWindowsUpdate cannot be used.
var ErrPreferredUnavailable = errors.New("PSWindowsUpdate is unavailable")

// InstallMode selects how the preferred interface handles reboots.
type InstallMode int

const (
	// ModeSuppressReboot installs without rebooting.
	ModeSuppressReboot InstallMode = iota
	// ModeAutoReboot lets the installer reboot the machine itself.
	ModeAutoReboot
)

func (m InstallMode) String() string {
	if m == ModeAutoReboot {
		return "auto-reboot"
	}
	return "suppress-reboot"
}

// PendingUpdate describes one update offered by the preferred interface.
type PendingUpdate struct {
	KB    string `json:"KB"`
	Title string `json:"Title"`
}

// Preferred is the high level update management interface.
type Preferred interface {
	// Ensure makes the interface usable, installing it machine-wide if needed.
	Ensure(ctx context.Context) error
	ListPending(ctx context.Context) ([]PendingUpdate, error)
	InstallAll(ctx context.Context, mode InstallMode) error
	PendingReboot(ctx context.Context) (bool, error)
}

// Rebooter restarts the machine.
type Rebooter interface {
	Reboot(ctx context.Context) error
}

// Step is the OS update step.
type Step struct {
	preferred Preferred
	lowLevel  *LowLevel
	rebooter  Rebooter
	grace     time.Duration
	sleep     func(context.Context, time.Duration) error
	log       *logging.Logger
}

// New returns a step using preferred first and agent as the fallback. A
// non-positive grace uses DefaultRebootGrace.
func New(preferred Preferred, agent Agent, rebooter Rebooter, grace time.Duration, log *logging.Logger) *Step {
	if grace <= 0 {
		grace = DefaultRebootGrace
	}
	return &Step{
		preferred: preferred,
		lowLevel:  NewLowLevel(agent, log),
		rebooter:  rebooter,
		grace:     grace,
		sleep:     sleepContext,
		log:       log,
	}
}

// Apply installs all pending updates unless skip is set and reports
// whether a reboot is required. Failures are logged, never returned.
func (s *Step) Apply(ctx context.Context, skip, autoReboot bool) bool {
	if skip {
		s.log.Info("Skipping Windows Update")
		return false
	}

	rebootRequired, err := s.applyPreferred(ctx, autoReboot)
	if err == nil {
		return rebootRequired
	}
	s.log.Warn("PSWindowsUpdate path failed, falling back to the Windows Update Agent", "error", err)

	rebootRequired, err = s.lowLevel.Apply(ctx)
	if err != nil {
		s.log.Error("Windows Update failed", "error", err)
		return false
	}
	if rebootRequired && autoReboot {
		s.reboot(ctx)
	}
	return rebootRequired
}

func (s *Step) applyPreferred(ctx context.Context, autoReboot bool) (bool, error) {
	if s.preferred == nil {
		return false, ErrPreferredUnavailable
	}
	if err := s.preferred.Ensure(ctx); err != nil {
		return false, err
	}

	pending, err := s.preferred.ListPending(ctx)
	if err != nil {
		return false, fmt.Errorf("list pending updates: %w", err)
	}
	if len(pending) == 0 {
		s.log.Success("No pending Windows updates")
		return false, nil
	}
	s.log.Info("Pending Windows updates found", "count", len(pending))
	for _, u := range pending {
		s.log.Info("Pending update", "kb", u.KB, "title", u.Title)
	}

	if autoReboot {
		if err := s.preferred.InstallAll(ctx, ModeAutoReboot); err != nil {
			return false, fmt.Errorf("install updates: %w", err)
		}
		// The installer reboots on its own; getting here means it did not.
		s.log.Info("Windows updates installed, no reboot was performed")
		return false, nil
	}

	if err := s.preferred.InstallAll(ctx, ModeSuppressReboot); err != nil {
		return false, fmt.Errorf("install updates: %w", err)
	}
	rebootRequired, err := s.preferred.PendingReboot(ctx)
	if err != nil {
		return false, fmt.Errorf("query reboot status: %w", err)
	}
	s.log.Success("Windows updates installed", "reboot_required", rebootRequired)
	return rebootRequired, nil
}

func (s *Step) reboot(ctx context.Context) {
	s.log.Warn("Reboot required, restarting the computer", "grace", s.grace)
	if err := s.sleep(ctx, s.grace); err != nil {
		s.log.Warn("Reboot cancelled", "error", err)
		return
	}
	if s.rebooter == nil {
		s.log.Error("Reboot required but no rebooter is configured")
		return
	}
	if err := s.rebooter.Reboot(ctx); err != nil {
		s.log.Error("Failed to reboot", "error", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
