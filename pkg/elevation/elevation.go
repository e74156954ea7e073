// pkg/elevation/elevation.go - make sure the run holds administrative rights.
//
// When the current token is not elevated the program relaunches itself with
// the runas verb, forwarding its arguments verbatim, and the caller exits.
// The parent never waits for or observes the elevated child.

package elevation

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/windowsadmins/patchrun/pkg/logging"
)

// Outcome of Guard.Ensure.
type Outcome int

const (
	// AlreadyElevated means the caller may continue.
	AlreadyElevated Outcome = iota
	// Relaunched means an elevated copy was started; the caller must exit 0.
	Relaunched
)

func (o Outcome) String() string {
	if o == Relaunched {
		return "relaunched"
	}
	return "already-elevated"
}

var (
	ErrSelfLocate       = errors.New("cannot determine own executable path")
	ErrLauncherNotFound = errors.New("relaunch target does not exist")
	ErrLaunch           = errors.New("elevated launch failed")
)

// Error describes a fatal elevation failure.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("elevation %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("elevation %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Platform is the OS surface the guard needs.
type Platform interface {
	IsElevated() (bool, error)
	Executable() (string, error)
	LaunchElevated(path string, args []string, dir string) error
}

// Guard performs the elevate-or-relaunch check.
type Guard struct {
	platform Platform
	log      *logging.Logger
	exists   func(string) bool
}

// NewGuard returns a guard for the running host.
func NewGuard(log *logging.Logger) *Guard {
	return NewGuardWithPlatform(systemPlatform{}, log)
}

// NewGuardWithPlatform is NewGuard with an explicit platform.
func NewGuardWithPlatform(p Platform, log *logging.Logger) *Guard {
	return &Guard{platform: p, log: log, exists: fileExists}
}

// Ensure returns AlreadyElevated when the token is elevated. Otherwise it
// launches an elevated copy with args (without the program name) and
// returns Relaunched. Any returned error is fatal for the run.
func (g *Guard) Ensure(args []string) (Outcome, error) {
	elevated, err := g.platform.IsElevated()
	if err != nil {
		g.log.Warn("Could not read token elevation, assuming not elevated", "error", err)
	}
	if elevated {
		g.log.Debug("Running with administrative rights")
		return AlreadyElevated, nil
	}

	self, err := g.platform.Executable()
	if err != nil || self == "" {
		if err == nil {
			err = ErrSelfLocate
		}
		return AlreadyElevated, &Error{Op: "self-locate", Err: errors.Join(ErrSelfLocate, err)}
	}
	if !g.exists(self) {
		return AlreadyElevated, &Error{Op: "resolve", Path: self, Err: ErrLauncherNotFound}
	}

	forwarded := append([]string(nil), args...)
	g.log.Info("Not elevated, relaunching with administrative rights", "path", self, "args", forwarded)
	if err := g.platform.LaunchElevated(self, forwarded, filepath.Dir(self)); err != nil {
		return AlreadyElevated, &Error{Op: "launch", Path: self, Err: errors.Join(ErrLaunch, err)}
	}
	return Relaunched, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// executable resolves the running binary through any symlinks.
func executable() (string, error) {
	self, err := os.Executable()
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(self); err == nil {
		return resolved, nil
	}
	return self, nil
}
