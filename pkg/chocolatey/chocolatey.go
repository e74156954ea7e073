// pkg/chocolatey/chocolatey.go - upgrade every Chocolatey managed package.
//
// The step is best effort: every failure is logged and swallowed so the
// Windows Update step still runs.

package chocolatey

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"

	version "github.com/hashicorp/go-version"

	"github.com/windowsadmins/patchrun/pkg/logging"
)

// DefaultArgs upgrades every installed package without prompting.
var DefaultArgs = []string{"upgrade", "all", "-y", "--no-progress"}

// minimumVersion is the first release that understands --no-progress.
var minimumVersion = version.Must(version.NewVersion("0.10.4"))

// Exit codes Chocolatey passes through from installers that need a reboot.
const (
	exitRebootInitiated = 1641
	exitRebootRequired  = 3010
)

// Runner starts a process and waits for it, streaming its output into the
// given writers. The returned code is only meaningful when err is nil.
type Runner interface {
	Run(ctx context.Context, exe string, args []string, stdout, stderr io.Writer) (int, error)
}

// Bootstrapper installs Chocolatey when it is missing.
type Bootstrapper interface {
	Install(ctx context.Context) error
}

// Step is the package upgrade step.
type Step struct {
	locator   *Locator
	bootstrap Bootstrapper
	runner    Runner
	args      []string
	tempDir   string
	log       *logging.Logger
}

// New returns a step that upgrades with args (DefaultArgs when empty) and
// uses bootstrap to install Chocolatey if no executable is found. A nil
// bootstrap disables the install attempt.
func New(args []string, bootstrap Bootstrapper, log *logging.Logger) *Step {
	if len(args) == 0 {
		args = DefaultArgs
	}
	return &Step{
		locator:   NewLocator(),
		bootstrap: bootstrap,
		runner:    execRunner{},
		args:      args,
		log:       log,
	}
}

// Run performs the upgrade unless skip is set. It reports whether the step
// was attempted; it never fails the caller.
func (s *Step) Run(ctx context.Context, skip bool) bool {
	if skip {
		s.log.Info("Skipping Chocolatey package upgrades")
		return false
	}

	exe, ok := s.locator.Find()
	if !ok {
		exe, ok = s.install(ctx)
		if !ok {
			return true
		}
	}
	s.log.Info("Using Chocolatey", "path", exe)

	s.checkVersion(ctx, exe)
	s.upgrade(ctx, exe)
	return true
}

func (s *Step) install(ctx context.Context) (string, bool) {
	if s.bootstrap == nil {
		s.log.Error("Chocolatey is not installed and no installer is configured")
		return "", false
	}
	s.log.Warn("Chocolatey not found, installing it")
	if err := s.bootstrap.Install(ctx); err != nil {
		s.log.Error("Chocolatey installation failed", "error", err)
		return "", false
	}
	exe, ok := s.locator.Find()
	if !ok {
		s.log.Error("Chocolatey still not found after installation, skipping package upgrades")
		return "", false
	}
	s.log.Success("Chocolatey installed", "path", exe)
	return exe, true
}

// checkVersion logs the Chocolatey version and warns when it predates the
// flags in use. Failures here never stop the upgrade.
func (s *Step) checkVersion(ctx context.Context, exe string) {
	var out bytes.Buffer
	code, err := s.runner.Run(ctx, exe, []string{"--version"}, &out, io.Discard)
	if err != nil || code != 0 {
		s.log.Debug("Could not read Chocolatey version", "exit_code", code, "error", err)
		return
	}
	raw := strings.TrimSpace(out.String())
	v, err := version.NewVersion(raw)
	if err != nil {
		s.log.Debug("Unparseable Chocolatey version", "version", raw, "error", err)
		return
	}
	s.log.Info("Chocolatey version", "version", v.String())
	if v.LessThan(minimumVersion) {
		s.log.Warn("Chocolatey is older than the minimum supported version", "version", v.String(), "minimum", minimumVersion.String())
	}
}

// upgrade runs Chocolatey with its output redirected to temporary capture
// files, appends both captures to the log afterwards and deletes them.
func (s *Step) upgrade(ctx context.Context, exe string) {
	stdout, err := os.CreateTemp(s.tempDir, "choco-stdout-*.log")
	if err != nil {
		s.log.Error("Failed to create Chocolatey output capture file", "error", err)
		return
	}
	defer os.Remove(stdout.Name())
	defer stdout.Close()

	stderr, err := os.CreateTemp(s.tempDir, "choco-stderr-*.log")
	if err != nil {
		s.log.Error("Failed to create Chocolatey error capture file", "error", err)
		return
	}
	defer os.Remove(stderr.Name())
	defer stderr.Close()

	s.log.Info("Upgrading Chocolatey packages", "args", strings.Join(s.args, " "))
	code, runErr := s.runner.Run(ctx, exe, s.args, stdout, stderr)

	stdout.Close()
	stderr.Close()
	s.appendCapture("Chocolatey output", stdout.Name())
	s.appendCapture("Chocolatey errors", stderr.Name())

	switch {
	case runErr != nil:
		s.log.Error("Failed to run Chocolatey", "path", exe, "error", runErr)
	case code == 0:
		s.log.Success("Chocolatey upgrade completed")
	case code == exitRebootInitiated || code == exitRebootRequired:
		s.log.Info("Chocolatey upgrade completed, a package reported a pending reboot", "exit_code", code)
	default:
		s.log.Warn("Chocolatey upgrade finished with a non-zero exit code", "exit_code", code)
	}
}

func (s *Step) appendCapture(title, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		s.log.Warn("Failed to read capture file", "path", path, "error", err)
		return
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return
	}
	s.log.Output(title, string(data))
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, exe string, args []string, stdout, stderr io.Writer) (int, error) {
	cmd := exec.CommandContext(ctx, exe, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	hideWindow(cmd)

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, err
	}
	return 0, nil
}
