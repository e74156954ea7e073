// pkg/powershell/powershell.go - locating and running the PowerShell engine.

package powershell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Editions accepted by Locate.
const (
	EditionDesktop = "desktop" // Windows PowerShell 5.1, powershell.exe
	EditionCore    = "core"    // PowerShell 7+, pwsh.exe
)

// ErrNotFound is returned when neither edition can be located.
var ErrNotFound = errors.New("neither powershell.exe nor pwsh.exe were found")

// Result is the captured outcome of one invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ExitError reports a non-zero exit code.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("powershell exited with code %d", e.Code)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + firstLine(s)
	}
	return msg
}

// Shell runs PowerShell script text or files.
type Shell interface {
	Run(ctx context.Context, script string) (Result, error)
	RunFile(ctx context.Context, path string, args ...string) (Result, error)
}

// lookPath is abstracted for testing.
var lookPath = exec.LookPath

// Locate finds the engine for the requested edition, falling back to the
// other edition when the preferred one is missing.
func Locate(edition string) (string, error) {
	desktop := []string{
		filepath.Join(systemRoot(), "System32", "WindowsPowerShell", "v1.0", "powershell.exe"),
		"powershell.exe",
	}
	core := []string{
		filepath.Join(programFiles(), "PowerShell", "7", "pwsh.exe"),
		"pwsh.exe",
	}

	order := append(desktop, core...)
	if strings.EqualFold(edition, EditionCore) {
		order = append(core, desktop...)
	}

	for _, candidate := range order {
		if filepath.IsAbs(candidate) || strings.ContainsRune(candidate, filepath.Separator) {
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, nil
			}
			continue
		}
		if found, err := lookPath(candidate); err == nil {
			return found, nil
		}
	}
	return "", ErrNotFound
}

// Engine is a Shell backed by a PowerShell executable.
type Engine struct {
	Path string
}

// New locates the engine for edition.
func New(edition string) (*Engine, error) {
	path, err := Locate(edition)
	if err != nil {
		return nil, err
	}
	return &Engine{Path: path}, nil
}

// Run executes script text with -Command.
func (e *Engine) Run(ctx context.Context, script string) (Result, error) {
	return e.exec(ctx, "", "-Command", script)
}

// RunFile executes a .ps1 file with -File and the given script arguments.
func (e *Engine) RunFile(ctx context.Context, path string, args ...string) (Result, error) {
	return e.exec(ctx, filepath.Dir(path), append([]string{"-File", path}, args...)...)
}

func (e *Engine) exec(ctx context.Context, dir string, args ...string) (Result, error) {
	base := []string{"-NoLogo", "-NoProfile", "-NonInteractive", "-ExecutionPolicy", "Bypass"}
	cmd := exec.CommandContext(ctx, e.Path, append(base, args...)...)
	cmd.Dir = dir
	hideWindow(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{
		Stdout: cleanOutput(stdout.String()),
		Stderr: cleanOutput(stderr.String()),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, &ExitError{Code: res.ExitCode, Stderr: res.Stderr}
		}
		return res, fmt.Errorf("running %s: %w", filepath.Base(e.Path), err)
	}
	return res, nil
}

// Quote returns s as a single-quoted PowerShell string literal.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// cleanOutput strips the BOM and colour escapes PowerShell sometimes emits.
func cleanOutput(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	s = strings.ReplaceAll(s, "\u001b[0m", "")
	return s
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

func systemRoot() string {
	if v := os.Getenv("SystemRoot"); v != "" {
		return v
	}
	return `C:\Windows`
}

func programFiles() string {
	if v := os.Getenv("ProgramW6432"); v != "" {
		return v
	}
	if v := os.Getenv("ProgramFiles"); v != "" {
		return v
	}
	return `C:\Program Files`
}
