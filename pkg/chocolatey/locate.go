package chocolatey

import (
	"os"
	"os/exec"
	"path/filepath"

	"github.com/windowsadmins/patchrun/pkg/utils"
)

// Locator resolves choco.exe. Well-known install locations are checked
// first, then %ChocolateyInstall%, then PATH; the first hit wins.
type Locator struct {
	candidates func() []string
	lookPath   func(string) (string, error)
	exists     func(string) bool
}

// NewLocator returns a locator for the running host.
func NewLocator() *Locator {
	return &Locator{
		candidates: wellKnownPaths,
		lookPath:   exec.LookPath,
		exists:     utils.FileExists,
	}
}

// Find returns the first existing choco.exe.
func (l *Locator) Find() (string, bool) {
	for _, candidate := range l.candidates() {
		if l.exists(candidate) {
			return candidate, true
		}
	}
	if found, err := l.lookPath("choco"); err == nil && l.exists(found) {
		return found, true
	}
	return "", false
}

func wellKnownPaths() []string {
	var paths []string
	if programData := os.Getenv("ProgramData"); programData != "" {
		paths = append(paths, filepath.Join(programData, "chocolatey", "bin", "choco.exe"))
	}
	paths = append(paths, `C:\ProgramData\chocolatey\bin\choco.exe`)
	if root := os.Getenv("ChocolateyInstall"); root != "" {
		paths = append(paths, filepath.Join(root, "bin", "choco.exe"))
	}
	return paths
}
