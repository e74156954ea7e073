//go:build !windows

package elevation

import (
	"errors"
	"os"
)

type systemPlatform struct{}

func (systemPlatform) IsElevated() (bool, error) {
	return os.Geteuid() == 0, nil
}

func (systemPlatform) Executable() (string, error) {
	return executable()
}

func (systemPlatform) LaunchElevated(string, []string, string) error {
	return errors.New("elevated relaunch is only supported on Windows")
}
