//go:build windows

package chocolatey

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/windows/registry"
)

const machineEnvKey = `SYSTEM\CurrentControlSet\Control\Session Manager\Environment`

// RefreshPath rebuilds this process's PATH from the machine and user
// values stored in the registry, keeping any entries only present in the
// current environment.
func RefreshPath() error {
	machine, user, err := persistedPath()
	if err != nil {
		return err
	}
	return os.Setenv("PATH", MergePath(machine, user, os.Getenv("PATH")))
}

func persistedPath() (machine, user string, err error) {
	machine, err = readPath(registry.LOCAL_MACHINE, machineEnvKey)
	if err != nil {
		return "", "", fmt.Errorf("read machine PATH: %w", err)
	}
	user, err = readPath(registry.CURRENT_USER, "Environment")
	if err != nil {
		return "", "", fmt.Errorf("read user PATH: %w", err)
	}
	return machine, user, nil
}

// readPath returns the expanded Path value, or "" when the key or value
// does not exist.
func readPath(root registry.Key, path string) (string, error) {
	k, err := registry.OpenKey(root, path, registry.QUERY_VALUE)
	if err != nil {
		if errors.Is(err, registry.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	defer k.Close()

	value, valType, err := k.GetStringValue("Path")
	if err != nil {
		if errors.Is(err, registry.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	if valType == registry.EXPAND_SZ {
		if expanded, err := registry.ExpandString(value); err == nil {
			value = expanded
		}
	}
	return value, nil
}
