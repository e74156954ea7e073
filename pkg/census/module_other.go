//go:build !windows

package census

import (
	"fmt"
	"os"
)

// primaryModulePath reads the /proc exe link where available.
func primaryModulePath(pid int32) (string, error) {
	path, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
	if err != nil {
		return "", err
	}
	return path, nil
}
