//go:build !windows

package utils

import "os"

// CommandLineArgs returns os.Args off Windows.
func CommandLineArgs() []string {
	return os.Args
}
