// pkg/utils/paths.go - utility functions for working with file paths.

package utils

import (
	"os"
	"regexp"
)

var percentVar = regexp.MustCompile(`%([A-Za-z0-9_()]+)%`)

// ExpandWindowsEnv replaces %NAME% references with environment values.
// Unknown variables are left in place so the path simply fails to exist.
func ExpandWindowsEnv(path string) string {
	return percentVar.ReplaceAllStringFunc(path, func(ref string) string {
		name := ref[1 : len(ref)-1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return ref
	})
}

// FileExists reports whether path names an existing regular file.
func FileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
