//go:build !windows

package chocolatey

// RefreshPath is a no-op off Windows.
func RefreshPath() error { return nil }
