//go:build !windows

package config

// loadPolicy is a no-op off Windows; there is no registry.
func loadPolicy(string, *Configuration) (bool, error) {
	return false, nil
}
