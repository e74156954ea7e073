//go:build windows

package census

import (
	"github.com/yusufpapurcu/wmi"
)

// Win32_UserProfile holds the fields read from WMI.
type Win32_UserProfile struct {
	LocalPath string
	Special   bool
}

// WMIProfiles lists non-special local user profiles through WMI.
type WMIProfiles struct{}

// Profiles returns profile directories such as C:\Users\jdoe.
func (WMIProfiles) Profiles() ([]string, error) {
	var profiles []Win32_UserProfile
	if err := wmi.Query("SELECT LocalPath, Special FROM Win32_UserProfile WHERE Special = FALSE", &profiles); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(profiles))
	for _, p := range profiles {
		if !p.Special && p.LocalPath != "" {
			out = append(out, p.LocalPath)
		}
	}
	return out, nil
}

// DefaultProfiles is the profile source for the running host.
func DefaultProfiles() ProfileSource { return WMIProfiles{} }
