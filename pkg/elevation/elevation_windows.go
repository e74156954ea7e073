//go:build windows

package elevation

import (
	"strings"

	"golang.org/x/sys/windows"
)

type systemPlatform struct{}

// IsElevated checks the process token, then builtin Administrators
// membership for tokens that report no elevation type (e.g. SYSTEM).
func (systemPlatform) IsElevated() (bool, error) {
	if windows.GetCurrentProcessToken().IsElevated() {
		return true, nil
	}
	return adminCheck()
}

func (systemPlatform) Executable() (string, error) {
	return executable()
}

// LaunchElevated starts path with the runas verb, which may surface a UAC
// consent prompt. It does not wait for the child.
func (systemPlatform) LaunchElevated(path string, args []string, dir string) error {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = windows.EscapeArg(a)
	}

	verb, err := windows.UTF16PtrFromString("runas")
	if err != nil {
		return err
	}
	file, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return err
	}
	params, err := windows.UTF16PtrFromString(strings.Join(quoted, " "))
	if err != nil {
		return err
	}
	cwd, err := windows.UTF16PtrFromString(dir)
	if err != nil {
		return err
	}
	return windows.ShellExecute(0, verb, file, params, cwd, windows.SW_SHOWNORMAL)
}

// adminCheck verifies whether the current process is a member of the
// builtin Administrators group.
func adminCheck() (bool, error) {
	var adminSid *windows.SID
	err := windows.AllocateAndInitializeSid(
		&windows.SECURITY_NT_AUTHORITY,
		2,
		windows.SECURITY_BUILTIN_DOMAIN_RID,
		windows.DOMAIN_ALIAS_RID_ADMINS,
		0, 0, 0, 0, 0, 0,
		&adminSid)
	if err != nil {
		return false, err
	}
	defer windows.FreeSid(adminSid)
	token := windows.Token(0)
	return token.IsMember(adminSid)
}
