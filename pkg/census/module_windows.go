//go:build windows

package census

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// primaryModulePath reads the first entry of the process's module list,
// which is the executable image.
func primaryModulePath(pid int32) (string, error) {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPMODULE|windows.TH32CS_SNAPMODULE32, uint32(pid))
	if err != nil {
		return "", err
	}
	defer windows.CloseHandle(snap)

	var entry windows.ModuleEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))
	if err := windows.Module32First(snap, &entry); err != nil {
		return "", err
	}
	return windows.UTF16ToString(entry.ExePath[:]), nil
}
