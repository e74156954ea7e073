//go:build windows

package utils

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// CommandLineArgs re-parses the raw Windows command line so that the
// returned slice matches what the caller typed, including quoted paths with
// spaces. It returns nil if the command line cannot be read.
func CommandLineArgs() []string {
	cmdLinePtr := windows.GetCommandLine()
	if cmdLinePtr == nil {
		return nil
	}
	var argc int32
	argvPtr, err := windows.CommandLineToArgv(cmdLinePtr, &argc)
	if err != nil || argvPtr == nil || argc < 1 {
		return nil
	}
	defer windows.LocalFree(windows.Handle(uintptr(unsafe.Pointer(argvPtr))))

	argvSlice := unsafe.Slice((**uint16)(unsafe.Pointer(argvPtr)), argc)

	args := make([]string, 0, argc)
	for _, p := range argvSlice {
		if p != nil {
			args = append(args, windows.UTF16PtrToString(p))
		}
	}
	return args
}
