//go:build !windows

package chocolatey

import "os/exec"

func hideWindow(*exec.Cmd) {}
