package winupdate

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// ShutdownRebooter forces an immediate reboot with shutdown.exe.
type ShutdownRebooter struct{}

// Reboot asks Windows to restart now, closing applications without prompting.
func (ShutdownRebooter) Reboot(ctx context.Context) error {
	root := os.Getenv("SystemRoot")
	if root == "" {
		root = `C:\Windows`
	}
	cmd := exec.CommandContext(ctx, filepath.Join(root, "System32", "shutdown.exe"), "/r", "/f", "/t", "0")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("shutdown.exe: %w: %s", err, out)
	}
	return nil
}
