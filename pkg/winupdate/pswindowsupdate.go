package winupdate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/windowsadmins/patchrun/pkg/logging"
	"github.com/windowsadmins/patchrun/pkg/powershell"
)

const moduleName = "PSWindowsUpdate"

// preamble runs before every script: each call is a fresh PowerShell
// process, so the module is imported every time.
const preamble = "$ErrorActionPreference = 'Stop'\n$ProgressPreference = 'SilentlyContinue'\n"

const importModule = "Import-Module " + moduleName + "\n"

// ensureScript installs the module for all users when it is missing.
const ensureScript = preamble + `
if (-not (Get-Module -ListAvailable -Name ` + moduleName + `)) {
    [Net.ServicePointManager]::SecurityProtocol = [Net.ServicePointManager]::SecurityProtocol -bor [Net.SecurityProtocolType]::Tls12
    if (-not (Get-PackageProvider -ListAvailable -Name NuGet -ErrorAction SilentlyContinue)) {
        Install-PackageProvider -Name NuGet -MinimumVersion 2.8.5.201 -Force -Scope AllUsers | Out-Null
    }
    Install-Module -Name ` + moduleName + ` -Force -Scope AllUsers -AllowClobber
}
` + importModule

const listScript = preamble + importModule + `
$updates = @(Get-WindowsUpdate | ForEach-Object { [pscustomobject]@{ KB = [string]$_.KB; Title = [string]$_.Title } })
ConvertTo-Json -InputObject $updates -Compress
`

const rebootStatusScript = preamble + importModule + `
[bool](Get-WURebootStatus -Silent)
`

// PSWindowsUpdate implements Preferred with the PSWindowsUpdate module.
type PSWindowsUpdate struct {
	shell powershell.Shell
	log   *logging.Logger
}

// NewPSWindowsUpdate returns the preferred interface running scripts with
// shell. A nil shell makes every call fail with ErrPreferredUnavailable.
func NewPSWindowsUpdate(shell powershell.Shell, log *logging.Logger) *PSWindowsUpdate {
	return &PSWindowsUpdate{shell: shell, log: log}
}

func (p *PSWindowsUpdate) run(ctx context.Context, script string) (powershell.Result, error) {
	if p.shell == nil {
		return powershell.Result{}, ErrPreferredUnavailable
	}
	return p.shell.Run(ctx, script)
}

// Ensure installs and imports the module.
func (p *PSWindowsUpdate) Ensure(ctx context.Context) error {
	p.log.Debug("Ensuring PSWindowsUpdate is installed")
	res, err := p.run(ctx, ensureScript)
	if err != nil {
		if res.Stderr != "" {
			p.log.Output("PSWindowsUpdate install errors", res.Stderr)
		}
		return fmt.Errorf("%w: %v", ErrPreferredUnavailable, err)
	}
	return nil
}

// ListPending returns the updates Get-WindowsUpdate offers.
func (p *PSWindowsUpdate) ListPending(ctx context.Context) ([]PendingUpdate, error) {
	res, err := p.run(ctx, listScript)
	if err != nil {
		return nil, err
	}
	return parsePending(res.Stdout)
}

// InstallAll accepts and installs every pending update.
func (p *PSWindowsUpdate) InstallAll(ctx context.Context, mode InstallMode) error {
	reboot := "-IgnoreReboot"
	if mode == ModeAutoReboot {
		reboot = "-AutoReboot"
	}
	script := preamble + importModule + "Install-WindowsUpdate -AcceptAll " + reboot + " -Confirm:$false | Out-String -Width 200\n"

	p.log.Info("Installing Windows updates with PSWindowsUpdate", "mode", mode)
	res, err := p.run(ctx, script)
	if res.Stdout != "" {
		p.log.Output("PSWindowsUpdate output", res.Stdout)
	}
	if res.Stderr != "" {
		p.log.Output("PSWindowsUpdate errors", res.Stderr)
	}
	return err
}

// PendingReboot reports Get-WURebootStatus.
func (p *PSWindowsUpdate) PendingReboot(ctx context.Context) (bool, error) {
	res, err := p.run(ctx, rebootStatusScript)
	if err != nil {
		return false, err
	}
	return parseBool(res.Stdout)
}

func parsePending(out string) ([]PendingUpdate, error) {
	out = strings.TrimSpace(out)
	if out == "" || out == "null" {
		return nil, nil
	}
	var updates []PendingUpdate
	if err := json.Unmarshal([]byte(out), &updates); err != nil {
		return nil, fmt.Errorf("parse pending updates: %w", err)
	}
	return updates, nil
}

func parseBool(out string) (bool, error) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	switch strings.ToLower(last) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, fmt.Errorf("unexpected reboot status %q", last)
}
