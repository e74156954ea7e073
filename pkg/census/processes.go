package census

import (
	"context"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// SystemProcesses is a Lister over the live process table.
type SystemProcesses struct{}

// Find returns every process whose image name matches name, compared
// case-insensitively with or without the .exe extension.
func (SystemProcesses) Find(ctx context.Context, name string) ([]Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	var out []Process
	for _, p := range procs {
		procName, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		if MatchName(procName, name) {
			out = append(out, &systemProcess{proc: p})
		}
	}
	return out, nil
}

// Running reports whether any process matches name.
func (s SystemProcesses) Running(ctx context.Context, name string) (bool, error) {
	procs, err := s.Find(ctx, name)
	return len(procs) > 0, err
}

// MatchName compares an image name such as "chrome.exe" with a catalog
// name such as "chrome" or "chrome.exe".
func MatchName(processName, appName string) bool {
	processName = strings.ToLower(processName)
	appName = strings.ToLower(appName)
	if strings.HasSuffix(appName, ".exe") {
		return processName == appName
	}
	return processName == appName || processName == appName+".exe"
}

type systemProcess struct {
	proc *process.Process
}

func (p *systemProcess) PID() int32 { return p.proc.Pid }

func (p *systemProcess) Exe() (string, error) { return p.proc.Exe() }

func (p *systemProcess) ModulePath() (string, error) { return primaryModulePath(p.proc.Pid) }
