// pkg/orchestrator/orchestrator.go - run the maintenance steps in order.

package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/windowsadmins/patchrun/pkg/census"
	"github.com/windowsadmins/patchrun/pkg/logging"
)

// CensusTaker records the running applications before updates start.
type CensusTaker interface {
	Take(ctx context.Context, catalog []census.App) census.Snapshot
}

// PackageStep upgrades third-party packages.
type PackageStep interface {
	Run(ctx context.Context, skip bool) bool
}

// UpdateStep applies OS updates and reports whether a reboot is required.
type UpdateStep interface {
	Apply(ctx context.Context, skip, autoReboot bool) bool
}

// RestartStep relaunches recorded applications.
type RestartStep interface {
	Run(ctx context.Context, snapshot census.Snapshot, rebootRequired bool) int
}

// Options are the per-run switches.
type Options struct {
	AutoReboot        bool
	SkipChocolatey    bool
	SkipWindowsUpdate bool
	Catalog           []census.App
}

// RunResult is the state threaded through one run.
type RunResult struct {
	Snapshot                census.Snapshot
	PackageUpgradeAttempted bool
	OSUpdateAttempted       bool
	RebootRequired          bool
	Launched                int
	Elapsed                 time.Duration
}

// Runner sequences census, package upgrade, OS update and restart.
type Runner struct {
	census   CensusTaker
	packages PackageStep
	updates  UpdateStep
	restart  RestartStep
	log      *logging.Logger
	now      func() time.Time
}

// New returns a runner over the given steps.
func New(c CensusTaker, packages PackageStep, updates UpdateStep, restart RestartStep, log *logging.Logger) *Runner {
	return &Runner{
		census:   c,
		packages: packages,
		updates:  updates,
		restart:  restart,
		log:      log,
		now:      time.Now,
	}
}

// Run performs one maintenance pass. Steps log and absorb their own
// failures; an error is only returned when a step panics.
func (r *Runner) Run(ctx context.Context, opts Options) (res RunResult, err error) {
	start := r.now()
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("Unhandled failure during maintenance run", "panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("maintenance run aborted: %v", p)
		}
		res.Elapsed = r.now().Sub(start)
	}()

	r.log.Info("Starting maintenance run",
		"run_id", r.log.RunID(),
		"auto_reboot", opts.AutoReboot,
		"skip_chocolatey", opts.SkipChocolatey,
		"skip_windows_update", opts.SkipWindowsUpdate,
	)

	res.Snapshot = r.census.Take(ctx, opts.Catalog)
	if res.Snapshot.Len() == 0 {
		r.log.Success("No catalog applications are running")
	} else {
		r.log.Info("Recorded running applications", "count", res.Snapshot.Len())
	}

	res.PackageUpgradeAttempted = r.packages.Run(ctx, opts.SkipChocolatey)

	res.OSUpdateAttempted = !opts.SkipWindowsUpdate
	res.RebootRequired = r.updates.Apply(ctx, opts.SkipWindowsUpdate, opts.AutoReboot)

	res.Launched = r.restart.Run(ctx, res.Snapshot, res.RebootRequired)

	r.summarize(res, start)
	return res, nil
}

func (r *Runner) summarize(res RunResult, start time.Time) {
	r.log.Success("Maintenance run complete")
	r.log.Info("Run summary",
		"recorded", res.Snapshot.Len(),
		"relaunched", res.Launched,
		"packages_attempted", res.PackageUpgradeAttempted,
		"os_updates_attempted", res.OSUpdateAttempted,
		"reboot_required", res.RebootRequired,
		"elapsed", r.now().Sub(start).Round(time.Second),
	)
	if res.RebootRequired {
		r.log.Warn("A reboot is required to finish installing updates")
	}
}
