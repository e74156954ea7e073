// cmd/patchrun/main.go

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/windowsadmins/patchrun/pkg/census"
	"github.com/windowsadmins/patchrun/pkg/chocolatey"
	"github.com/windowsadmins/patchrun/pkg/config"
	"github.com/windowsadmins/patchrun/pkg/elevation"
	"github.com/windowsadmins/patchrun/pkg/logging"
	"github.com/windowsadmins/patchrun/pkg/orchestrator"
	"github.com/windowsadmins/patchrun/pkg/powershell"
	"github.com/windowsadmins/patchrun/pkg/restart"
	"github.com/windowsadmins/patchrun/pkg/utils"
	"github.com/windowsadmins/patchrun/pkg/version"
	"github.com/windowsadmins/patchrun/pkg/winupdate"
)

// switchAliases maps PowerShell style switches to their long flag names.
var switchAliases = map[string]string{
	"autoreboot":        "auto-reboot",
	"skipchocolatey":    "skip-chocolatey",
	"skipwindowsupdate": "skip-windows-update",
	"showconfig":        "show-config",
	"config":            "config",
	"version":           "version",
}

type cliOptions struct {
	autoReboot        bool
	skipChocolatey    bool
	skipWindowsUpdate bool
	configPath        string
	showConfig        bool
	version           bool
	verbosity         int
}

// parseArgs parses args (without the program name). PowerShell style
// switches are accepted alongside the long flags.
func parseArgs(args []string) (*pflag.FlagSet, *cliOptions, error) {
	opts := &cliOptions{}
	fs := pflag.NewFlagSet("patchrun", pflag.ContinueOnError)
	fs.BoolVar(&opts.autoReboot, "auto-reboot", false, "Reboot automatically when Windows updates require it.")
	fs.BoolVar(&opts.skipChocolatey, "skip-chocolatey", false, "Do not upgrade Chocolatey packages.")
	fs.BoolVar(&opts.skipWindowsUpdate, "skip-windows-update", false, "Do not install Windows updates.")
	fs.StringVar(&opts.configPath, "config", config.DefaultConfigPath, "Path to the YAML configuration file.")
	fs.BoolVar(&opts.showConfig, "show-config", false, "Display the effective configuration and exit.")
	fs.BoolVar(&opts.version, "version", false, "Print the version and exit.")

	// Count the number of -v flags.
	fs.CountVarP(&opts.verbosity, "verbose", "v", "Increase verbosity (e.g. -v, -vv)")

	if err := fs.Parse(utils.NormalizeSwitches(args, switchAliases)); err != nil {
		return nil, nil, err
	}
	return fs, opts, nil
}

func main() {
	os.Exit(run())
}

func run() (code int) {
	var logger *logging.Logger
	defer func() {
		if p := recover(); p != nil {
			// logger may be nil here; a nil Logger still reaches stderr.
			logger.Error("Fatal error", "panic", p, "stack", string(debug.Stack()))
			code = 1
		}
	}()

	rawArgs := utils.CommandLineArgs()
	if len(rawArgs) == 0 {
		rawArgs = os.Args
	}
	rawArgs = rawArgs[1:]

	fs, opts, err := parseArgs(rawArgs)
	if err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	if opts.version {
		version.PrintFull()
		return 0
	}

	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	// Flags explicitly given on the command line win over file and policy.
	if fs.Changed("auto-reboot") {
		cfg.AutoReboot = opts.autoReboot
	}
	if fs.Changed("skip-chocolatey") {
		cfg.SkipChocolatey = opts.skipChocolatey
	}
	if fs.Changed("skip-windows-update") {
		cfg.SkipWindowsUpdate = opts.skipWindowsUpdate
	}

	// 0 => configured level, 1 => INFO, 2+ => DEBUG
	switch {
	case opts.verbosity == 1:
		cfg.LogLevel = "INFO"
	case opts.verbosity >= 2:
		cfg.LogLevel = "DEBUG"
	}
	if opts.verbosity > 0 {
		cfg.LogConsole = true
	}

	if opts.showConfig {
		out, err := cfg.Marshal()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render configuration: %v\n", err)
			return 1
		}
		fmt.Printf("# source: %s %s\n%s", cfg.Source, cfg.Path, out)
		return 0
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	logger, err = logging.New(logging.Options{
		Dir:        cfg.LogDir,
		Level:      level,
		Console:    cfg.LogConsole,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		return 1
	}
	defer logger.Close()

	logger.Info(version.Version().String(), "config_source", cfg.Source, "config_path", cfg.Path)

	outcome, err := elevation.NewGuard(logger).Ensure(rawArgs)
	if err != nil {
		logger.Error("Cannot obtain administrative rights", "error", err)
		return 1
	}
	if outcome == elevation.Relaunched {
		logger.Info("Elevated copy launched, exiting")
		return 0
	}

	// Handle system signals for graceful shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(signalChan)
	go func() {
		select {
		case sig := <-signalChan:
			logger.Warn("Signal received, stopping", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	start := time.Now()
	runner := newRunner(cfg, logger)
	res, err := runner.Run(ctx, orchestrator.Options{
		AutoReboot:        cfg.AutoReboot,
		SkipChocolatey:    cfg.SkipChocolatey,
		SkipWindowsUpdate: cfg.SkipWindowsUpdate,
		Catalog:           cfg.Applications,
	})
	recordSession(cfg.LogDir, logger, start, res, err)
	if err != nil {
		logger.Error("Maintenance run failed", "error", err)
		return 1
	}
	if res.RebootRequired && !cfg.AutoReboot {
		logger.Info("Run again with -AutoReboot, or reboot manually, to finish updating")
	}
	return 0
}

// newRunner wires the maintenance steps to the live system.
func newRunner(cfg *config.Configuration, logger *logging.Logger) *orchestrator.Runner {
	var shell powershell.Shell
	if engine, err := powershell.New(strings.ToLower(cfg.PowerShellEdition)); err != nil {
		logger.Warn("PowerShell not found, Chocolatey install and PSWindowsUpdate are unavailable", "error", err)
	} else {
		logger.Debug("Using PowerShell", "path", engine.Path)
		shell = engine
	}

	processes := census.SystemProcesses{}

	return orchestrator.New(
		census.New(processes, census.DefaultProfiles(), logger),
		chocolatey.New(cfg.ChocolateyArgs, chocolatey.NewScriptInstaller(cfg.ChocolateyInstallURL, shell, logger), logger),
		winupdate.New(
			winupdate.NewPSWindowsUpdate(shell, logger),
			winupdate.NewAgent(),
			winupdate.ShutdownRebooter{},
			cfg.RebootGrace(),
			logger,
		),
		restart.New(processes, restart.ProcessLauncher{}, cfg.RestartPause(), logger),
		logger,
	)
}

func recordSession(dir string, logger *logging.Logger, start time.Time, res orchestrator.RunResult, runErr error) {
	status := logging.StatusCompleted
	if runErr != nil {
		status = logging.StatusFailed
	}
	rec := logger.NewSessionRecord(start, time.Now(), status)
	rec.Recorded = res.Snapshot.Len()
	rec.Relaunched = res.Launched
	rec.PackagesAttempted = res.PackageUpgradeAttempted
	rec.OSUpdatesAttempted = res.OSUpdateAttempted
	rec.RebootRequired = res.RebootRequired
	if err := logging.AppendSession(dir, rec); err != nil {
		logger.Warn("Failed to write session record", "error", err)
	}
}
