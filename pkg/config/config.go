// pkg/config/config.go - configuration settings for patchrun.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/windowsadmins/patchrun/pkg/census"
)

// DefaultConfigPath is where deployments drop an optional override file.
const DefaultConfigPath = `C:\ProgramData\PatchRun\Config.yaml`

// PolicyRegistryPath is the HKLM key read when no YAML file exists.
const PolicyRegistryPath = `SOFTWARE\PatchRun\Config`

// Sources reported in Configuration.Source.
const (
	SourceDefaults = "defaults"
	SourceFile     = "file"
	SourceRegistry = "registry"
)

// Configuration holds the configurable options for patchrun in YAML format.
type Configuration struct {
	LogDir        string `yaml:"LogDir"`
	LogLevel      string `yaml:"LogLevel"`
	LogMaxSizeMB  int    `yaml:"LogMaxSizeMB"`
	LogMaxBackups int    `yaml:"LogMaxBackups"`
	LogMaxAgeDays int    `yaml:"LogMaxAgeDays"`
	LogConsole    bool   `yaml:"LogConsole"`

	AutoReboot        bool `yaml:"AutoReboot"`
	SkipChocolatey    bool `yaml:"SkipChocolatey"`
	SkipWindowsUpdate bool `yaml:"SkipWindowsUpdate"`

	RebootGraceSeconds  int `yaml:"RebootGraceSeconds"`
	RestartPauseSeconds int `yaml:"RestartPauseSeconds"`

	ChocolateyInstallURL string   `yaml:"ChocolateyInstallURL"`
	ChocolateyArgs       []string `yaml:"ChocolateyArgs"`
	PowerShellEdition    string   `yaml:"PowerShellEdition"` // "desktop" or "core"

	Applications []census.App `yaml:"Applications"`

	// Where the values came from; not serialized.
	Source string `yaml:"-"`
	Path   string `yaml:"-"`
}

// GetDefaultConfig provides default configuration values.
func GetDefaultConfig() *Configuration {
	programData := os.Getenv("ProgramData")
	if programData == "" {
		programData = `C:\ProgramData`
	}
	return &Configuration{
		LogDir:               filepath.Join(programData, "PatchRun", "Logs"),
		LogLevel:             "INFO",
		LogMaxSizeMB:         5,
		LogMaxBackups:        10,
		LogMaxAgeDays:        90,
		LogConsole:           true,
		RebootGraceSeconds:   60,
		RestartPauseSeconds:  2,
		ChocolateyInstallURL: "https://community.chocolatey.org/install.ps1",
		ChocolateyArgs:       []string{"upgrade", "all", "-y", "--no-progress"},
		PowerShellEdition:    "desktop",
		Applications:         DefaultApplications(),
		Source:               SourceDefaults,
	}
}

// DefaultApplications is the built-in catalog of applications that are
// closed by updates and reopened afterwards.
func DefaultApplications() []census.App {
	return []census.App{
		{Name: "chrome", Paths: []string{
			`C:\Program Files\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
			`C:\Users\*\AppData\Local\Google\Chrome\Application\chrome.exe`,
		}},
		{Name: "msedge", Paths: []string{
			`C:\Program Files (x86)\Microsoft\Edge\Application\msedge.exe`,
			`C:\Program Files\Microsoft\Edge\Application\msedge.exe`,
		}},
		{Name: "firefox", Paths: []string{
			`C:\Program Files\Mozilla Firefox\firefox.exe`,
			`C:\Program Files (x86)\Mozilla Firefox\firefox.exe`,
		}},
		{Name: "Teams", Paths: []string{
			`C:\Users\*\AppData\Local\Microsoft\Teams\current\Teams.exe`,
		}},
		{Name: "ms-teams"},
		{Name: "OUTLOOK", Paths: []string{
			`C:\Program Files\Microsoft Office\root\Office16\OUTLOOK.EXE`,
			`C:\Program Files (x86)\Microsoft Office\root\Office16\OUTLOOK.EXE`,
		}},
		{Name: "slack", Paths: []string{
			`C:\Users\*\AppData\Local\slack\slack.exe`,
			`C:\Program Files\Slack\slack.exe`,
		}},
		{Name: "Zoom", Paths: []string{
			`C:\Users\*\AppData\Roaming\Zoom\bin\Zoom.exe`,
			`C:\Program Files\Zoom\bin\Zoom.exe`,
		}},
		{Name: "Acrobat", Paths: []string{
			`C:\Program Files\Adobe\Acrobat DC\Acrobat\Acrobat.exe`,
		}},
		{Name: "notepad++", Paths: []string{
			`C:\Program Files\Notepad++\notepad++.exe`,
		}},
	}
}

// LoadConfig loads the configuration from a YAML file. If the file does not
// exist it falls back to registry policy values, and finally to the defaults.
// An empty path means DefaultConfigPath.
func LoadConfig(path string) (*Configuration, error) {
	if path == "" {
		path = DefaultConfigPath
	}
	cfg := GetDefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing configuration file %s: %w", path, err)
		}
		cfg.Source = SourceFile
		cfg.Path = path
	case errors.Is(err, os.ErrNotExist):
		found, polErr := loadPolicy(PolicyRegistryPath, cfg)
		if polErr != nil {
			return nil, fmt.Errorf("loading registry policy: %w", polErr)
		}
		if found {
			cfg.Source = SourceRegistry
			cfg.Path = `HKLM\` + PolicyRegistryPath
		}
	default:
		return nil, fmt.Errorf("reading configuration file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks option ranges and that the application catalog has no
// duplicate or empty names.
func (c *Configuration) Validate() error {
	switch strings.ToUpper(c.LogLevel) {
	case "ERROR", "WARN", "SUCCESS", "INFO", "DEBUG":
	default:
		return fmt.Errorf("invalid LogLevel %q", c.LogLevel)
	}
	switch strings.ToLower(c.PowerShellEdition) {
	case "desktop", "core":
	default:
		return fmt.Errorf("invalid PowerShellEdition %q (want desktop or core)", c.PowerShellEdition)
	}
	if c.RebootGraceSeconds < 0 {
		return fmt.Errorf("RebootGraceSeconds must not be negative")
	}
	if c.RestartPauseSeconds < 0 {
		return fmt.Errorf("RestartPauseSeconds must not be negative")
	}
	if len(c.ChocolateyArgs) == 0 {
		return fmt.Errorf("ChocolateyArgs must not be empty")
	}

	seen := make(map[string]bool, len(c.Applications))
	for i, app := range c.Applications {
		name := strings.ToLower(strings.TrimSpace(app.Name))
		if name == "" {
			return fmt.Errorf("application %d has no name", i)
		}
		if seen[name] {
			return fmt.Errorf("application %q is listed more than once", app.Name)
		}
		seen[name] = true
	}
	return nil
}

// RebootGrace is the delay between announcing and forcing a reboot.
func (c *Configuration) RebootGrace() time.Duration {
	return time.Duration(c.RebootGraceSeconds) * time.Second
}

// RestartPause is the pause after each relaunched application.
func (c *Configuration) RestartPause() time.Duration {
	return time.Duration(c.RestartPauseSeconds) * time.Second
}

// Marshal renders the effective configuration for --show-config.
func (c *Configuration) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
