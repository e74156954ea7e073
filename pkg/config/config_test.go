package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/windowsadmins/patchrun/pkg/census"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := GetDefaultConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 60*time.Second, cfg.RebootGrace())
	assert.Equal(t, 2*time.Second, cfg.RestartPause())
	assert.Equal(t, []string{"upgrade", "all", "-y", "--no-progress"}, cfg.ChocolateyArgs)
	assert.False(t, cfg.AutoReboot)
	assert.False(t, cfg.SkipChocolatey)
	assert.False(t, cfg.SkipWindowsUpdate)
	assert.NotEmpty(t, cfg.Applications)
	assert.Equal(t, SourceDefaults, cfg.Source)
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))

	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfig().ChocolateyArgs, cfg.ChocolateyArgs)
	assert.Equal(t, GetDefaultConfig().Applications, cfg.Applications)
}

func TestLoadConfigFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
AutoReboot: true
SkipChocolatey: true
RebootGraceSeconds: 300
LogLevel: debug
Applications:
  - Name: chrome
    Paths:
      - C:\Program Files\Google\Chrome\Application\chrome.exe
  - Name: slack
`)

	cfg, err := LoadConfig(path)

	require.NoError(t, err)
	assert.True(t, cfg.AutoReboot)
	assert.True(t, cfg.SkipChocolatey)
	assert.False(t, cfg.SkipWindowsUpdate)
	assert.Equal(t, 5*time.Minute, cfg.RebootGrace())
	assert.Equal(t, 2*time.Second, cfg.RestartPause(), "unset values keep their defaults")
	assert.Equal(t, []census.App{
		{Name: "chrome", Paths: []string{`C:\Program Files\Google\Chrome\Application\chrome.exe`}},
		{Name: "slack"},
	}, cfg.Applications)
	assert.Equal(t, SourceFile, cfg.Source)
	assert.Equal(t, path, cfg.Path)
}

func TestLoadConfigRejectsInvalidFiles(t *testing.T) {
	tests := map[string]string{
		"syntax":         "AutoReboot: [",
		"level":          "LogLevel: chatty",
		"edition":        "PowerShellEdition: ise",
		"negative grace": "RebootGraceSeconds: -1",
		"negative pause": "RestartPauseSeconds: -5",
		"empty args":     "ChocolateyArgs: []",
		"duplicate app":  "Applications:\n  - Name: chrome\n  - Name: Chrome\n",
		"unnamed app":    "Applications:\n  - Paths: [C:\\x.exe]\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestDefaultApplicationsAreUnique(t *testing.T) {
	cfg := &Configuration{
		LogLevel:          "INFO",
		PowerShellEdition: "desktop",
		ChocolateyArgs:    []string{"upgrade", "all"},
		Applications:      DefaultApplications(),
	}
	assert.NoError(t, cfg.Validate())
}

func TestMarshalOmitsSource(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Path = `C:\ProgramData\PatchRun\Config.yaml`

	out, err := cfg.Marshal()
	require.NoError(t, err)

	var back map[string]interface{}
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Contains(t, back, "RebootGraceSeconds")
	assert.NotContains(t, back, "Source")
	assert.NotContains(t, back, "Path")
}
