//go:build windows

package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/windows/registry"
)

// loadPolicy overlays values from HKLM registry policy. It reports false
// when the key does not exist.
func loadPolicy(registryPath string, config *Configuration) (bool, error) {
	key, err := registry.OpenKey(registry.LOCAL_MACHINE, registryPath, registry.READ)
	if err != nil {
		if errors.Is(err, registry.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to open policy registry key %s: %w", registryPath, err)
	}
	defer key.Close()

	loadStringFromRegistry(key, "LogDir", &config.LogDir)
	loadStringFromRegistry(key, "LogLevel", &config.LogLevel)
	loadStringFromRegistry(key, "ChocolateyInstallURL", &config.ChocolateyInstallURL)
	loadStringFromRegistry(key, "PowerShellEdition", &config.PowerShellEdition)

	loadIntFromRegistry(key, "LogMaxSizeMB", &config.LogMaxSizeMB)
	loadIntFromRegistry(key, "LogMaxBackups", &config.LogMaxBackups)
	loadIntFromRegistry(key, "LogMaxAgeDays", &config.LogMaxAgeDays)
	loadIntFromRegistry(key, "RebootGraceSeconds", &config.RebootGraceSeconds)
	loadIntFromRegistry(key, "RestartPauseSeconds", &config.RestartPauseSeconds)

	loadBoolFromRegistry(key, "AutoReboot", &config.AutoReboot)
	loadBoolFromRegistry(key, "SkipChocolatey", &config.SkipChocolatey)
	loadBoolFromRegistry(key, "SkipWindowsUpdate", &config.SkipWindowsUpdate)
	loadBoolFromRegistry(key, "LogConsole", &config.LogConsole)

	loadStringArrayFromRegistry(key, "ChocolateyArgs", &config.ChocolateyArgs)

	return true, nil
}

func loadStringFromRegistry(key registry.Key, valueName string, target *string) {
	if val, _, err := key.GetStringValue(valueName); err == nil && val != "" {
		*target = val
	}
}

// loadBoolFromRegistry accepts "true"/"false", "1"/"0" strings or a DWORD.
func loadBoolFromRegistry(key registry.Key, valueName string, target *bool) {
	if val, _, err := key.GetStringValue(valueName); err == nil {
		if parsed, parseErr := strconv.ParseBool(val); parseErr == nil {
			*target = parsed
			return
		}
	}
	if val, _, err := key.GetIntegerValue(valueName); err == nil {
		*target = val != 0
	}
}

func loadIntFromRegistry(key registry.Key, valueName string, target *int) {
	if val, _, err := key.GetStringValue(valueName); err == nil {
		if parsed, parseErr := strconv.Atoi(val); parseErr == nil {
			*target = parsed
			return
		}
	}
	if val, _, err := key.GetIntegerValue(valueName); err == nil {
		*target = int(val)
	}
}

// loadStringArrayFromRegistry reads REG_MULTI_SZ, or a comma separated REG_SZ.
func loadStringArrayFromRegistry(key registry.Key, valueName string, target *[]string) {
	if vals, _, err := key.GetStringsValue(valueName); err == nil && len(vals) > 0 {
		if filtered := trimAll(vals); len(filtered) > 0 {
			*target = filtered
			return
		}
	}
	if val, _, err := key.GetStringValue(valueName); err == nil && val != "" {
		if filtered := trimAll(strings.Split(val, ",")); len(filtered) > 0 {
			*target = filtered
		}
	}
}

func trimAll(vals []string) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}
