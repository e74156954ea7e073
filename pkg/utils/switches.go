// pkg/utils/switches.go - PowerShell style switch compatibility.

package utils

import "strings"

// NormalizeSwitches rewrites PowerShell style switches such as -AutoReboot
// or -SkipChocolatey:$false into the pflag long form (--auto-reboot,
// --skip-chocolatey=false). aliases maps the lower-cased switch name without
// its dash to the long flag name. Arguments that are not known switches,
// including short flags like -v, are returned unchanged.
func NormalizeSwitches(args []string, aliases map[string]string) []string {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		out = append(out, normalizeSwitch(arg, aliases))
	}
	return out
}

func normalizeSwitch(arg string, aliases map[string]string) string {
	if !strings.HasPrefix(arg, "-") || strings.HasPrefix(arg, "--") || len(arg) < 3 {
		return arg
	}
	name, value, hasValue := strings.Cut(arg[1:], ":")
	long, ok := aliases[strings.ToLower(name)]
	if !ok {
		return arg
	}
	if !hasValue {
		return "--" + long
	}
	switch strings.ToLower(strings.TrimPrefix(value, "$")) {
	case "true", "1":
		return "--" + long + "=true"
	case "false", "0":
		return "--" + long + "=false"
	}
	return "--" + long + "=" + value
}
