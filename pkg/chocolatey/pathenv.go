package chocolatey

import "strings"

// MergePath joins semicolon separated PATH lists in order, dropping empty
// and duplicate entries. Duplicates are matched case-insensitively and
// ignore a trailing backslash.
func MergePath(lists ...string) string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		for _, entry := range strings.Split(list, ";") {
			entry = strings.TrimSpace(entry)
			if entry == "" {
				continue
			}
			key := strings.ToLower(strings.TrimRight(entry, `\/`))
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, entry)
		}
	}
	return strings.Join(out, ";")
}
