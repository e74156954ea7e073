// pkg/census/census.go - snapshot of which catalog applications are running.
//
// The snapshot is taken once, before any update step runs, and is the only
// input to the restart step afterwards.

package census

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	"github.com/windowsadmins/patchrun/pkg/logging"
	"github.com/windowsadmins/patchrun/pkg/utils"
)

// App is one catalog entry: a process name and the places its executable
// is usually installed. Paths may use %VAR% references and a "*" user
// directory segment such as C:\Users\*\AppData\Local\...
type App struct {
	Name  string   `yaml:"Name"`
	Paths []string `yaml:"Paths,omitempty"`
}

// Process is a running instance of a catalog application.
type Process interface {
	PID() int32
	// Exe is the path the OS reports for the process image.
	Exe() (string, error)
	// ModulePath is the file path of the process's primary module.
	ModulePath() (string, error)
}

// Lister finds running processes by application name.
type Lister interface {
	Find(ctx context.Context, name string) ([]Process, error)
}

// ProfileSource lists local user profile directories.
type ProfileSource interface {
	Profiles() ([]string, error)
}

// Entry is one resolved application.
type Entry struct {
	Name string
	Path string
}

// Snapshot maps catalog names to executable paths, in catalog order.
type Snapshot struct {
	entries []Entry
}

// Len returns the number of applications in the snapshot.
func (s Snapshot) Len() int { return len(s.entries) }

// Entries returns a copy of the entries in catalog order.
func (s Snapshot) Entries() []Entry {
	return append([]Entry(nil), s.entries...)
}

// Path returns the recorded path for name.
func (s Snapshot) Path(name string) (string, bool) {
	for _, e := range s.entries {
		if strings.EqualFold(e.Name, name) {
			return e.Path, true
		}
	}
	return "", false
}

// Map returns the snapshot as a plain map.
func (s Snapshot) Map() map[string]string {
	m := make(map[string]string, len(s.entries))
	for _, e := range s.entries {
		m[e.Name] = e.Path
	}
	return m
}

// NewSnapshot builds a snapshot from entries; used by tests and callers
// that already know what to restart.
func NewSnapshot(entries ...Entry) Snapshot {
	return Snapshot{entries: append([]Entry(nil), entries...)}
}

// Census takes snapshots.
type Census struct {
	lister   Lister
	profiles ProfileSource
	exists   func(string) bool
	glob     func(string) ([]string, error)
	log      *logging.Logger
}

// New returns a census over the given process table and profile source.
// A nil profiles falls back to filesystem globbing only.
func New(lister Lister, profiles ProfileSource, log *logging.Logger) *Census {
	return &Census{
		lister:   lister,
		profiles: profiles,
		exists:   utils.FileExists,
		glob:     filepath.Glob,
		log:      log,
	}
}

// Take records, for each catalog entry with at least one running process,
// the first executable path that exists on disk. Applications that are not
// running, or whose path cannot be resolved, are left out.
func (c *Census) Take(ctx context.Context, catalog []App) Snapshot {
	var snap Snapshot
	for _, app := range catalog {
		procs, err := c.lister.Find(ctx, app.Name)
		if err != nil {
			c.log.Warn("Failed to query running processes", "app", app.Name, "error", err)
			continue
		}
		if len(procs) == 0 {
			c.log.Debug("Application not running", "app", app.Name)
			continue
		}

		path, tier, ok := c.resolve(app, procs)
		if !ok {
			c.log.Warn("Application is running but no executable path resolved, it will not be reopened",
				"app", app.Name, "instances", len(procs))
			continue
		}
		c.log.Info("Running application recorded", "app", app.Name, "instances", len(procs), "path", path, "via", tier)
		snap.entries = append(snap.entries, Entry{Name: app.Name, Path: path})
	}
	return snap
}

type tier struct {
	name    string
	resolve func() (string, bool)
}

// resolve walks the fallback chain and stops at the first tier that yields
// an existing file.
func (c *Census) resolve(app App, procs []Process) (string, string, bool) {
	chain := []tier{
		{"process-path", func() (string, bool) { return c.firstExisting(procs, Process.Exe) }},
		{"module-path", func() (string, bool) { return c.firstExisting(procs, Process.ModulePath) }},
		{"catalog-path", func() (string, bool) { return c.firstCandidate(app.Paths) }},
	}
	for _, t := range chain {
		if path, ok := t.resolve(); ok {
			return path, t.name, true
		}
	}
	return "", "", false
}

// firstExisting tries get on every process; errors (access denied, process
// gone) only fail that attempt.
func (c *Census) firstExisting(procs []Process, get func(Process) (string, error)) (string, bool) {
	for _, p := range procs {
		path, err := get(p)
		if err != nil {
			c.log.Debug("Path inspection failed", "pid", p.PID(), "error", err)
			continue
		}
		if c.exists(path) {
			return path, true
		}
	}
	return "", false
}

func (c *Census) firstCandidate(candidates []string) (string, bool) {
	for _, candidate := range candidates {
		for _, path := range c.expand(candidate) {
			if c.exists(path) {
				return path, true
			}
		}
	}
	return "", false
}

// expand resolves %VAR% references and a "*" user directory segment. The
// wildcard is matched against known profile directories first; anything
// left unmatched is globbed.
func (c *Census) expand(candidate string) []string {
	path := utils.ExpandWindowsEnv(candidate)
	star := strings.Index(path, "*")
	if star < 0 {
		return []string{path}
	}

	var out []string
	if prefix, suffix, ok := splitWildcardSegment(path, star); ok && c.profiles != nil {
		profiles, err := c.profiles.Profiles()
		if err != nil {
			c.log.Debug("Failed to list user profiles", "error", err)
		}
		sort.Strings(profiles)
		for _, profile := range profiles {
			if samePath(parentDir(profile), prefix) {
				out = append(out, c.globIfNeeded(profile+suffix)...)
			}
		}
	}
	if len(out) == 0 {
		out = c.globIfNeeded(path)
	}
	return out
}

func (c *Census) globIfNeeded(path string) []string {
	if !strings.Contains(path, "*") {
		return []string{path}
	}
	matches, err := c.glob(path)
	if err != nil {
		return nil
	}
	sort.Strings(matches)
	return matches
}

func isSep(b byte) bool { return b == '\\' || b == '/' }

// splitWildcardSegment splits "C:\Users\*\AppData\x.exe" into "C:\Users"
// and "\AppData\x.exe" when the segment containing star is exactly "*".
func splitWildcardSegment(path string, star int) (prefix, suffix string, ok bool) {
	start := star
	for start > 0 && !isSep(path[start-1]) {
		start--
	}
	end := star
	for end < len(path) && !isSep(path[end]) {
		end++
	}
	if path[start:end] != "*" || start == 0 {
		return "", "", false
	}
	return path[:start-1], path[end:], true
}

func parentDir(path string) string {
	path = strings.TrimRight(path, `\/`)
	for i := len(path) - 1; i >= 0; i-- {
		if isSep(path[i]) {
			return path[:i]
		}
	}
	return ""
}

func samePath(a, b string) bool {
	norm := func(s string) string {
		return strings.TrimRight(strings.ReplaceAll(s, "/", `\`), `\`)
	}
	return strings.EqualFold(norm(a), norm(b))
}
