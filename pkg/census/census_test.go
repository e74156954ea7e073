package census

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windowsadmins/patchrun/pkg/logging"
)

type fakeProcess struct {
	pid       int32
	exe       string
	exeErr    error
	module    string
	moduleErr error
}

func (p fakeProcess) PID() int32 { return p.pid }
func (p fakeProcess) Exe() (string, error) { return p.exe, p.exeErr }
func (p fakeProcess) ModulePath() (string, error) { return p.module, p.moduleErr }

type fakeLister struct {
	procs map[string][]Process
	err   map[string]error
}

func (f fakeLister) Find(_ context.Context, name string) ([]Process, error) {
	if err := f.err[name]; err != nil {
		return nil, err
	}
	return f.procs[name], nil
}

type fakeProfiles struct {
	dirs []string
	err  error
}

func (f fakeProfiles) Profiles() ([]string, error) { return f.dirs, f.err }

func touch(t *testing.T, parts ...string) string {
	t.Helper()
	path := filepath.Join(parts...)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("MZ"), 0o755))
	return path
}

func TestTakeOmitsApplicationsThatAreNotRunning(t *testing.T) {
	dir := t.TempDir()
	chrome := touch(t, dir, "chrome.exe")
	lister := fakeLister{procs: map[string][]Process{
		"chrome": {fakeProcess{pid: 10, exe: chrome}},
	}}

	snap := New(lister, nil, logging.Discard()).Take(context.Background(), []App{
		{Name: "chrome"},
		{Name: "firefox", Paths: []string{touch(t, dir, "firefox.exe")}},
	})

	assert.Equal(t, map[string]string{"chrome": chrome}, snap.Map())
	_, ok := snap.Path("firefox")
	assert.False(t, ok, "an installed but stopped application is not recorded")
}

func TestTakeResolutionOrder(t *testing.T) {
	dir := t.TempDir()
	exe := touch(t, dir, "exe", "app.exe")
	module := touch(t, dir, "module", "app.exe")
	candidate := touch(t, dir, "candidate", "app.exe")
	missing := filepath.Join(dir, "missing", "app.exe")

	tests := []struct {
		name string
		proc fakeProcess
		want string
	}{
		{"process path wins", fakeProcess{exe: exe, module: module}, exe},
		{"module path when process path missing", fakeProcess{exe: missing, module: module}, module},
		{"module path when process path errors", fakeProcess{exeErr: errors.New("access denied"), module: module}, module},
		{"candidate when both fail", fakeProcess{exeErr: errors.New("gone"), moduleErr: errors.New("gone")}, candidate},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			lister := fakeLister{procs: map[string][]Process{"app": {tc.proc}}}
			snap := New(lister, nil, logging.Discard()).Take(context.Background(), []App{
				{Name: "app", Paths: []string{missing, candidate}},
			})
			path, ok := snap.Path("app")
			require.True(t, ok)
			assert.Equal(t, tc.want, path)
		})
	}
}

func TestTakeTriesEveryProcessBeforeFallingBack(t *testing.T) {
	dir := t.TempDir()
	second := touch(t, dir, "second.exe")
	lister := fakeLister{procs: map[string][]Process{"app": {
		fakeProcess{pid: 1, exeErr: errors.New("access denied")},
		fakeProcess{pid: 2, exe: second},
	}}}

	snap := New(lister, nil, logging.Discard()).Take(context.Background(), []App{{Name: "app"}})
	path, _ := snap.Path("app")
	assert.Equal(t, second, path)
}

func TestTakeOmitsUnresolvedApplication(t *testing.T) {
	lister := fakeLister{procs: map[string][]Process{"app": {
		fakeProcess{exe: "/nonexistent/app.exe", moduleErr: errors.New("denied")},
	}}}

	snap := New(lister, nil, logging.Discard()).Take(context.Background(), []App{
		{Name: "app", Paths: []string{"/nonexistent/other.exe"}},
	})
	assert.Zero(t, snap.Len())
}

func TestTakeEveryRecordedPathExists(t *testing.T) {
	dir := t.TempDir()
	realExe := touch(t, dir, "real.exe")
	lister := fakeLister{procs: map[string][]Process{
		"a": {fakeProcess{exe: filepath.Join(dir, "ghost.exe")}},
		"b": {fakeProcess{exe: realExe}},
		"c": {fakeProcess{exe: dir}}, // a directory is not an executable
	}}

	snap := New(lister, nil, logging.Discard()).Take(context.Background(), []App{{Name: "a"}, {Name: "b"}, {Name: "c"}})
	for _, e := range snap.Entries() {
		info, err := os.Stat(e.Path)
		require.NoError(t, err, e.Name)
		assert.False(t, info.IsDir())
	}
	assert.Equal(t, 1, snap.Len())
}

func TestTakeListerErrorSkipsOnlyThatApplication(t *testing.T) {
	dir := t.TempDir()
	b := touch(t, dir, "b.exe")
	lister := fakeLister{
		procs: map[string][]Process{"b": {fakeProcess{exe: b}}},
		err:   map[string]error{"a": errors.New("wmi timeout")},
	}

	snap := New(lister, nil, logging.Discard()).Take(context.Background(), []App{{Name: "a"}, {Name: "b"}})
	assert.Equal(t, []Entry{{Name: "b", Path: b}}, snap.Entries())
}

func TestTakeKeepsCatalogOrder(t *testing.T) {
	dir := t.TempDir()
	lister := fakeLister{procs: map[string][]Process{
		"zoom":   {fakeProcess{exe: touch(t, dir, "zoom.exe")}},
		"chrome": {fakeProcess{exe: touch(t, dir, "chrome.exe")}},
	}}
	snap := New(lister, nil, logging.Discard()).Take(context.Background(), []App{{Name: "zoom"}, {Name: "chrome"}})

	entries := snap.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "zoom", entries[0].Name)
	assert.Equal(t, "chrome", entries[1].Name)
}

func TestWildcardUserSegmentUsesProfiles(t *testing.T) {
	root := t.TempDir()
	users := filepath.Join(root, "Users")
	bob := touch(t, users, "bob", "AppData", "slack", "slack.exe")
	lister := fakeLister{procs: map[string][]Process{"slack": {fakeProcess{exeErr: errors.New("denied"), moduleErr: errors.New("denied")}}}}
	profiles := fakeProfiles{dirs: []string{filepath.Join(users, "bob"), filepath.Join(users, "alice")}}

	snap := New(lister, profiles, logging.Discard()).Take(context.Background(), []App{
		{Name: "slack", Paths: []string{filepath.Join(users, "*", "AppData", "slack", "slack.exe")}},
	})
	path, ok := snap.Path("slack")
	require.True(t, ok)
	assert.Equal(t, bob, path)
}

func TestWildcardFallsBackToGlob(t *testing.T) {
	root := t.TempDir()
	users := filepath.Join(root, "Users")
	carol := touch(t, users, "carol", "Zoom", "Zoom.exe")
	lister := fakeLister{procs: map[string][]Process{"Zoom": {fakeProcess{exeErr: errors.New("denied"), moduleErr: errors.New("denied")}}}}

	snap := New(lister, fakeProfiles{err: errors.New("wmi unavailable")}, logging.Discard()).Take(context.Background(), []App{
		{Name: "Zoom", Paths: []string{filepath.Join(users, "*", "Zoom", "Zoom.exe")}},
	})
	path, _ := snap.Path("Zoom")
	assert.Equal(t, carol, path)
}

func TestCandidateEnvironmentExpansion(t *testing.T) {
	dir := t.TempDir()
	exe := touch(t, dir, "Mozilla Firefox", "firefox.exe")
	t.Setenv("PATCHRUN_PF", dir)
	lister := fakeLister{procs: map[string][]Process{"firefox": {fakeProcess{exeErr: errors.New("denied"), moduleErr: errors.New("denied")}}}}

	snap := New(lister, nil, logging.Discard()).Take(context.Background(), []App{
		{Name: "firefox", Paths: []string{"%PATCHRUN_PF%" + string(filepath.Separator) + filepath.Join("Mozilla Firefox", "firefox.exe")}},
	})
	path, _ := snap.Path("firefox")
	assert.Equal(t, exe, path)
}

func TestSplitWildcardSegment(t *testing.T) {
	prefix, suffix, ok := splitWildcardSegment(`C:\Users\*\AppData\x.exe`, 9)
	require.True(t, ok)
	assert.Equal(t, `C:\Users`, prefix)
	assert.Equal(t, `\AppData\x.exe`, suffix)

	_, _, ok = splitWildcardSegment(`C:\Users\j*\x.exe`, 10)
	assert.False(t, ok, "partial wildcard segments are globbed, not profile matched")
}

func TestMatchName(t *testing.T) {
	assert.True(t, MatchName("chrome.exe", "chrome"))
	assert.True(t, MatchName("CHROME.EXE", "Chrome"))
	assert.True(t, MatchName("chrome.exe", "chrome.exe"))
	assert.False(t, MatchName("chromedriver.exe", "chrome"))
	assert.False(t, MatchName("chrome", "chrome.exe"))
}
