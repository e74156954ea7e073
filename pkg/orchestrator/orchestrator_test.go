package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windowsadmins/patchrun/pkg/census"
	"github.com/windowsadmins/patchrun/pkg/logging"
	"github.com/windowsadmins/patchrun/pkg/restart"
	"github.com/windowsadmins/patchrun/pkg/winupdate"
)

// processTable serves both the census and the restart step.
type processTable struct {
	running map[string]string // name -> exe
}

type tableProcess struct{ exe string }

func (p tableProcess) PID() int32 { return 1 }
func (p tableProcess) Exe() (string, error) { return p.exe, nil }
func (p tableProcess) ModulePath() (string, error) { return "", errors.New("no module") }

func (t *processTable) Find(_ context.Context, name string) ([]census.Process, error) {
	if exe, ok := t.running[name]; ok {
		return []census.Process{tableProcess{exe: exe}}, nil
	}
	return nil, nil
}

func (t *processTable) Running(_ context.Context, name string) (bool, error) {
	_, ok := t.running[name]
	return ok, nil
}

type fakePackages struct {
	invoked int
	onRun   func()
}

func (f *fakePackages) Run(_ context.Context, skip bool) bool {
	if skip {
		return false
	}
	f.invoked++
	if f.onRun != nil {
		f.onRun()
	}
	return true
}

type fakeLauncher struct{ launched []string }

func (f *fakeLauncher) Launch(path string) error {
	f.launched = append(f.launched, path)
	return nil
}

type fakePreferred struct {
	pending    []winupdate.PendingUpdate
	installErr error
	calls      int
}

func (p *fakePreferred) Ensure(context.Context) error { p.calls++; return nil }

func (p *fakePreferred) ListPending(context.Context) ([]winupdate.PendingUpdate, error) {
	p.calls++
	return p.pending, nil
}

func (p *fakePreferred) InstallAll(context.Context, winupdate.InstallMode) error {
	p.calls++
	return p.installErr
}

func (p *fakePreferred) PendingReboot(context.Context) (bool, error) { p.calls++; return false, nil }

type fakeAgent struct {
	reboot   bool
	opened   int
	released int
}

func (a *fakeAgent) OpenSession() (winupdate.Session, error) {
	a.opened++
	return &fakeSession{agent: a}, nil
}

type fakeSession struct{ agent *fakeAgent }

func (s *fakeSession) Release() { s.agent.released++ }
func (s *fakeSession) NewSearcher() (winupdate.Searcher, error) { return fakeSearcher{}, nil }
func (s *fakeSession) NewCollection() (winupdate.Collection, error) { return &fakeCollection{}, nil }
func (s *fakeSession) Download(winupdate.Collection) error { return nil }
func (s *fakeSession) Install(winupdate.Collection) (bool, error) { return s.agent.reboot, nil }

type fakeSearcher struct{}

func (fakeSearcher) Release() {}
func (fakeSearcher) Search(string) ([]winupdate.Update, error) {
	return []winupdate.Update{fakeUpdate{}}, nil
}

type fakeUpdate struct{}

func (fakeUpdate) Release() {}
func (fakeUpdate) Title() string { return "2024-01 Cumulative Update" }
func (fakeUpdate) EulaAccepted() (bool, error) { return true, nil }
func (fakeUpdate) AcceptEula() error { return nil }
func (fakeUpdate) IsDownloaded() (bool, error) { return true, nil }

type fakeCollection struct{ n int }

func (c *fakeCollection) Release() {}
func (c *fakeCollection) Add(winupdate.Update) error { c.n++; return nil }
func (c *fakeCollection) Count() int { return c.n }

type rig struct {
	table     *processTable
	packages  *fakePackages
	preferred *fakePreferred
	agent     *fakeAgent
	launcher  *fakeLauncher
	runner    *Runner
	log       *bytes.Buffer
}

func newRig(t *testing.T) (*rig, string) {
	t.Helper()
	chrome := filepath.Join(t.TempDir(), "chrome.exe")
	require.NoError(t, os.WriteFile(chrome, []byte("MZ"), 0o755))

	var buf bytes.Buffer
	log := logging.NewWriter(&buf, logging.LevelDebug)
	r := &rig{
		table:     &processTable{running: map[string]string{"chrome": chrome}},
		packages:  &fakePackages{},
		preferred: &fakePreferred{},
		agent:     &fakeAgent{},
		launcher:  &fakeLauncher{},
		log:       &buf,
	}
	r.runner = New(
		census.New(r.table, nil, log),
		r.packages,
		winupdate.New(r.preferred, r.agent, nil, 0, log),
		restart.New(r.table, r.launcher, 0, log),
		log,
	)
	return r, chrome
}

var catalog = []census.App{{Name: "chrome"}, {Name: "firefox"}}

func TestScenarioBothSkipsChromeStillRunning(t *testing.T) {
	r, chrome := newRig(t)

	res, err := r.runner.Run(context.Background(), Options{SkipChocolatey: true, SkipWindowsUpdate: true, Catalog: catalog})

	require.NoError(t, err)
	assert.Equal(t, map[string]string{"chrome": chrome}, res.Snapshot.Map())
	assert.False(t, res.RebootRequired)
	assert.False(t, res.PackageUpgradeAttempted)
	assert.False(t, res.OSUpdateAttempted)
	assert.Zero(t, r.packages.invoked)
	assert.Zero(t, r.preferred.calls)
	assert.Zero(t, r.agent.opened)
	assert.Empty(t, r.launcher.launched, "chrome is still running")
	assert.Contains(t, r.log.String(), "Run summary")
}

func TestScenarioBothSkipsChromeClosedByUpgrade(t *testing.T) {
	r, chrome := newRig(t)
	r.packages.onRun = func() { delete(r.table.running, "chrome") }

	res, err := r.runner.Run(context.Background(), Options{SkipWindowsUpdate: true, Catalog: catalog})

	require.NoError(t, err)
	assert.True(t, res.PackageUpgradeAttempted)
	assert.Equal(t, 1, res.Launched)
	assert.Equal(t, []string{chrome}, r.launcher.launched)
}

func TestScenarioPreferredReportsNothingPending(t *testing.T) {
	r, _ := newRig(t)

	res, err := r.runner.Run(context.Background(), Options{SkipChocolatey: true, Catalog: catalog})

	require.NoError(t, err)
	assert.True(t, res.OSUpdateAttempted)
	assert.False(t, res.RebootRequired)
	assert.NotZero(t, r.preferred.calls)
	assert.Zero(t, r.agent.opened, "no fallback")
}

func TestScenarioPreferredInstallFailsFallbackRuns(t *testing.T) {
	r, _ := newRig(t)
	r.preferred.pending = []winupdate.PendingUpdate{{KB: "KB5034441"}}
	r.preferred.installErr = errors.New("0x80240017")
	r.agent.reboot = true

	res, err := r.runner.Run(context.Background(), Options{SkipChocolatey: true, Catalog: catalog})

	require.NoError(t, err)
	assert.Equal(t, 1, r.agent.opened)
	assert.Equal(t, 1, r.agent.released)
	assert.True(t, res.RebootRequired, "reboot flag comes from the fallback installer")
}

func TestScenarioRebootRequiredSkipsRestart(t *testing.T) {
	r, _ := newRig(t)
	r.preferred.pending = []winupdate.PendingUpdate{{KB: "KB5034441"}}
	r.preferred.installErr = errors.New("0x80240017")
	r.agent.reboot = true
	r.packages.onRun = func() { delete(r.table.running, "chrome") }

	res, err := r.runner.Run(context.Background(), Options{AutoReboot: false, Catalog: catalog})

	require.NoError(t, err)
	assert.True(t, res.RebootRequired)
	assert.Zero(t, res.Launched)
	assert.Empty(t, r.launcher.launched)
	assert.Equal(t, 1, res.Snapshot.Len())
	assert.Contains(t, r.log.String(), "A reboot is required")
}

type panickingUpdates struct{}

func (panickingUpdates) Apply(context.Context, bool, bool) bool { panic("COM exploded") }

func TestRunRecoversPanics(t *testing.T) {
	r, _ := newRig(t)
	r.runner.updates = panickingUpdates{}

	res, err := r.runner.Run(context.Background(), Options{Catalog: catalog})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "COM exploded")
	assert.Zero(t, res.Launched)
	assert.Contains(t, r.log.String(), "[ERROR] Unhandled failure during maintenance run")
}
