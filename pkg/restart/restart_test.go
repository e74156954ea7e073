package restart

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windowsadmins/patchrun/pkg/census"
	"github.com/windowsadmins/patchrun/pkg/logging"
)

type fakeChecker struct {
	running map[string]bool
	err     map[string]error
	checked []string
}

func (f *fakeChecker) Running(_ context.Context, name string) (bool, error) {
	f.checked = append(f.checked, name)
	return f.running[name], f.err[name]
}

type fakeLauncher struct {
	launched []string
	fail     map[string]bool
}

func (f *fakeLauncher) Launch(path string) error {
	if f.fail[path] {
		return errors.New("file not found")
	}
	f.launched = append(f.launched, path)
	return nil
}

func snapshot() census.Snapshot {
	return census.NewSnapshot(
		census.Entry{Name: "chrome", Path: `C:\chrome.exe`},
		census.Entry{Name: "slack", Path: `C:\slack.exe`},
		census.Entry{Name: "Teams", Path: `C:\teams.exe`},
	)
}

func newTestStep(checker Checker, launcher Launcher) (*Step, *[]time.Duration, *bytes.Buffer) {
	var buf bytes.Buffer
	s := New(checker, launcher, -1, logging.NewWriter(&buf, logging.LevelDebug))
	var paused []time.Duration
	s.sleep = func(d time.Duration) { paused = append(paused, d) }
	return s, &paused, &buf
}

func TestRunSkipsWhenRebootRequired(t *testing.T) {
	checker := &fakeChecker{}
	launcher := &fakeLauncher{}
	s, _, _ := newTestStep(checker, launcher)

	assert.Zero(t, s.Run(context.Background(), snapshot(), true))
	assert.Empty(t, launcher.launched)
	assert.Empty(t, checker.checked)
}

func TestRunEmptySnapshot(t *testing.T) {
	launcher := &fakeLauncher{}
	s, _, buf := newTestStep(&fakeChecker{}, launcher)

	assert.Zero(t, s.Run(context.Background(), census.Snapshot{}, false))
	assert.Empty(t, launcher.launched)
	assert.Contains(t, buf.String(), "No applications to restart")
}

func TestRunLaunchesOnlyStoppedApplications(t *testing.T) {
	checker := &fakeChecker{running: map[string]bool{"slack": true}}
	launcher := &fakeLauncher{}
	s, paused, _ := newTestStep(checker, launcher)

	assert.Equal(t, 2, s.Run(context.Background(), snapshot(), false))
	assert.Equal(t, []string{`C:\chrome.exe`, `C:\teams.exe`}, launcher.launched)
	assert.Equal(t, []string{"chrome", "slack", "Teams"}, checker.checked)
	assert.Equal(t, []time.Duration{DefaultPause, DefaultPause}, *paused, "one pause per successful launch")
}

func TestRunIsIdempotent(t *testing.T) {
	checker := &fakeChecker{running: map[string]bool{}}
	launcher := &fakeLauncher{}
	s, _, _ := newTestStep(checker, launcher)

	require.Equal(t, 3, s.Run(context.Background(), snapshot(), false))
	for _, e := range snapshot().Entries() {
		checker.running[e.Name] = true
	}
	assert.Zero(t, s.Run(context.Background(), snapshot(), false))
	assert.Len(t, launcher.launched, 3)
}

func TestRunContinuesAfterLaunchFailure(t *testing.T) {
	launcher := &fakeLauncher{fail: map[string]bool{`C:\chrome.exe`: true}}
	s, paused, buf := newTestStep(&fakeChecker{}, launcher)

	assert.Equal(t, 2, s.Run(context.Background(), snapshot(), false))
	assert.Equal(t, []string{`C:\slack.exe`, `C:\teams.exe`}, launcher.launched)
	assert.Len(t, *paused, 2)
	assert.Contains(t, buf.String(), "[WARN] Failed to restart application app=chrome")
}

func TestRunCheckErrorStillLaunches(t *testing.T) {
	checker := &fakeChecker{err: map[string]error{"chrome": errors.New("access denied")}}
	launcher := &fakeLauncher{}
	s, _, _ := newTestStep(checker, launcher)

	assert.Equal(t, 3, s.Run(context.Background(), snapshot(), false))
}

func TestNewZeroPauseDoesNotSleep(t *testing.T) {
	launcher := &fakeLauncher{}
	s := New(&fakeChecker{}, launcher, 0, logging.Discard())
	slept := false
	s.sleep = func(time.Duration) { slept = true }

	s.Run(context.Background(), snapshot(), false)
	assert.False(t, slept)
}
