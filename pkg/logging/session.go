// pkg/logging/session.go - per-run records for external monitoring tools.

package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SessionsFile collects one SessionRecord per run, one JSON object per line.
const SessionsFile = "sessions.jsonl"

// Session status values.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// SessionRecord summarizes one run.
type SessionRecord struct {
	SessionID          string `json:"session_id"`
	StartTime          string `json:"start_time"`
	EndTime            string `json:"end_time"`
	Status             string `json:"status"`
	Duration           int64  `json:"duration_seconds"`
	Recorded           int    `json:"recorded_apps"`
	Relaunched         int    `json:"relaunched_apps"`
	PackagesAttempted  bool   `json:"packages_attempted"`
	OSUpdatesAttempted bool   `json:"os_updates_attempted"`
	RebootRequired     bool   `json:"reboot_required"`
	Hostname           string `json:"hostname"`
	ProcessID          int    `json:"process_id"`
	LogVersion         string `json:"log_version"`
}

// NewSessionRecord fills in the identity fields of a record for a run that
// started at start and ended at end.
func (l *Logger) NewSessionRecord(start, end time.Time, status string) SessionRecord {
	hostname, _ := os.Hostname()
	return SessionRecord{
		SessionID:  l.RunID(),
		StartTime:  start.Format(time.RFC3339),
		EndTime:    end.Format(time.RFC3339),
		Status:     status,
		Duration:   int64(end.Sub(start).Seconds()),
		Hostname:   hostname,
		ProcessID:  os.Getpid(),
		LogVersion: "1.0",
	}
}

// AppendSession appends rec to SessionsFile under dir.
func AppendSession(dir string, rec SessionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode session record: %w", err)
	}
	path := filepath.Join(dir, SessionsFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
