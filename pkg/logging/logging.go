// pkg/logging/logging.go - leveled run log for patchrun.
//
// Every line goes to a size-rotated file (lumberjack) and, when enabled, to
// the console. A JSON-lines sidecar (events.jsonl) next to the main log
// carries the same entries with run metadata for external collectors.

package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the severity of the log message.
type LogLevel int

const (
	LevelError LogLevel = iota
	LevelWarn
	LevelSuccess
	LevelInfo
	LevelDebug
)

// String returns the string representation of the LogLevel.
func (ll LogLevel) String() string {
	switch ll {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelSuccess:
		return "SUCCESS"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel accepts the names produced by LogLevel.String, case-insensitively.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ERROR":
		return LevelError, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "SUCCESS":
		return LevelSuccess, nil
	case "INFO":
		return LevelInfo, nil
	case "DEBUG":
		return LevelDebug, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// LogEntry is one record of the events.jsonl sidecar.
type LogEntry struct {
	Time       int64                  `json:"time"`
	Timestamp  string                 `json:"timestamp"`
	Level      string                 `json:"level"`
	Message    string                 `json:"message"`
	Hostname   string                 `json:"hostname"`
	PID        int                    `json:"pid"`
	RunID      string                 `json:"run_id"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// Options configures a file-backed Logger.
type Options struct {
	Dir        string   // directory holding patchrun.log and events.jsonl
	Level      LogLevel // lines above this level are dropped
	Console    bool     // mirror lines to stdout
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Logger writes leveled lines to its sinks. A nil *Logger is usable and
// prints every line to stderr prefixed with LOGGING NOT INITIALIZED.
type Logger struct {
	mu       sync.Mutex
	file     io.Writer
	console  io.Writer
	events   io.Writer
	closers  []io.Closer
	level    LogLevel
	runID    string
	hostname string
	now      func() time.Time
}

// New opens the run log under opts.Dir.
func New(opts Options) (*Logger, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("log directory is empty")
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", opts.Dir, err)
	}

	mainLog := &lumberjack.Logger{
		Filename:   filepath.Join(opts.Dir, "patchrun.log"),
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
	}
	eventsLog := &lumberjack.Logger{
		Filename:   filepath.Join(opts.Dir, "events.jsonl"),
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
	}

	l := newLogger(mainLog, opts.Level)
	l.events = eventsLog
	l.closers = []io.Closer{mainLog, eventsLog}
	if opts.Console {
		enableColors()
		l.console = os.Stdout
	}
	return l, nil
}

// NewWriter returns a Logger that writes plain lines to w only.
func NewWriter(w io.Writer, level LogLevel) *Logger {
	return newLogger(w, level)
}

// Discard returns a Logger that drops everything.
func Discard() *Logger {
	return newLogger(io.Discard, LevelDebug)
}

func newLogger(w io.Writer, level LogLevel) *Logger {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}
	return &Logger{
		file:     w,
		level:    level,
		runID:    uuid.NewString(),
		hostname: hostname,
		now:      time.Now,
	}
}

// RunID identifies this run in the events sidecar.
func (l *Logger) RunID() string {
	if l == nil {
		return ""
	}
	return l.runID
}

// SetLevel changes the threshold, e.g. after -v flags are counted.
func (l *Logger) SetLevel(level LogLevel) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// Close flushes and closes the file sinks.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var firstErr error
	for _, c := range l.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.closers = nil
	return firstErr
}

// Error logs error messages.
func (l *Logger) Error(message string, keyValues ...interface{}) {
	l.logMessage(LevelError, message, keyValues...)
}

// Warn logs warning messages.
func (l *Logger) Warn(message string, keyValues ...interface{}) {
	l.logMessage(LevelWarn, message, keyValues...)
}

// Success logs an expected good outcome.
func (l *Logger) Success(message string, keyValues ...interface{}) {
	l.logMessage(LevelSuccess, message, keyValues...)
}

// Info logs informational messages.
func (l *Logger) Info(message string, keyValues ...interface{}) {
	l.logMessage(LevelInfo, message, keyValues...)
}

// Debug logs debug messages.
func (l *Logger) Debug(message string, keyValues ...interface{}) {
	l.logMessage(LevelDebug, message, keyValues...)
}

// Output appends captured subprocess text under a title, one log line per
// non-empty input line.
func (l *Logger) Output(title, text string) {
	text = strings.TrimSpace(strings.TrimPrefix(text, "\ufeff"))
	if text == "" {
		l.Info(title + ": (no output)")
		return
	}
	l.Info(title + ":")
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r ")
		if strings.TrimSpace(line) == "" {
			continue
		}
		l.Info("    " + line)
	}
}

// logMessage is the core logging method that writes to all configured outputs
func (l *Logger) logMessage(level LogLevel, message string, keyValues ...interface{}) {
	if l == nil {
		fmt.Fprintf(os.Stderr, "LOGGING NOT INITIALIZED: %s %s%s\n", level, message, formatKeyValues(keyValues))
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if level > l.level {
		return
	}

	now := l.now()
	line := formatLine(now, level, message, keyValues)

	if l.file != nil {
		fmt.Fprintln(l.file, line)
	}
	if l.console != nil {
		fmt.Fprintln(l.console, colorFor(level)+line+colorReset)
	}
	if l.events != nil {
		l.writeEvent(now, level, message, keyValues)
	}
}

// formatLine renders "[ts] [LEVEL] message k=v". More than four pairs are
// written one per indented line.
func formatLine(ts time.Time, level LogLevel, message string, keyValues []interface{}) string {
	line := fmt.Sprintf("[%s] [%s] %s%s", ts.Format("2006-01-02 15:04:05"), level, message, formatKeyValues(keyValues))
	if level == LevelError {
		line = "----------------------------------------\n" + line
	}
	return line
}

func formatKeyValues(keyValues []interface{}) string {
	if len(keyValues) < 2 {
		return ""
	}
	var sb strings.Builder
	multiline := len(keyValues)/2 > 4
	for i := 0; i+1 < len(keyValues); i += 2 {
		if multiline {
			fmt.Fprintf(&sb, "\n        %v: %v", keyValues[i], keyValues[i+1])
		} else {
			fmt.Fprintf(&sb, " %v=%v", keyValues[i], keyValues[i+1])
		}
	}
	return sb.String()
}

func (l *Logger) writeEvent(ts time.Time, level LogLevel, message string, keyValues []interface{}) {
	entry := LogEntry{
		Time:      ts.Unix(),
		Timestamp: ts.Format(time.RFC3339),
		Level:     level.String(),
		Message:   message,
		Hostname:  l.hostname,
		PID:       os.Getpid(),
		RunID:     l.runID,
	}
	if len(keyValues) >= 2 {
		entry.Properties = make(map[string]interface{}, len(keyValues)/2)
		for i := 0; i+1 < len(keyValues); i += 2 {
			val := keyValues[i+1]
			if err, ok := val.(error); ok {
				val = err.Error()
			}
			entry.Properties[fmt.Sprintf("%v", keyValues[i])] = val
		}
	}
	if data, err := json.Marshal(entry); err == nil {
		l.events.Write(append(data, '\n'))
	}
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorGreen  = "\033[32m"
)

func colorFor(level LogLevel) string {
	switch level {
	case LevelError:
		return colorRed
	case LevelWarn:
		return colorYellow
	case LevelSuccess:
		return colorGreen
	case LevelDebug:
		return colorBlue
	default:
		return ""
	}
}
