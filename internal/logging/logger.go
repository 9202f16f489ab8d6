package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	charmLog "github.com/charmbracelet/log"
)

// Options configures a Logger.
type Options struct {
	AppName string
	Level   string
	// Dir enables a logfmt file sink when non-empty.
	Dir string
	Now func() time.Time
}

// Logger fans log events to a styled console sink and an optional file sink.
type Logger struct {
	sinks          []*charmLog.Logger
	consoleSink    *charmLog.Logger
	consoleEnabled bool
	closeFile      func() error
	filePath       string
}

// New configures log sinks. Console output goes to console.
func New(console io.Writer, opts Options) (*Logger, error) {
	levelName := strings.TrimSpace(opts.Level)
	if levelName == "" {
		levelName = "info"
	}
	level, err := charmLog.ParseLevel(levelName)
	if err != nil {
		return nil, fmt.Errorf("parse logging level %q: %w", opts.Level, err)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if console == nil {
		console = io.Discard
	}
	appName := sanitizeLogFileStem(opts.AppName)

	consoleLogger := charmLog.NewWithOptions(console, charmLog.Options{
		Level:           level,
		Prefix:          appName,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Formatter:       charmLog.TextFormatter,
	})
	logger := &Logger{
		sinks:          []*charmLog.Logger{consoleLogger},
		consoleSink:    consoleLogger,
		consoleEnabled: true,
	}
	if strings.TrimSpace(opts.Dir) == "" {
		return logger, nil
	}

	path := logFilePath(opts.Dir, appName, now())
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	// File output stays unstyled logfmt.
	fileLogger := charmLog.NewWithOptions(logFile, charmLog.Options{
		Level:           level,
		Prefix:          appName,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Formatter:       charmLog.LogfmtFormatter,
	})
	logger.sinks = append(logger.sinks, fileLogger)
	logger.closeFile = logFile.Close
	logger.filePath = path
	return logger, nil
}

// Discard returns a logger that drops every event.
func Discard() *Logger {
	l, _ := New(io.Discard, Options{Level: "error"})
	l.consoleEnabled = false
	return l
}

// FilePath returns the active log file path.
func (l *Logger) FilePath() string {
	if l == nil {
		return ""
	}
	return l.filePath
}

// Close closes the optional file sink.
func (l *Logger) Close() error {
	if l == nil || l.closeFile == nil {
		return nil
	}
	return l.closeFile()
}

// SetConsoleEnabled toggles whether the console sink receives events.
func (l *Logger) SetConsoleEnabled(enabled bool) {
	if l == nil {
		return
	}
	l.consoleEnabled = enabled
}

// With returns a logger whose sinks carry keyvals on every event.
func (l *Logger) With(keyvals ...any) *Logger {
	if l == nil {
		return nil
	}
	out := *l
	out.sinks = make([]*charmLog.Logger, 0, len(l.sinks))
	for _, sink := range l.sinks {
		child := sink.With(keyvals...)
		if sink == l.consoleSink {
			out.consoleSink = child
		}
		out.sinks = append(out.sinks, child)
	}
	out.closeFile = nil
	return &out
}

// shouldLogToSink reports whether one sink should receive output.
func (l *Logger) shouldLogToSink(sink *charmLog.Logger) bool {
	if l == nil || sink == nil {
		return false
	}
	if sink == l.consoleSink && !l.consoleEnabled {
		return false
	}
	return true
}

// Debug logs a debug event to all configured sinks.
func (l *Logger) Debug(msg string, keyvals ...any) {
	if l == nil {
		return
	}
	for _, sink := range l.sinks {
		if !l.shouldLogToSink(sink) {
			continue
		}
		sink.Debug(msg, keyvals...)
	}
}

// Info logs an informational event to all configured sinks.
func (l *Logger) Info(msg string, keyvals ...any) {
	if l == nil {
		return
	}
	for _, sink := range l.sinks {
		if !l.shouldLogToSink(sink) {
			continue
		}
		sink.Info(msg, keyvals...)
	}
}

// Warn logs a warning event to all configured sinks.
func (l *Logger) Warn(msg string, keyvals ...any) {
	if l == nil {
		return
	}
	for _, sink := range l.sinks {
		if !l.shouldLogToSink(sink) {
			continue
		}
		sink.Warn(msg, keyvals...)
	}
}

// Error logs an error event to all configured sinks.
func (l *Logger) Error(msg string, keyvals ...any) {
	if l == nil {
		return
	}
	for _, sink := range l.sinks {
		if !l.shouldLogToSink(sink) {
			continue
		}
		sink.Error(msg, keyvals...)
	}
}

// logFilePath resolves the per-day log file inside dir.
func logFilePath(dir, appName string, now time.Time) string {
	fileName := fmt.Sprintf("%s-%s.log", appName, now.Format("20060102"))
	return filepath.Join(filepath.Clean(strings.TrimSpace(dir)), fileName)
}

// sanitizeLogFileStem normalizes app names into safe file-name segments.
func sanitizeLogFileStem(appName string) string {
	stem := strings.TrimSpace(appName)
	if stem == "" {
		return "datetrack"
	}
	replacer := strings.NewReplacer("/", "-", "\\", "-", ":", "-", " ", "-")
	stem = strings.Trim(replacer.Replace(stem), "-")
	if stem == "" {
		return "datetrack"
	}
	return stem
}
