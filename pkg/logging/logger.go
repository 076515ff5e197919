package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Environment variables recognized by the logging package.
const (
	EnvLogLevel = "NOTEBOOKLM_LOG_LEVEL"
	EnvLogDir   = "NOTEBOOKLM_LOG_DIR"
	EnvDebug    = "NOTEBOOKLM_DEBUG"
)

// Logger provides leveled, structured logging for a single component.
// File-backed loggers write to ~/.notebooklm/logs/<session-id>-notebooklm.log.
//
// A nil *Logger is valid and discards everything.
type Logger struct {
	sessionID string
	component string
	file      *os.File
	zl        zerolog.Logger
	logPath   string
	closeOnce sync.Once
}

var (
	// Global session ID for the current process
	sessionID     string
	sessionIDOnce sync.Once

	logDir   string
	initOnce sync.Once
	initErr  error
)

func getSessionID() string {
	sessionIDOnce.Do(func() {
		sessionID = uuid.New().String()
	})
	return sessionID
}

func initLogDirectory() error {
	initOnce.Do(func() {
		dir := os.Getenv(EnvLogDir)
		if dir == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				initErr = fmt.Errorf("failed to get home directory: %w", err)
				return
			}
			dir = filepath.Join(homeDir, ".notebooklm", "logs")
		}
		if err := os.MkdirAll(dir, 0750); err != nil {
			initErr = fmt.Errorf("failed to create log directory: %w", err)
			return
		}
		logDir = dir
	})
	return initErr
}

// NewLogger creates a file-backed logger for a component.
//
// If the log directory or file cannot be opened, it returns a stderr logger
// together with the error so callers can note the fallback.
func NewLogger(component string) (*Logger, error) {
	if err := initLogDirectory(); err != nil {
		return newFallbackLogger(component, err), err
	}

	sessID := getSessionID()
	logPath := filepath.Join(logDir, fmt.Sprintf("%s-notebooklm.log", sessID))

	// Append mode: every component of the process shares the file.
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		err = fmt.Errorf("failed to open log file: %w", err)
		return newFallbackLogger(component, err), err
	}

	return &Logger{
		sessionID: sessID,
		component: component,
		file:      file,
		zl:        newZerolog(file, component, sessID),
		logPath:   logPath,
	}, nil
}

// NewConsole creates a logger that writes human-readable lines to w.
func NewConsole(component string, w io.Writer) *Logger {
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: "2006-01-02 15:04:05"}
	return &Logger{
		sessionID: getSessionID(),
		component: component,
		zl:        newZerolog(cw, component, ""),
	}
}

// Nop returns a logger that discards all output.
func Nop() *Logger {
	return &Logger{component: "nop", zl: zerolog.Nop()}
}

func newFallbackLogger(component string, err error) *Logger {
	l := NewConsole(component, os.Stderr)
	l.Warnf("Failed to initialize file logging: %v", err)
	l.Warnf("Falling back to stderr logging")
	return l
}

func newZerolog(w io.Writer, component, sessID string) zerolog.Logger {
	ctx := zerolog.New(w).Level(levelFromEnv()).With().Timestamp().Str("component", component)
	if sessID != "" {
		ctx = ctx.Str("session", sessID)
	}
	return ctx.Logger()
}

func levelFromEnv() zerolog.Level {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(EnvLogLevel)))
	if raw == "" {
		return zerolog.InfoLevel
	}
	lvl, err := zerolog.ParseLevel(raw)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// SetLevel changes the minimum level of l. Components derived afterwards
// inherit it. Call before l is shared between goroutines.
func (l *Logger) SetLevel(level string) error {
	if l == nil {
		return nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	l.zl = l.zl.Level(lvl)
	return nil
}

// Component returns a logger for a sub-component sharing the same output.
func (l *Logger) Component(name string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{
		sessionID: l.sessionID,
		component: name,
		zl:        l.zl.With().Str("component", name).Logger(),
		logPath:   l.logPath,
	}
}

// With returns a child logger carrying an extra field.
func (l *Logger) With(key string, value any) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{
		sessionID: l.sessionID,
		component: l.component,
		zl:        l.zl.With().Interface(key, value).Logger(),
		logPath:   l.logPath,
	}
}

// Debugf logs a debug-level message
func (l *Logger) Debugf(format string, v ...any) {
	if l == nil {
		return
	}
	l.zl.Debug().Msgf(format, v...)
}

// Infof logs an info-level message
func (l *Logger) Infof(format string, v ...any) {
	if l == nil {
		return
	}
	l.zl.Info().Msgf(format, v...)
}

// Warnf logs a warning-level message
func (l *Logger) Warnf(format string, v ...any) {
	if l == nil {
		return
	}
	l.zl.Warn().Msgf(format, v...)
}

// Errorf logs an error-level message
func (l *Logger) Errorf(format string, v ...any) {
	if l == nil {
		return
	}
	l.zl.Error().Msgf(format, v...)
}

// Event logs a structured info-level event with the given fields.
func (l *Logger) Event(msg string, fields map[string]any) {
	if l == nil {
		return
	}
	l.zl.Info().Fields(fields).Msg(msg)
}

// Zerolog exposes the underlying zerolog logger.
func (l *Logger) Zerolog() zerolog.Logger {
	if l == nil {
		return zerolog.Nop()
	}
	return l.zl
}

// SessionID returns the process-wide session ID
func (l *Logger) SessionID() string {
	if l == nil {
		return ""
	}
	return l.sessionID
}

// LogPath returns the path to the log file, empty for non-file loggers
func (l *Logger) LogPath() string {
	if l == nil {
		return ""
	}
	return l.logPath
}

// Close closes the log file. Safe to call multiple times.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	var err error
	l.closeOnce.Do(func() {
		if l.file != nil {
			err = l.file.Close()
		}
	})
	return err
}

// DebugPayloads reports whether request and response bodies should be logged.
func DebugPayloads() bool {
	return envFlag(EnvDebug)
}

func envFlag(name string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// GetSessionID returns the current global session ID
func GetSessionID() string {
	return getSessionID()
}

// GetLogDirectory returns the directory where logs are stored
func GetLogDirectory() (string, error) {
	if err := initLogDirectory(); err != nil {
		return "", err
	}
	return logDir, nil
}

// since formats the elapsed time since start in milliseconds.
func since(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}

// Timed logs msg at debug level with the elapsed time since start.
func (l *Logger) Timed(msg string, start time.Time) {
	if l == nil {
		return
	}
	l.zl.Debug().Float64("duration_ms", since(start)).Msg(msg)
}
