// Package logger provides the shared structured logger used across inboxd
// components. It wraps logrus so call sites deal with a small chainable
// API and never touch the underlying library directly.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger is a named component logger. The zero value is not usable; create
// instances through New or NewDefault.
type Logger struct {
	entry *logrus.Entry
}

// New creates a logger for the named component writing JSON records at the
// given level to out.
func New(name, level string, out io.Writer) *Logger {
	base := logrus.New()
	base.SetOutput(out)
	base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	base.SetLevel(ParseLevel(level))
	return &Logger{entry: base.WithField("component", name)}
}

// NewDefault creates a logger for the named component with the process-wide
// default level, writing to stdout.
func NewDefault(name string) *Logger {
	return New(name, defaultLevel(), os.Stdout)
}

// ParseLevel maps a level name onto a logrus level, defaulting to info for
// unknown values.
func ParseLevel(level string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

func defaultLevel() string {
	if v := os.Getenv("INBOXD_LOG_LEVEL"); v != "" {
		return v
	}
	return "info"
}

// WithField returns a logger carrying an extra structured field.
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

// WithError returns a logger carrying the error as a structured field.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{entry: l.entry.WithError(err)}
}

func (l *Logger) Debug(args ...any)                 { l.entry.Debug(args...) }
func (l *Logger) Info(args ...any)                  { l.entry.Info(args...) }
func (l *Logger) Warn(args ...any)                  { l.entry.Warn(args...) }
func (l *Logger) Error(args ...any)                 { l.entry.Error(args...) }
func (l *Logger) Fatal(args ...any)                 { l.entry.Fatal(args...) }
func (l *Logger) Debugf(format string, args ...any) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }
