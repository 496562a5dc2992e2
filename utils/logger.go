package utils

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger provides leveled logging throughout the application. Messages are
// printf-style and carry a "[component]" prefix by convention.
type Logger struct {
	out   *slog.Logger
	level *slog.LevelVar
}

// NewLogger creates a Logger writing text records to stdout at info level.
func NewLogger() *Logger {
	return NewLoggerTo(os.Stdout, "info")
}

// NewLoggerTo creates a Logger writing to w at the named level
// (debug, info, warn or error). Unknown names fall back to info.
func NewLoggerTo(w io.Writer, level string) *Logger {
	lv := new(slog.LevelVar)
	lv.Set(ParseLevel(level))
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: lv})
	return &Logger{out: slog.New(h), level: lv}
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLevel changes the minimum level at runtime.
func (l *Logger) SetLevel(name string) {
	l.level.Set(ParseLevel(name))
}

// Slog exposes the underlying structured logger for libraries that want one.
func (l *Logger) Slog() *slog.Logger {
	return l.out
}

func (l *Logger) log(level slog.Level, format string, args ...any) {
	if !l.out.Enabled(context.Background(), level) {
		return
	}
	l.out.Log(context.Background(), level, fmt.Sprintf(format, args...))
}

func (l *Logger) Info(format string, args ...any) {
	l.log(slog.LevelInfo, format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.log(slog.LevelWarn, format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.log(slog.LevelError, format, args...)
}

func (l *Logger) Debug(format string, args ...any) {
	l.log(slog.LevelDebug, format, args...)
}
