// Package netlog is the structured logging surface used across the module.
package netlog

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

type Logger interface {
	Info(msg string, keyValues ...any)
	Error(msg string, keyValues ...any)
	Debug(msg string, keyValues ...any)
	Warn(msg string, keyValues ...any)
	With(keyValues ...any) Logger
}

type slogLogger struct {
	logger *slog.Logger
}

func NewSlog(logger *slog.Logger) Logger {
	return &slogLogger{logger: logger}
}

// New builds a text logger writing to w at the named level.
func New(level string, w io.Writer) (Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})
	return NewSlog(slog.New(h)), nil
}

func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("netlog: unknown level %q", level)
}

func (l *slogLogger) Info(msg string, keyValues ...any) {
	l.logger.Info(msg, keyValues...)
}

func (l *slogLogger) Error(msg string, keyValues ...any) {
	l.logger.Error(msg, keyValues...)
}

func (l *slogLogger) Debug(msg string, keyValues ...any) {
	l.logger.Debug(msg, keyValues...)
}

func (l *slogLogger) Warn(msg string, keyValues ...any) {
	l.logger.Warn(msg, keyValues...)
}

func (l *slogLogger) With(keyValues ...any) Logger {
	return &slogLogger{logger: l.logger.With(keyValues...)}
}

type nop struct{}

// Nop discards everything.
func Nop() Logger { return nop{} }

func (nop) Info(string, ...any)  {}
func (nop) Error(string, ...any) {}
func (nop) Debug(string, ...any) {}
func (nop) Warn(string, ...any)  {}
func (nop) With(...any) Logger   { return nop{} }

// OrNop returns l, or a discarding logger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return nop{}
	}
	return l
}
