package types

import (
	"log/slog"
	"strings"
)

// LevelTrace is used for per-message logging which is way too chatty
// even for debugging sessions.
const (
	LevelTrace = slog.Level(slog.LevelDebug - 1)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

var logLevelMap = map[string]slog.Level{
	"trace": LevelTrace,
	"debug": LevelDebug,
	"info":  LevelInfo,
	"warn":  LevelWarn,
	"error": LevelError,
}

func ParseLogLevel(level string) (slog.Level, bool) {
	l, ok := logLevelMap[strings.ToLower(level)]
	return l, ok
}

// NewLogger returns the logger a component should use: the default
// logger tagged with the component's name or a discarding one.
func NewLogger(enabled bool, component string) *slog.Logger {
	if !enabled {
		return slog.New(slog.DiscardHandler)
	}
	return slog.Default().With("t", component)
}
