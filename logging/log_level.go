package logging

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// Level aliases so callers need not import zapcore.
const (
	DebugLevel = zapcore.DebugLevel
	InfoLevel  = zapcore.InfoLevel
	WarnLevel  = zapcore.WarnLevel
	ErrorLevel = zapcore.ErrorLevel
	FatalLevel = zapcore.FatalLevel
)

// ParseLogLevelString parses a level name, returning defaultLevel for empty
// or unknown input. Parsing is case-insensitive and accepts "warning".
func ParseLogLevelString(levelStr string, defaultLevel zapcore.Level) zapcore.Level {
	if level, ok := lookupLevel(levelStr); ok {
		return level
	}
	return defaultLevel
}

// ValidLevel reports whether levelStr names a level ParseLogLevelString knows.
func ValidLevel(levelStr string) bool {
	_, ok := lookupLevel(levelStr)
	return ok
}

func lookupLevel(levelStr string) (zapcore.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return zapcore.DebugLevel, true
	case "info":
		return zapcore.InfoLevel, true
	case "warn", "warning":
		return zapcore.WarnLevel, true
	case "error":
		return zapcore.ErrorLevel, true
	case "fatal":
		return zapcore.FatalLevel, true
	default:
		return zapcore.InfoLevel, false
	}
}
