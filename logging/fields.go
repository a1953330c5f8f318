package logging

import (
	"time"

	"go.uber.org/zap"
)

// Standard field keys used across the retouch components.
const (
	KeyUserID        = "user_id"
	KeySessionID     = "session_id"
	KeyPreset        = "preset"
	KeyCorrelationID = "correlation_id"
	KeyDurationMS    = "duration_ms"
	KeyWidth         = "width"
	KeyHeight        = "height"
	KeyBytes         = "bytes"
)

// UserID tags an entry with the acting user.
func UserID(id string) zap.Field {
	return zap.String(KeyUserID, id)
}

// SessionID tags an entry with a retouch session.
func SessionID(id string) zap.Field {
	return zap.String(KeySessionID, id)
}

// Preset tags an entry with the selected preset name.
func Preset(name string) zap.Field {
	return zap.String(KeyPreset, name)
}

// CorrelationID tags all entries of one remote enhancement call.
func CorrelationID(id string) zap.Field {
	return zap.String(KeyCorrelationID, id)
}

// DurationMS records an elapsed time in milliseconds.
func DurationMS(d time.Duration) zap.Field {
	return zap.Int64(KeyDurationMS, d.Milliseconds())
}

// Dimensions records an image size as two fields.
func Dimensions(width, height int) []zap.Field {
	return []zap.Field{zap.Int(KeyWidth, width), zap.Int(KeyHeight, height)}
}
