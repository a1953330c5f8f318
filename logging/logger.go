// Package logging provides the structured logger shared by every EasyRetouch
// component: zap underneath, console and rotated file output, and automatic
// redaction of credentials before anything is written.
package logging

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger and redacts sensitive fields on every call.
//
// Composition:
//   - FileWriter (rotation via lumberjack)
//   - MultiCore (console + file tee)
//   - SensitiveFilter (API keys, connection strings, SAS signatures)
//
// Example:
//
//	logger, err := NewLogger(Options{Development: true, FilePath: "retouch.log"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	logger.Named("quota").Info("user record updated", zap.String("user_id", "42"))
type Logger struct {
	zap           *zap.Logger
	isDevelopment bool
	logFilePath   string
}

// Options configures NewLogger.
type Options struct {
	// Development selects the colored console encoder and debug level.
	Development bool

	// FilePath is the rotated log file. Empty disables file output.
	FilePath string

	// Level overrides the level implied by Development when non-empty
	// (debug, info, warn, error, fatal).
	Level string

	// File tunes rotation. Zero fields fall back to the defaults.
	File FileWriterConfig

	// Console receives console output. Defaults to os.Stdout.
	Console io.Writer
}

// NewLogger creates a Logger from opts.
//
// Development mode writes colored, human-readable console lines at debug
// level; production writes JSON at info level. The file output is always
// JSON and rotates at 100 MB keeping 5 compressed backups for 30 days
// unless opts.File says otherwise.
func NewLogger(opts Options) (*Logger, error) {
	level := zapcore.InfoLevel
	if opts.Development {
		level = zapcore.DebugLevel
	}
	if opts.Level != "" {
		parsed, ok := lookupLevel(opts.Level)
		if !ok {
			return nil, fmt.Errorf("logging: invalid level %q", opts.Level)
		}
		level = parsed
	}

	console := opts.Console
	if console == nil {
		console = os.Stdout
	}

	var fileWriter zapcore.WriteSyncer
	if opts.FilePath != "" {
		fileConfig := opts.File
		if fileConfig == (FileWriterConfig{}) {
			fileConfig = DefaultFileWriterConfig()
		}
		fileWriter = NewFileWriterWithConfig(opts.FilePath, fileConfig)
	}

	core := NewMultiCore(level, zapcore.AddSync(console), fileWriter, opts.Development)
	zapLogger := zap.New(core,
		zap.AddCaller(),
		zap.AddCallerSkip(1),
	)

	return &Logger{
		zap:           zapLogger,
		isDevelopment: opts.Development,
		logFilePath:   opts.FilePath,
	}, nil
}

// NewNop returns a Logger that discards everything. Intended for tests.
func NewNop() *Logger {
	return &Logger{zap: zap.NewNop()}
}

// FromZap wraps an existing zap logger, e.g. one built on zaptest/observer.
func FromZap(z *zap.Logger) *Logger {
	return &Logger{zap: z}
}

// Sync flushes buffered entries. Call before exiting.
func (l *Logger) Sync() error {
	if l == nil || l.zap == nil {
		return nil
	}
	return l.zap.Sync()
}

// Debug logs at DebugLevel.
func (l *Logger) Debug(msg string, fields ...zap.Field) {
	l.zap.Debug(msg, redactFields(fields)...)
}

// Info logs at InfoLevel.
func (l *Logger) Info(msg string, fields ...zap.Field) {
	l.zap.Info(msg, redactFields(fields)...)
}

// Warn logs at WarnLevel.
func (l *Logger) Warn(msg string, fields ...zap.Field) {
	l.zap.Warn(msg, redactFields(fields)...)
}

// Error logs at ErrorLevel.
func (l *Logger) Error(msg string, fields ...zap.Field) {
	l.zap.Error(msg, redactFields(fields)...)
}

// Fatal logs at FatalLevel and exits the process.
func (l *Logger) Fatal(msg string, fields ...zap.Field) {
	l.zap.Fatal(msg, redactFields(fields)...)
}

// Infof logs a formatted message at InfoLevel. The rendered message is
// scanned for credentials like any string field.
func (l *Logger) Infof(template string, args ...interface{}) {
	l.zap.Info(RedactSensitiveData(fmt.Sprintf(template, args...)))
}

// Warnf logs a formatted message at WarnLevel.
func (l *Logger) Warnf(template string, args ...interface{}) {
	l.zap.Warn(RedactSensitiveData(fmt.Sprintf(template, args...)))
}

// With returns a child logger that always carries fields.
//
// Example:
//
//	reqLogger := logger.With(zap.String("session_id", id), zap.String("user_id", user))
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{
		zap:           l.zap.With(redactFields(fields)...),
		isDevelopment: l.isDevelopment,
		logFilePath:   l.logFilePath,
	}
}

// Named returns a child logger whose entries are tagged with name.
func (l *Logger) Named(name string) *Logger {
	return &Logger{
		zap:           l.zap.Named(name),
		isDevelopment: l.isDevelopment,
		logFilePath:   l.logFilePath,
	}
}

// Zap exposes the underlying zap.Logger.
func (l *Logger) Zap() *zap.Logger {
	return l.zap
}

// IsDevelopment reports whether the logger runs in development mode.
func (l *Logger) IsDevelopment() bool {
	return l.isDevelopment
}

// LogFilePath returns the rotated log file path, if any.
func (l *Logger) LogFilePath() string {
	return l.logFilePath
}

// redactFields runs every field through redactField.
func redactFields(fields []zap.Field) []zap.Field {
	if len(fields) == 0 {
		return fields
	}
	result := make([]zap.Field, len(fields))
	for i, field := range fields {
		result[i] = redactField(field)
	}
	return result
}

// redactField masks a field whose key names a credential, or whose string
// value looks like one. Error fields are rendered and scanned too, since
// provider errors frequently echo request headers.
func redactField(field zap.Field) zap.Field {
	if IsSensitiveField(field.Key) {
		return zap.String(field.Key, RedactedPlaceholder)
	}

	switch field.Type {
	case zapcore.StringType:
		if redacted := RedactSensitiveData(field.String); redacted != field.String {
			return zap.String(field.Key, redacted)
		}
	case zapcore.ErrorType:
		if err, ok := field.Interface.(error); ok && err != nil {
			msg := err.Error()
			if redacted := RedactSensitiveData(msg); redacted != msg {
				return zap.String(field.Key, redacted)
			}
		}
	}
	return field
}
