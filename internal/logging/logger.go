// Package logging provides the logging interface and default implementations
// for rockbridge.
//
// Design: four-level printf interface so users can wrap whatever structured
// logger they already run. The default implementation is backed by zerolog.
//
// Log lines carry a component namespace prefix for filtering:
//
//   - [db]     — handle lifecycle and database operations
//   - [txn]    — transactions
//   - [ffi]    — native library loading and symbol binding
//   - [engine] — provider internals
package logging

import (
	"io"
	"os"
	"reflect"

	"github.com/rs/zerolog"
)

// Level controls which messages a logger emits.
type Level int

const (
	// LevelError logs only errors.
	LevelError Level = iota
	// LevelWarn logs warnings and errors.
	LevelWarn
	// LevelInfo logs info, warnings, and errors.
	LevelInfo
	// LevelDebug logs everything.
	LevelDebug
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// Logger is the interface the binding logs through.
//
// Implementations must be safe for concurrent use; logging happens from
// whatever goroutines drive the database.
type Logger interface {
	// Errorf logs a formatted error message.
	Errorf(format string, args ...any)

	// Warnf logs a formatted warning message.
	Warnf(format string, args ...any)

	// Infof logs a formatted informational message.
	Infof(format string, args ...any)

	// Debugf logs a formatted debug message.
	Debugf(format string, args ...any)
}

// Namespace prefixes for log messages.
const (
	// NSDB is the namespace for handle lifecycle and database operations.
	NSDB = "[db] "
	// NSTxn is the namespace for transaction operations.
	NSTxn = "[txn] "
	// NSFFI is the namespace for native library loading.
	NSFFI = "[ffi] "
	// NSEngine is the namespace for provider internals.
	NSEngine = "[engine] "
)

type zeroLogger struct {
	log zerolog.Logger
}

// New creates a zerolog-backed Logger writing to w at the given level.
func New(w io.Writer, level Level) Logger {
	zl := zerolog.New(w).Level(zerologLevel(level)).With().Timestamp().Logger()
	return &zeroLogger{log: zl}
}

// NewDefaultLogger creates a zerolog-backed Logger writing to stderr.
func NewDefaultLogger(level Level) Logger {
	return New(os.Stderr, level)
}

func zerologLevel(level Level) zerolog.Level {
	switch level {
	case LevelError:
		return zerolog.ErrorLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelDebug:
		return zerolog.DebugLevel
	default:
		return zerolog.WarnLevel
	}
}

func (l *zeroLogger) Errorf(format string, args ...any) {
	l.log.Error().Msgf(format, args...)
}

func (l *zeroLogger) Warnf(format string, args ...any) {
	l.log.Warn().Msgf(format, args...)
}

func (l *zeroLogger) Infof(format string, args ...any) {
	l.log.Info().Msgf(format, args...)
}

func (l *zeroLogger) Debugf(format string, args ...any) {
	l.log.Debug().Msgf(format, args...)
}

// OrDefault returns l when it is usable and a WARN-level default otherwise.
// A typed-nil pointer stored in the interface counts as unusable; calling
// through it would panic far from the assignment that caused it.
func OrDefault(l Logger) Logger {
	if isNil(l) {
		return NewDefaultLogger(LevelWarn)
	}
	return l
}

func isNil(l Logger) bool {
	if l == nil {
		return true
	}
	v := reflect.ValueOf(l)
	return v.Kind() == reflect.Ptr && v.IsNil()
}
