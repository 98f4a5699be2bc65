package pebbleng

// status.go classifies pebble errors into the engine status vocabulary so
// the binding layer sees the same codes from every provider.

import (
	"errors"
	"os"
	"strings"

	"github.com/cockroachdb/pebble"

	"github.com/aalhour/rockbridge/internal/engine"
)

// classify converts a pebble or OS error into an *engine.Status. A nil
// error stays nil; an error that already is a status passes through.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var st *engine.Status
	if errors.As(err, &st) {
		return st
	}
	if errors.Is(err, pebble.ErrNotFound) {
		return engine.NotFound
	}
	if errors.Is(err, os.ErrNotExist) {
		return engine.Statusf(engine.CodeInvalidArgument, "%v", err)
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "already exists"):
		return engine.Statusf(engine.CodeInvalidArgument, "%v", err)
	case strings.Contains(msg, "does not exist"):
		return engine.Statusf(engine.CodeInvalidArgument, "%v", err)
	case strings.Contains(msg, "lock held"),
		strings.Contains(msg, "resource temporarily unavailable"):
		// Another process holds the database's file lock.
		return engine.Statusf(engine.CodeBusy, "%v", err)
	case strings.Contains(msg, "corrupt"),
		strings.Contains(msg, "checksum"):
		return engine.Statusf(engine.CodeCorruption, "%v", err)
	case strings.Contains(msg, "pebble: closed"),
		strings.Contains(msg, "pebble: batch committed"):
		return engine.Statusf(engine.CodeInvalidArgument, "%v", err)
	default:
		return engine.Statusf(engine.CodeIOError, "%v", err)
	}
}
