package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	tests := []struct {
		level     Level
		wantError bool
		wantWarn  bool
		wantInfo  bool
		wantDebug bool
	}{
		{LevelError, true, false, false, false},
		{LevelWarn, true, true, false, false},
		{LevelInfo, true, true, true, false},
		{LevelDebug, true, true, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(&buf, tt.level)

			logger.Errorf("error message")
			logger.Warnf("warn message")
			logger.Infof("info message")
			logger.Debugf("debug message")

			output := buf.String()

			if got := strings.Contains(output, "error message"); got != tt.wantError {
				t.Errorf("error logged: got %v, want %v", got, tt.wantError)
			}
			if got := strings.Contains(output, "warn message"); got != tt.wantWarn {
				t.Errorf("warn logged: got %v, want %v", got, tt.wantWarn)
			}
			if got := strings.Contains(output, "info message"); got != tt.wantInfo {
				t.Errorf("info logged: got %v, want %v", got, tt.wantInfo)
			}
			if got := strings.Contains(output, "debug message"); got != tt.wantDebug {
				t.Errorf("debug logged: got %v, want %v", got, tt.wantDebug)
			}
		})
	}
}

func TestFormattingAndNamespace(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelDebug)

	logger.Infof("%scommitted txn %d", NSTxn, 7)

	output := buf.String()
	if !strings.Contains(output, "[txn] committed txn 7") {
		t.Errorf("formatted message with namespace not found, got: %s", output)
	}
	if !strings.Contains(output, `"level":"info"`) {
		t.Errorf("level field not found, got: %s", output)
	}
	if !strings.Contains(output, `"time"`) {
		t.Errorf("timestamp field not found, got: %s", output)
	}
}

func TestDiscardLogger(t *testing.T) {
	// Just verify it doesn't panic
	Discard.Errorf("error %d", 1)
	Discard.Warnf("warn %d", 1)
	Discard.Infof("info %d", 1)
	Discard.Debugf("debug %d", 1)
}

func TestLevelString(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelError, "ERROR"},
		{LevelWarn, "WARN"},
		{LevelInfo, "INFO"},
		{LevelDebug, "DEBUG"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestNamespaceConstants(t *testing.T) {
	namespaces := []string{NSDB, NSTxn, NSFFI, NSEngine}
	for _, ns := range namespaces {
		if !strings.HasPrefix(ns, "[") || !strings.Contains(ns, "] ") {
			t.Errorf("namespace %q should be in %q format", ns, "[name] ")
		}
	}
}

func TestOrDefault(t *testing.T) {
	if OrDefault(nil) == nil {
		t.Fatal("OrDefault(nil) returned nil")
	}

	var typedNil *DiscardLogger
	if OrDefault(typedNil) == nil {
		t.Fatal("OrDefault(typed nil) returned nil")
	}

	if got := OrDefault(Discard); got != Discard {
		t.Errorf("OrDefault(Discard) = %v, want the logger unchanged", got)
	}
}
