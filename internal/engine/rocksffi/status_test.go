package rocksffi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aalhour/rockbridge/internal/engine"
)

func TestStatusFromMessagePrefixes(t *testing.T) {
	cases := []struct {
		msg  string
		code engine.Code
		rest string
	}{
		{"NotFound: key missing", engine.CodeNotFound, "key missing"},
		{"Corruption: block checksum mismatch", engine.CodeCorruption, "block checksum mismatch"},
		{"Not implemented: merge operator", engine.CodeNotSupported, "merge operator"},
		{"Invalid argument: Column family not found: logs", engine.CodeInvalidArgument, "Column family not found: logs"},
		{"IO error: No space left on device", engine.CodeIOError, "No space left on device"},
		{"Merge in progress: pending", engine.CodeMergeInProgress, "pending"},
		{"Result incomplete: scan stopped", engine.CodeIncomplete, "scan stopped"},
		{"Shutdown in progress: closing", engine.CodeShutdownInProgress, "closing"},
		{"Operation timed out: Timeout waiting to lock key", engine.CodeTimedOut, "Timeout waiting to lock key"},
		{"Operation aborted: ", engine.CodeAborted, ""},
		{"Resource busy: ", engine.CodeBusy, ""},
		{"Operation expired: ttl", engine.CodeExpired, "ttl"},
		{"Operation failed. Try again.: write stall", engine.CodeTryAgain, "write stall"},
		{"Compaction too large: limit", engine.CodeCompactionTooLarge, "limit"},
		{"Column family dropped: logs", engine.CodeColumnFamilyDropped, "logs"},
	}
	for _, tc := range cases {
		st := statusFromMessage(tc.msg)
		assert.Equal(t, tc.code, st.Code, "input %q", tc.msg)
		assert.Equal(t, tc.rest, st.Msg, "input %q", tc.msg)
	}
}

func TestStatusFromMessageBareCode(t *testing.T) {
	st := statusFromMessage("NotFound")
	require.Equal(t, engine.CodeNotFound, st.Code)
	require.Empty(t, st.Msg)

	st = statusFromMessage("Resource busy")
	require.Equal(t, engine.CodeBusy, st.Code)
	require.Empty(t, st.Msg)
}

func TestStatusFromMessageUnknown(t *testing.T) {
	st := statusFromMessage("something exploded")
	require.Equal(t, engine.CodeIOError, st.Code)
	require.Equal(t, "something exploded", st.Msg)
}

// Every status the engine package can render must parse back unchanged;
// the C API transports statuses as these strings.
func TestStatusRoundTrip(t *testing.T) {
	for c := engine.CodeNotFound; c < engine.CodeMaxCode; c++ {
		withMsg := engine.Statusf(c, "details for %d", int(c))
		back := statusFromMessage(withMsg.Error())
		require.Equal(t, withMsg.Code, back.Code, "code %v", c)
		require.Equal(t, withMsg.Msg, back.Msg, "code %v", c)

		bare := &engine.Status{Code: c}
		back = statusFromMessage(bare.Error())
		require.Equal(t, c, back.Code, "bare code %v", c)
		require.Empty(t, back.Msg, "bare code %v", c)
	}
}
