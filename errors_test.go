package rockbridge

// errors_test.go implements tests for the error taxonomy: kind names,
// sentinel matching and the retryable set.

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindString(t *testing.T) {
	cases := []struct {
		kind Kind
		want string
	}{
		{KindOther, "Other"},
		{KindNotFound, "NotFound"},
		{KindCorruption, "Corruption"},
		{KindNotSupported, "NotSupported"},
		{KindInvalidArgument, "InvalidArgument"},
		{KindIOError, "IOError"},
		{KindMergeInProgress, "MergeInProgress"},
		{KindIncomplete, "Incomplete"},
		{KindShutdownInProgress, "ShutdownInProgress"},
		{KindTimedOut, "TimedOut"},
		{KindAborted, "Aborted"},
		{KindBusy, "Busy"},
		{KindExpired, "Expired"},
		{KindTryAgain, "TryAgain"},
		{KindCompactionTooLarge, "CompactionTooLarge"},
		{KindColumnFamilyDropped, "ColumnFamilyDropped"},
	}
	for _, c := range cases {
		if got := c.kind.String(); got != c.want {
			t.Errorf("Kind(%d).String() = %q, want %q", c.kind, got, c.want)
		}
	}
}

func TestErrorMessage(t *testing.T) {
	bare := &Error{Kind: KindNotFound}
	if got := bare.Error(); got != "NotFound" {
		t.Fatalf("Expected 'NotFound', got %q", got)
	}
	withMsg := &Error{Kind: KindIOError, Message: "disk gone"}
	if got := withMsg.Error(); got != "IOError: disk gone" {
		t.Fatalf("Expected 'IOError: disk gone', got %q", got)
	}
}

func TestSentinelMatching(t *testing.T) {
	// A kind-only sentinel matches any error of that kind regardless of
	// message
	err := &Error{Kind: KindBusy, Message: "write conflict on commit"}
	if !errors.Is(err, ErrBusy) {
		t.Fatal("Kind sentinel must match any message")
	}
	if errors.Is(err, ErrAborted) {
		t.Fatal("Sentinel of another kind must not match")
	}

	// Wrapping preserves matchability
	wrapped := fmt.Errorf("loading profile: %w", err)
	if !errors.Is(wrapped, ErrBusy) {
		t.Fatal("Wrapped error must still match its sentinel")
	}
	var e *Error
	if !errors.As(wrapped, &e) || e.Kind != KindBusy {
		t.Fatal("errors.As must recover the structured error")
	}

	// Message-bearing sentinels require the message to agree
	if !errors.Is(ErrDBClosed, ErrInvalidArgument) {
		t.Fatal("Usage errors must match the kind sentinel")
	}
	other := &Error{Kind: KindInvalidArgument, Message: "something else"}
	if errors.Is(other, ErrDBClosed) {
		t.Fatal("Message-bearing sentinel must not match a different message")
	}
	if !errors.Is(ErrNoSavepoint, ErrNotFound) {
		t.Fatal("ErrNoSavepoint is NotFound-kind")
	}
}

func TestRetryableSet(t *testing.T) {
	retryable := map[Kind]bool{
		KindBusy:     true,
		KindTimedOut: true,
		KindAborted:  true,
		KindExpired:  true,
		KindTryAgain: true,
	}
	all := []Kind{
		KindOther, KindNotFound, KindCorruption, KindNotSupported,
		KindInvalidArgument, KindIOError, KindMergeInProgress,
		KindIncomplete, KindShutdownInProgress, KindTimedOut,
		KindAborted, KindBusy, KindExpired, KindTryAgain,
		KindCompactionTooLarge, KindColumnFamilyDropped,
	}
	for _, k := range all {
		e := &Error{Kind: k}
		if got, want := e.Retryable(), retryable[k]; got != want {
			t.Errorf("Kind %s: Retryable() = %v, want %v", k, got, want)
		}
		if got, want := IsRetryable(e), retryable[k]; got != want {
			t.Errorf("Kind %s: IsRetryable() = %v, want %v", k, got, want)
		}
	}

	// Non-Error values are never retryable
	if IsRetryable(errors.New("plain")) {
		t.Fatal("Plain errors are not retryable")
	}
	if IsRetryable(nil) {
		t.Fatal("nil is not retryable")
	}

	// Wrapped transient errors stay retryable
	wrapped := fmt.Errorf("commit: %w", &Error{Kind: KindTimedOut})
	if !IsRetryable(wrapped) {
		t.Fatal("Wrapped transient error must be retryable")
	}
}
