package rockbridge

// errors.go implements the error translation boundary.
//
// Every status signal a storage engine raises is converted into an *Error
// before it reaches callers. Nothing below the binding layer (native status
// strings, provider error types) escapes untranslated; callers dispatch on
// Kind or match sentinels with errors.Is, never on message text.
//
// Reference: RocksDB v10.7.5
//   - include/rocksdb/status.h (Status::Code)

import (
	"errors"

	"github.com/aalhour/rockbridge/internal/engine"
)

// Kind classifies an Error by the native status vocabulary.
type Kind int

// Error kinds. The set enumerates the target engine's complete status code
// list; KindOther absorbs anything a provider reports outside it.
const (
	KindOther Kind = iota
	KindNotFound
	KindCorruption
	KindNotSupported
	KindInvalidArgument
	KindIOError
	KindMergeInProgress
	KindIncomplete
	KindShutdownInProgress
	KindTimedOut
	KindAborted
	KindBusy
	KindExpired
	KindTryAgain
	KindCompactionTooLarge
	KindColumnFamilyDropped
)

// String returns the kind's name.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindCorruption:
		return "Corruption"
	case KindNotSupported:
		return "NotSupported"
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindIOError:
		return "IOError"
	case KindMergeInProgress:
		return "MergeInProgress"
	case KindIncomplete:
		return "Incomplete"
	case KindShutdownInProgress:
		return "ShutdownInProgress"
	case KindTimedOut:
		return "TimedOut"
	case KindAborted:
		return "Aborted"
	case KindBusy:
		return "Busy"
	case KindExpired:
		return "Expired"
	case KindTryAgain:
		return "TryAgain"
	case KindCompactionTooLarge:
		return "CompactionTooLarge"
	case KindColumnFamilyDropped:
		return "ColumnFamilyDropped"
	default:
		return "Other"
	}
}

// Error is the structured diagnostic value every rockbridge operation fails
// with. Code carries the native status code when one existed (0 otherwise).
// An Error is immutable once constructed; callers must not modify fields.
type Error struct {
	Kind    Kind
	Code    int
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Message
}

// Is reports whether target matches this error. A sentinel carrying only a
// Kind matches every error of that kind, so
// errors.Is(err, ErrNotFound) works without string comparison.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Message != "" && t.Message != e.Message {
		return false
	}
	if t.Code != 0 && t.Code != e.Code {
		return false
	}
	return e.Kind == t.Kind
}

// Retryable reports whether the failure is transient. Retrying means
// starting over from BeginTransaction; a faulted transaction is never
// resumed.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindBusy, KindTimedOut, KindAborted, KindExpired, KindTryAgain:
		return true
	default:
		return false
	}
}

// Kind-matching sentinels. errors.Is(err, ErrBusy) is true for any error of
// kind KindBusy regardless of message.
var (
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrCorruption          = &Error{Kind: KindCorruption}
	ErrNotSupported        = &Error{Kind: KindNotSupported}
	ErrInvalidArgument     = &Error{Kind: KindInvalidArgument}
	ErrIOError             = &Error{Kind: KindIOError}
	ErrMergeInProgress     = &Error{Kind: KindMergeInProgress}
	ErrIncomplete          = &Error{Kind: KindIncomplete}
	ErrShutdownInProgress  = &Error{Kind: KindShutdownInProgress}
	ErrTimedOut            = &Error{Kind: KindTimedOut}
	ErrAborted             = &Error{Kind: KindAborted}
	ErrBusy                = &Error{Kind: KindBusy}
	ErrExpired             = &Error{Kind: KindExpired}
	ErrTryAgain            = &Error{Kind: KindTryAgain}
	ErrCompactionTooLarge  = &Error{Kind: KindCompactionTooLarge}
	ErrColumnFamilyDropped = &Error{Kind: KindColumnFamilyDropped}
)

// Usage errors raised by the binding layer itself. All are
// InvalidArgument-kind: they mark programming errors in the caller, reported
// before any native call is made.
var (
	// ErrDBClosed is returned when a handle is used after its database
	// was closed.
	ErrDBClosed = &Error{Kind: KindInvalidArgument, Message: "rockbridge: database is closed"}

	// ErrTransactionDone is returned when a committed or rolled back
	// transaction is used again.
	ErrTransactionDone = &Error{Kind: KindInvalidArgument, Message: "rockbridge: transaction already committed or rolled back"}

	// ErrTransactionFaulted is returned when a faulted transaction is
	// used for anything but Rollback.
	ErrTransactionFaulted = &Error{Kind: KindInvalidArgument, Message: "rockbridge: transaction faulted, rollback required"}

	// ErrIteratorNotValid is returned by Key and Value while the
	// iterator is not positioned at an entry.
	ErrIteratorNotValid = &Error{Kind: KindInvalidArgument, Message: "rockbridge: iterator is not valid"}

	// ErrIteratorClosed is returned when a closed iterator is moved or
	// read.
	ErrIteratorClosed = &Error{Kind: KindInvalidArgument, Message: "rockbridge: iterator is closed"}

	// ErrSnapshotReleased is returned when read options reference a
	// snapshot that was already released.
	ErrSnapshotReleased = &Error{Kind: KindInvalidArgument, Message: "rockbridge: snapshot has been released"}

	// ErrInvalidColumnFamily is returned when a handle from another
	// database, or a dropped handle, is passed in.
	ErrInvalidColumnFamily = &Error{Kind: KindInvalidArgument, Message: "rockbridge: invalid column family handle"}

	// ErrNoSavepoint is returned by RollbackToSavepoint when no
	// savepoint is set.
	ErrNoSavepoint = &Error{Kind: KindNotFound, Message: "rockbridge: no savepoint set"}
)

// IsRetryable reports whether err is a transient *Error.
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable()
}

// kindFromCode maps a native status code onto the public Kind.
func kindFromCode(code engine.Code) Kind {
	switch code {
	case engine.CodeNotFound:
		return KindNotFound
	case engine.CodeCorruption:
		return KindCorruption
	case engine.CodeNotSupported:
		return KindNotSupported
	case engine.CodeInvalidArgument:
		return KindInvalidArgument
	case engine.CodeIOError:
		return KindIOError
	case engine.CodeMergeInProgress:
		return KindMergeInProgress
	case engine.CodeIncomplete:
		return KindIncomplete
	case engine.CodeShutdownInProgress:
		return KindShutdownInProgress
	case engine.CodeTimedOut:
		return KindTimedOut
	case engine.CodeAborted:
		return KindAborted
	case engine.CodeBusy:
		return KindBusy
	case engine.CodeExpired:
		return KindExpired
	case engine.CodeTryAgain:
		return KindTryAgain
	case engine.CodeCompactionTooLarge:
		return KindCompactionTooLarge
	case engine.CodeColumnFamilyDropped:
		return KindColumnFamilyDropped
	default:
		return KindOther
	}
}

// translate converts a provider error into an *Error. It is the single
// choke point between native status signals and the public API; a nil error
// passes through as nil.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var st *engine.Status
	if errors.As(err, &st) {
		return &Error{Kind: kindFromCode(st.Code), Code: int(st.Code), Message: st.Msg}
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: KindOther, Message: err.Error()}
}
