// status.go carries the native status vocabulary across the provider
// boundary. Every fallible provider call returns a *Status; the binding
// layer translates it into the public error type exactly once.
//
// Reference: RocksDB v10.7.5
//   - include/rocksdb/status.h (Status::Code)
//   - util/status.cc (message prefixes)

package engine

import "fmt"

// Code is the native engine's status code.
type Code int

// Status codes, numbered identically to the native engine.
const (
	CodeOk Code = iota
	CodeNotFound
	CodeCorruption
	CodeNotSupported
	CodeInvalidArgument
	CodeIOError
	CodeMergeInProgress
	CodeIncomplete
	CodeShutdownInProgress
	CodeTimedOut
	CodeAborted
	CodeBusy
	CodeExpired
	CodeTryAgain
	CodeCompactionTooLarge
	CodeColumnFamilyDropped
	CodeMaxCode
)

// String returns the native engine's name for the code.
func (c Code) String() string {
	switch c {
	case CodeOk:
		return "OK"
	case CodeNotFound:
		return "NotFound"
	case CodeCorruption:
		return "Corruption"
	case CodeNotSupported:
		return "Not implemented"
	case CodeInvalidArgument:
		return "Invalid argument"
	case CodeIOError:
		return "IO error"
	case CodeMergeInProgress:
		return "Merge in progress"
	case CodeIncomplete:
		return "Result incomplete"
	case CodeShutdownInProgress:
		return "Shutdown in progress"
	case CodeTimedOut:
		return "Operation timed out"
	case CodeAborted:
		return "Operation aborted"
	case CodeBusy:
		return "Resource busy"
	case CodeExpired:
		return "Operation expired"
	case CodeTryAgain:
		return "Operation failed. Try again."
	case CodeCompactionTooLarge:
		return "Compaction too large"
	case CodeColumnFamilyDropped:
		return "Column family dropped"
	default:
		return "Unknown code"
	}
}

// Status is a native status signal with a non-OK code.
type Status struct {
	Code Code
	Msg  string
}

// Error renders the status the way the native engine strings it.
func (s *Status) Error() string {
	if s.Msg == "" {
		return s.Code.String()
	}
	return s.Code.String() + ": " + s.Msg
}

// Statusf builds a *Status with a formatted message.
func Statusf(code Code, format string, args ...any) *Status {
	return &Status{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// NotFound is the shared no-message NotFound status. Lookups miss often
// enough that allocating per miss is wasteful.
var NotFound = &Status{Code: CodeNotFound}
