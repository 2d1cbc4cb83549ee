package models

import "errors"

// ============================================================================
// Sync Error Taxonomy
//
// Every failure the engine can surface falls into one of these kinds:
//
//   Transport:    network/server unreachable, timeout, or 5xx. Retried
//                 with exponential backoff.
//   Conflict:     remote state diverged from the local intent. Requires an
//                 explicit resolution decision; never auto-retried.
//   Verification: the write reported success but a re-fetch could not
//                 confirm it. Retried with backoff, but carries a distinct
//                 diagnostic so "we know it didn't happen" is separable
//                 from "we don't know if it happened".
//   Dependency:   the record is waiting on another record; not an error
//                 state, just ineligibility for the current pass.
//   Storage:      the local persistent store is unavailable. Fatal for the
//                 current pass: abort without item-level state changes.
//   DeadLetter:   the retry ceiling was exceeded; the record stays Failed
//                 until a manual retry.
// ============================================================================

// SyncErrorKind classifies a sync failure for dispatch decisions and status
// reporting.
type SyncErrorKind int

const (
	ErrKindTransport SyncErrorKind = iota + 1
	ErrKindConflict
	ErrKindVerification
	ErrKindDependency
	ErrKindStorage
	ErrKindDeadLetter
)

// String returns the snake_case name used in logs and API responses.
func (k SyncErrorKind) String() string {
	switch k {
	case ErrKindTransport:
		return "transport"
	case ErrKindConflict:
		return "conflict"
	case ErrKindVerification:
		return "verification"
	case ErrKindDependency:
		return "dependency_unmet"
	case ErrKindStorage:
		return "storage_unavailable"
	case ErrKindDeadLetter:
		return "dead_lettered"
	}
	return "unknown"
}

// SyncError is an error carrying its taxonomy kind. The coordinator switches
// on the kind rather than on message strings.
type SyncError struct {
	Kind SyncErrorKind
	Msg  string
	Err  error // underlying cause, may be nil
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *SyncError) Unwrap() error {
	return e.Err
}

// NewSyncError creates a classified error with no underlying cause.
func NewSyncError(kind SyncErrorKind, msg string) *SyncError {
	return &SyncError{Kind: kind, Msg: msg}
}

// WrapSyncError classifies an underlying error.
func WrapSyncError(kind SyncErrorKind, err error, msg string) *SyncError {
	return &SyncError{Kind: kind, Msg: msg, Err: err}
}

// ErrorKind extracts the taxonomy kind from an error chain.
// Returns 0 for unclassified errors; the dispatcher treats those
// as transport-class (retryable) by default.
func ErrorKind(err error) SyncErrorKind {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}

// Sentinel signals from the remote collaborator. These are returned bare
// (never wrapped) by RemoteService implementations so the dispatcher can
// compare them directly.
var (
	// ErrRemoteAbsent means the remote has no record for the given entity.
	ErrRemoteAbsent = errors.New("remote record not found")

	// ErrRemoteConflict is the server-reported conflict signal: a version
	// mismatch for Update/Delete, or pre-existence for Create.
	ErrRemoteConflict = errors.New("remote reported a version conflict")
)

// VerificationFailedDiagnostic is the LastError prefix for records that
// failed post-write verification. Kept distinct from transport messages so
// operators and tests can tell the two failure modes apart.
const VerificationFailedDiagnostic = "post-write verification failed"
