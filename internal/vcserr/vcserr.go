// Package vcserr defines the error taxonomy shared across the engine.
//
// Every fallible operation in this module returns either a plain wrapped
// error (for conditions a caller cannot usefully branch on) or an *Error
// carrying one of the Kind values below, so front-ends can map failures to
// exit codes / UI affordances without parsing messages.
package vcserr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure the way a front-end needs to react to it, not by
// the specific message. See spec §7 for the full taxonomy.
type Kind int

const (
	// KindUnknown is the zero value of Kind.
	KindUnknown Kind = iota
	KindNotARepository
	KindRepositoryBusy
	KindCorruption
	KindRefNotFound
	KindRefExists
	KindRefRaceLost
	KindInvalidName
	KindNoCommits
	KindCommitNotFound
	KindAmbiguousHashPrefix
	KindIndexValidation
	KindPathEscapesRoot
	KindPathTooLong
	KindUncommittedChangesWouldBeLost
	KindMergeConflict
	KindStateActive
	KindStateMissing
	KindIOError
	KindCodecError
	KindUnsupportedFormat
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindNotARepository:
		return "NotARepository"
	case KindRepositoryBusy:
		return "RepositoryBusy"
	case KindCorruption:
		return "Corruption"
	case KindRefNotFound:
		return "RefNotFound"
	case KindRefExists:
		return "RefExists"
	case KindRefRaceLost:
		return "RefRaceLost"
	case KindInvalidName:
		return "InvalidName"
	case KindNoCommits:
		return "NoCommits"
	case KindCommitNotFound:
		return "CommitNotFound"
	case KindAmbiguousHashPrefix:
		return "AmbiguousHashPrefix"
	case KindIndexValidation:
		return "IndexValidation"
	case KindPathEscapesRoot:
		return "PathEscapesRoot"
	case KindPathTooLong:
		return "PathTooLong"
	case KindUncommittedChangesWouldBeLost:
		return "UncommittedChangesWouldBeLost"
	case KindMergeConflict:
		return "MergeConflict"
	case KindStateActive:
		return "StateActive"
	case KindStateMissing:
		return "StateMissing"
	case KindIOError:
		return "IOError"
	case KindCodecError:
		return "CodecError"
	case KindUnsupportedFormat:
		return "UnsupportedFormat"
	case KindCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// CorruptionSubkind narrows KindCorruption per spec §7.
type CorruptionSubkind int

const (
	// SubkindNone is used when the caller doesn't need a finer distinction.
	SubkindNone CorruptionSubkind = iota
	SubkindDanglingHash
	SubkindMalformedObject
	SubkindChecksumMismatch
)

func (s CorruptionSubkind) String() string {
	switch s {
	case SubkindDanglingHash:
		return "DanglingHash"
	case SubkindMalformedObject:
		return "MalformedObject"
	case SubkindChecksumMismatch:
		return "ChecksumMismatch"
	default:
		return ""
	}
}

// Error is the concrete error type returned for conditions a caller may
// want to branch on by Kind. Paths is populated for UncommittedChangesWouldBeLost
// and MergeConflict, which must carry the affected file list per spec §7.
type Error struct {
	Kind    Kind
	Subkind CorruptionSubkind
	Paths   []string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Subkind != SubkindNone {
		msg += "/" + e.Subkind.String()
	}
	if len(e.Paths) > 0 {
		msg = fmt.Sprintf("%s (%d paths)", msg, len(e.Paths))
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind wrapping err.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Newf builds an *Error of the given kind from a format string.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// WithPaths attaches the affected path list (for UncommittedChangesWouldBeLost
// and MergeConflict) and returns the receiver for chaining.
func (e *Error) WithPaths(paths []string) *Error {
	e.Paths = paths
	return e
}

// WithSubkind attaches a Corruption subkind and returns the receiver.
func (e *Error) WithSubkind(s CorruptionSubkind) *Error {
	e.Subkind = s
	return e
}

// Is reports whether err is, or wraps, a *Error of the given kind (found via
// errors.As), so callers can branch on Kind without type-asserting everywhere.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
