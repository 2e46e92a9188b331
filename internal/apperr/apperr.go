// Package apperr defines the typed error taxonomy shared by both services.
//
// Every failure that crosses a pipeline boundary (inbound CAS alert, broker
// consume, HTTP ingress) is classified into one of these kinds so callers can
// map it to a NACK note code, an HTTP status, or a retry decision without
// string-matching error messages.
package apperr

import (
	"errors"
	"fmt"
)

// Kind identifies a class of failure. Kinds are semantic, not transport
// specific — the same Kind maps to a CAS note code in one caller and an HTTP
// status in another.
type Kind int

const (
	// KindParsing covers undecodable bytes or XML.
	KindParsing Kind = iota
	// KindValidation covers missing/malformed required fields.
	KindValidation
	// KindProfile covers rule violations, e.g. an event code outside the allowlist.
	KindProfile
	// KindDuplicate covers inbox dedup hits.
	KindDuplicate
	// KindTransientStorage covers retry-eligible storage/transport failures.
	KindTransientStorage
	// KindTerminalStorage covers non-dedup integrity violations; not retried.
	KindTerminalStorage
	// KindAuthentication covers CAS auth rejection.
	KindAuthentication
	// KindFraming covers bad magic numbers or oversize frame lengths.
	KindFraming
)

// NoteCode is the CAS application result note carried inside a NACK envelope.
type NoteCode string

const (
	NoteOK         NoteCode = "000"
	NoteValidation NoteCode = "210"
	NoteProfile    NoteCode = "220"
	NoteDuplicate  NoteCode = "300"
	NoteInternal   NoteCode = "810"
)

// Error is the concrete error type carrying a Kind and a human-readable detail.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Detail, e.Err)
	}
	return e.Detail
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind with a formatted detail message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind wrapping an underlying error.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

// NoteFor maps a Kind to its CAS NACK note code. Kinds with no CAS-facing
// meaning (transient/terminal storage) fall back to the internal note.
func NoteFor(kind Kind) NoteCode {
	switch kind {
	case KindParsing:
		return NoteInternal
	case KindValidation:
		return NoteValidation
	case KindProfile:
		return NoteProfile
	case KindDuplicate:
		return NoteDuplicate
	default:
		return NoteInternal
	}
}

// Retryable reports whether a failure of this kind is worth retrying by a
// broker consumer or poller. Parsing/validation/profile/duplicate failures
// are not retryable — retrying them would produce the same outcome forever.
func Retryable(kind Kind) bool {
	switch kind {
	case KindTransientStorage:
		return true
	default:
		return false
	}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, defaulting to KindTransientStorage for unclassified errors so
// unknown failures are retried rather than silently dropped.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindTransientStorage
}
