// Package errs classifies sessionyard failures into a small set of kinds
// that callers can branch on without parsing error strings.
package errs

import (
	"errors"
	"io/fs"
	"os"
)

// Kind is the semantic class of a failure. A Kind is itself an error so
// that errors.Is(err, errs.KindCoordination) works on wrapped errors.
type Kind string

const (
	KindInvalidInput     Kind = "invalid_input"
	KindInvalidUTF8      Kind = "invalid_utf8"
	KindDatabase         Kind = "database"
	KindCoordination     Kind = "coordination"
	KindPermissionDenied Kind = "permission_denied"
	KindConnectionFailed Kind = "connection_failed"
	KindNotConnected     Kind = "not_connected"
	KindRequestFailed    Kind = "request_failed"
	KindAgentNotFound    Kind = "agent_not_found"
	KindRuntime          Kind = "runtime"
	KindUnknown          Kind = "unknown"
)

func (k Kind) Error() string {
	return string(k)
}

// Retryable reports whether a caller may reasonably retry an operation that
// failed with this kind. Nothing in sessionyard retries on its own.
func (k Kind) Retryable() bool {
	switch k {
	case KindDatabase, KindCoordination, KindConnectionFailed, KindRequestFailed:
		return true
	}
	return false
}

type classifiedError struct {
	kind  Kind
	msg   string
	cause error
}

func (e *classifiedError) Error() string {
	switch {
	case e.msg != "" && e.cause != nil:
		return e.msg + ": " + e.cause.Error()
	case e.msg != "":
		return e.msg
	case e.cause != nil:
		return e.cause.Error()
	}
	return string(e.kind)
}

func (e *classifiedError) Unwrap() error {
	return e.cause
}

func (e *classifiedError) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.kind
}

// New returns an error of the given kind with no underlying cause.
func New(kind Kind, msg string) error {
	return &classifiedError{kind: kind, msg: msg}
}

// Wrap attaches a kind and optional message to cause. A nil cause yields nil.
// Wrapping an already-classified error keeps the innermost kind visible to
// errors.Is while KindOf reports the outermost one.
func Wrap(cause error, kind Kind, msg string) error {
	if cause == nil {
		return nil
	}
	return &classifiedError{kind: kind, msg: msg, cause: cause}
}

// KindOf returns the most specific kind known for err. Unclassified
// permission failures are recognised from the os layer; everything else
// unclassified is KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.kind
	}
	if errors.Is(err, fs.ErrPermission) || os.IsPermission(err) {
		return KindPermissionDenied
	}
	return KindUnknown
}

// FromFS classifies a filesystem error: permission failures become
// KindPermissionDenied, anything else KindRuntime.
func FromFS(err error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrPermission) {
		return Wrap(err, KindPermissionDenied, msg)
	}
	return Wrap(err, KindRuntime, msg)
}
