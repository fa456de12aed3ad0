package trip

import (
	"errors"
	"fmt"
)

// ErrorKind classifies coordinator failures for callers: guard violations
// and not-found conditions go back to the user, conflicts are retried before
// surfacing, external failures degrade display only.
type ErrorKind string

const (
	KindGuardViolation      ErrorKind = "guard_violation"
	KindConflict            ErrorKind = "conflict"
	KindNotFound            ErrorKind = "not_found"
	KindExternalUnavailable ErrorKind = "external_unavailable"
	KindOfflineStale        ErrorKind = "offline_stale"
)

type Error struct {
	Kind   ErrorKind
	Op     string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match on kind alone, so callers can compare against
// bare kind-tagged errors without caring about op or reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op) && (t.Reason == "" || t.Reason == e.Reason)
}

func guardErr(op, reason string) *Error {
	return &Error{Kind: KindGuardViolation, Op: op, Reason: reason}
}

func notFoundErr(op, reason string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Reason: reason}
}

func conflictErr(op string, err error) *Error {
	return &Error{Kind: KindConflict, Op: op, Reason: "conditional update kept conflicting", Err: err}
}

func externalErr(op, reason string, err error) *Error {
	return &Error{Kind: KindExternalUnavailable, Op: op, Reason: reason, Err: err}
}

// KindOf extracts the error kind, or "" for foreign errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
