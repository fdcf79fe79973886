// Package apperr defines the error kinds shared by every domain package.
//
// Each named failure wraps exactly one kind, so callers can match either the
// precise failure (errors.Is(err, session.ErrSessionFull)) or its kind
// (errors.Is(err, apperr.ErrConflict)).
package apperr

import "errors"

// Kinds
var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Error is a named failure of a given kind.
type Error struct {
	kind error
	msg  string
}

func (e *Error) Error() string { return e.msg }

// Unwrap exposes the kind to errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.kind }

func NotFound(msg string) *Error     { return &Error{kind: ErrNotFound, msg: msg} }
func Conflict(msg string) *Error     { return &Error{kind: ErrConflict, msg: msg} }
func Unauthorized(msg string) *Error { return &Error{kind: ErrUnauthorized, msg: msg} }

// Kind returns the kind carried by err, or nil when err is not classified.
func Kind(err error) error {
	for _, k := range []error{ErrNotFound, ErrConflict, ErrUnauthorized, ErrStoreUnavailable} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
