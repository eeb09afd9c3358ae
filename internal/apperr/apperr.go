// Package apperr is the shared error representation for all three services.
//
// The wire protocols described in spec.md §7 format every user-visible
// error as a three-digit numeric code, a space, and a message. Rather than
// keep that convention as a string the protocol layer has to parse back
// out of an arbitrary Go error, Error carries the code as a first-class
// field; Wire() (used by the wire encoders) produces the "CODE message"
// form directly.
package apperr

import (
	"errors"
	"fmt"
)

// Error is a numeric-coded application error, modeled on the teacher's
// StoreError (pkg/store/metadata/errors.go) but using the spec's HTTP-like
// three-digit codes instead of a protocol-neutral enum, since here the code
// *is* the wire format.
type Error struct {
	Code    int
	Message string
	Path    string
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%d %s: %s", e.Code, e.Message, e.Path)
	}
	return fmt.Sprintf("%d %s", e.Code, e.Message)
}

// Wire renders the error the way clients expect to see it on the line:
// "CODE message[: path]" with no trailing newline.
func (e *Error) Wire() string {
	if e.Path != "" {
		return fmt.Sprintf("%d %s: %s", e.Code, e.Message, e.Path)
	}
	return fmt.Sprintf("%d %s", e.Code, e.Message)
}

// New builds an Error with no path.
func New(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds an Error with a formatted message.
func Newf(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithPath returns a copy of e carrying the given path.
func (e *Error) WithPath(path string) *Error {
	cp := *e
	cp.Path = path
	return &cp
}

// Common codes, per spec.md §7.
const (
	BadRequest         = 400
	InvalidCredentials = 401
	PermissionDenied   = 403
	NotFound           = 404
	NotDirectory       = 405
	SequenceError      = 406
	AlreadyExists      = 409
	Precondition       = 412
	TooLarge           = 413
	UnsupportedType    = 415
	InvalidFormat      = 422
	Internal           = 500
	Busy               = 600
)

// As extracts an *Error from err, or reports ok=false.
func As(err error) (*Error, bool) {
	var ae *Error
	ok := errors.As(err, &ae)
	return ae, ok
}

// Code returns the numeric code of err if it is (or wraps) an *Error, else
// Internal — this is the §7 "protocol layer maps [unrecognised errors] to
// 500 Internal error" rule.
func Code(err error) int {
	if ae, ok := As(err); ok {
		return ae.Code
	}
	return Internal
}

// ToWire renders any error, application-coded or not, the way a client
// expects to see it: an application Error renders as "CODE message", any
// other error becomes a generic 500.
func ToWire(err error) string {
	if ae, ok := As(err); ok {
		return ae.Wire()
	}
	return fmt.Sprintf("%d Internal error: %s", Internal, err.Error())
}
