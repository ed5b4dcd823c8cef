// Package apierr carries an HTTP status and a machine-readable code with an
// error, so services can decide how a failure renders without importing the
// transport layer.
package apierr

import "fmt"

// Error is matched by handlers with errors.As; Status becomes the response
// status and Code the envelope's error code (e.g. "invalid_num_questions").
type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a status and code. err may be nil when the code alone
// says enough.
func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}
