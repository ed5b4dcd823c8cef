// Package errors holds the sentinel set shared by the repos and services.
// Callers classify failures with errors.Is and let the transport layer map
// each sentinel onto a status code.
package errors

import "errors"

var (
	// ErrNotFound: the row (user, conversation, source, quiz) does not
	// exist or is soft-deleted.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized: the caller's credentials or token are wrong, or the
	// resource belongs to someone else.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidArgument: the request shape is fine but a value is not.
	ErrInvalidArgument = errors.New("invalid argument")
)
