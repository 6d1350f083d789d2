package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// default error is internal service error at handler level
// if error has different status code use ErrorWithStatusCode
type ErrorWithStatusCode struct {
	Message    string
	StatusCode int
}

func (e *ErrorWithStatusCode) Error() string {
	return e.Message
}

var (
	NotFound = &ErrorWithStatusCode{Message: "Not found", StatusCode: http.StatusNotFound}

	// ErrUnauthenticated blocks a mutation before anything is sent.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrTimeout is recorded on mutations that got no response in time.
	ErrTimeout = errors.New("mutation timed out")
	// ErrConflictDiscarded is returned for writes older than the state already applied.
	// Expected race, never shown to the user.
	ErrConflictDiscarded = errors.New("conflict discarded: stale sequence")
)

// Check if err is instance of T for custom error types
func Is[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("Validation error: %s", e.Message)
	}
	return fmt.Sprintf("Validation error: %s: %s", e.Field, e.Message)
}

// NetworkError wraps a failed round-trip. StatusCode is 0 when the server never answered.
type NetworkError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Rejected reports whether the server answered with a client error,
// e.g. it refused content the local validation let through.
func (e *NetworkError) Rejected() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}
