package fnet

import (
	"errors"
	"fmt"
)

// Step names the protocol request an error came from.
type Step string

const (
	STEP_SUBMIT   Step = "submit"
	STEP_STATUS   Step = "status"
	STEP_DOWNLOAD Step = "download"
)

var (
	ErrUnsupportedTimeRange = errors.New("no data available before year 1995")
	ErrInvalidWindow        = errors.New("invalid request window")
	ErrInvalidFilter        = errors.New("invalid query filter")

	// ErrAuthentication is returned on HTTP 401, the password is wrong.
	ErrAuthentication = errors.New("unauthorized, check your username and password")
	// ErrService is returned on HTTP 500, the service also answers this way
	// when the username does not exist.
	ErrService = errors.New("internal server error, or the username is wrong")
)

// ValidationError is a local precondition failure, nothing was sent over the network.
type ValidationError struct {
	Field string
	Value any
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("fnet: invalid %s (%v): %s", e.Field, e.Value, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

type UnexpectedStatusError struct {
	Step Step
	Code int
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("fnet: %s: unexpected status code %d", e.Step, e.Code)
}

// ResponseParseError means the submit response did not contain a data handle.
// Body holds the raw response for diagnosis.
type ResponseParseError struct {
	Body string
}

func (e *ResponseParseError) Error() string {
	return fmt.Sprintf("fnet: %s: could not find data handle in response (%d bytes)", STEP_SUBMIT, len(e.Body))
}

// TransportError wraps network level failures (timeouts, resets, dns).
type TransportError struct {
	Step Step
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("fnet: %s: %s", e.Step, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// InvalidPathError means the archive could not be written to the requested location.
type InvalidPathError struct {
	Path string
	Err  error
}

func (e *InvalidPathError) Error() string {
	return fmt.Sprintf("fnet: invalid save path %q: %s", e.Path, e.Err)
}

func (e *InvalidPathError) Unwrap() error {
	return e.Err
}

type statusError struct {
	step Step
	err  error
}

func (e *statusError) Error() string {
	return fmt.Sprintf("fnet: %s: %s", e.step, e.err)
}

func (e *statusError) Unwrap() error {
	return e.err
}
