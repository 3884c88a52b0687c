// Package errors defines the error code system for litweave. Every fatal
// condition of a build surfaces as an *Error carrying one of the codes below.
package errors

import (
	"errors"
	"fmt"
)

// Code is a stable error code string.
type Code string

// Error codes.
const (
	EUsage    Code = "E_USAGE"
	EInternal Code = "E_INTERNAL"
	EIO       Code = "E_IO"

	// Aggregation
	EParse Code = "E_PARSE" // conflicting option or identifier redeclaration

	// Scheduling
	EBuildStall     Code = "E_BUILD_STALL"     // a pass completed zero identifiers
	EUnhandledKind  Code = "E_UNHANDLED_KIND"  // lptype outside the known set
	ESessionExit    Code = "E_SESSION_EXIT"    // exit code differs from expected_exit_code
	ESessionTimeout Code = "E_SESSION_TIMEOUT" // process terminated after its timeout
	ESessionStart   Code = "E_SESSION_START"   // process could not be started

	// Cache. Never fatal, recovered as a cold cache.
	ECacheCorrupt Code = "E_CACHE_CORRUPT"
)

// Error is the standard error type for litweave errors.
type Error struct {
	Code    Code
	Msg     string
	Path    string // source document, if any
	Line    int    // first line of the offending block, if any
	Cause   error
	Details map[string]string
}

// Error returns "CODE: path:line: message", omitting the location when unknown.
func (e *Error) Error() string {
	loc := ""
	switch {
	case e.Path != "" && e.Line > 0:
		loc = fmt.Sprintf("%s:%d: ", e.Path, e.Line)
	case e.Path != "":
		loc = e.Path + ": "
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s%s: %v", e.Code, loc, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s%s", e.Code, loc, e.Msg)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and message.
func New(code Code, msg string) error {
	return &Error{Code: code, Msg: msg}
}

// Newf creates a new Error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// At creates a new Error located at a document path and line.
func At(code Code, path string, line int, format string, args ...any) error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...), Path: path, Line: line}
}

// Wrap creates a new Error wrapping an underlying error.
func Wrap(code Code, msg string, err error) error {
	return &Error{Code: code, Msg: msg, Cause: err}
}

// WithDetails returns err with the details attached if err is an *Error.
// The map is copied.
func WithDetails(err error, details map[string]string) error {
	var e *Error
	if !errors.As(err, &e) || len(details) == 0 {
		return err
	}
	cp := *e
	cp.Details = make(map[string]string, len(details))
	for k, v := range details {
		cp.Details[k] = v
	}
	return &cp
}

// GetCode extracts the error code from an error, or empty string if not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// As returns (*Error, true) if err is or wraps an *Error.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// ExitCode returns the process exit code for an error.
// Returns 0 if err is nil, 2 for E_USAGE, 1 for all other errors.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if GetCode(err) == EUsage {
		return 2
	}
	return 1
}
