// Package errors provides the engine's structured fault taxonomy.
// Every fault inside a polling tick or a sequencer step is converted to one
// of these codes and degraded; nothing propagates to the scheduler loop.
package errors

import "fmt"

// Code classifies a fault.
type Code int

const (
	Unknown Code = iota
	CaptureFault
	CompareFault
	OracleFault
	ResolutionFault
	AlreadyRunning
	NoValidSteps
	ConfigInvalid
	StorageFault
)

var codeNames = map[Code]string{
	Unknown:         "UNKNOWN",
	CaptureFault:    "CAPTURE_FAULT",
	CompareFault:    "COMPARE_FAULT",
	OracleFault:     "ORACLE_FAULT",
	ResolutionFault: "RESOLUTION_FAULT",
	AlreadyRunning:  "ALREADY_RUNNING",
	NoValidSteps:    "NO_VALID_STEPS",
	ConfigInvalid:   "CONFIG_INVALID",
	StorageFault:    "STORAGE_FAULT",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return "UNKNOWN"
}

// Error carries a code, a message, and an optional cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error { return e.Cause }

// New creates an Error with the given code and message.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an existing error.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, Cause: err}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// CodeOf extracts the code from err, walking the cause chain.
func CodeOf(err error) Code {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return Unknown
}

// IsCode reports whether err (or any wrapped cause) carries the given code.
func IsCode(err error, code Code) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
