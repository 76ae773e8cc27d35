package mproto

import (
	"errors"
	"fmt"
)

// ErrorCode is the numeric code carried in an [Error] body.
// The values match the error codes defined by Maelstrom.
type ErrorCode int

const (
	CodeTimeout                ErrorCode = 0
	CodeNodeNotFound           ErrorCode = 1
	CodeNotSupported           ErrorCode = 10
	CodeTemporarilyUnavailable ErrorCode = 11
	CodeMalformedRequest       ErrorCode = 12
	CodeCrash                  ErrorCode = 13
	CodeAbort                  ErrorCode = 14
)

func (c ErrorCode) String() string {
	switch c {
	case CodeTimeout:
		return "timeout"
	case CodeNodeNotFound:
		return "node-not-found"
	case CodeNotSupported:
		return "not-supported"
	case CodeTemporarilyUnavailable:
		return "temporarily-unavailable"
	case CodeMalformedRequest:
		return "malformed-request"
	case CodeCrash:
		return "crash"
	case CodeAbort:
		return "abort"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(c))
	}
}

// Definite reports whether an operation that failed with c
// is known not to have taken effect.
func (c ErrorCode) Definite() bool {
	switch c {
	case CodeTimeout, CodeCrash:
		return false
	default:
		return true
	}
}

// MalformedError is returned when a message of a known type
// has missing or invalid fields.
// The whole message is rejected.
type MalformedError struct {
	// Type is the message type, if it could be determined.
	Type string

	Err error
}

func (e *MalformedError) Error() string {
	if e.Type == "" {
		return "malformed message: " + e.Err.Error()
	}
	return "malformed " + e.Type + " message: " + e.Err.Error()
}

func (e *MalformedError) Unwrap() error {
	return e.Err
}

var errMissingType = errors.New("missing type field")

// MissingFieldError indicates a required body field was absent.
type MissingFieldError struct {
	Field string
}

func (e MissingFieldError) Error() string {
	return "missing required field " + e.Field
}
