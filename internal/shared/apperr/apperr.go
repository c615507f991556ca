// Package apperr carries machine-readable reason codes alongside errors so
// callers (HTTP handlers, jobs, UIs) can branch on the failure kind instead
// of parsing messages.
package apperr

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable failure reason.
type Code string

const (
	CodeNotFound               Code = "not_found"
	CodeInvalidInput           Code = "invalid_input"
	CodeForbidden              Code = "forbidden"
	CodeUnauthorized           Code = "unauthorized"
	CodeReauthRequired         Code = "reauth_required"
	CodeConnectionDisconnected Code = "connection_disconnected"
	CodeProviderUnavailable    Code = "provider_unavailable"
	CodeProviderError          Code = "provider_error"
	CodeMalformedRecord        Code = "malformed_record"
	CodeUnknownAccount         Code = "unknown_account"
	CodePersistenceFailed      Code = "persistence_failed"
	CodePageLimitReached       Code = "page_limit_reached"
	CodeInvalidState           Code = "invalid_state"
	CodeExtractionFailed       Code = "extraction_failed"
	CodeSyncInProgress         Code = "sync_in_progress"
	CodeInternal               Code = "internal"
)

// Error is an error annotated with a reason code.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Code)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same code, so
// errors.Is(err, apperr.New(apperr.CodeNotFound, "")) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// New creates an error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap annotates err with a code. Returns nil when err is nil.
func Wrap(code Code, err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
