package openfinance

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes the provider uses for credentials the user must refresh.
var reauthCodes = map[string]struct{}{
	"ITEM_LOGIN_REQUIRED":     {},
	"INVALID_ACCESS_TOKEN":    {},
	"ACCESS_NOT_GRANTED":      {},
	"USER_PERMISSION_REVOKED": {},
}

// ProviderError describes a failed provider call. StatusCode is 0 when the
// request never produced a response.
type ProviderError struct {
	StatusCode int
	ErrorType  string
	ErrorCode  string
	Message    string
	RequestID  string
	Err        error
}

func (e *ProviderError) Error() string {
	switch {
	case e.StatusCode == 0 && e.Err != nil:
		return fmt.Sprintf("provider request failed: %v", e.Err)
	case e.ErrorCode != "":
		return fmt.Sprintf("provider error (status %d): %s - %s", e.StatusCode, e.ErrorCode, e.Message)
	default:
		return fmt.Sprintf("provider request failed with status %d", e.StatusCode)
	}
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the same request may succeed:
// transport failures, rate limits and 5xx responses.
func (e *ProviderError) Retryable() bool {
	if e.StatusCode == 0 {
		return true
	}
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500 {
		return true
	}
	return e.ErrorType == "RATE_LIMIT_EXCEEDED" || e.ErrorType == "INSTITUTION_ERROR"
}

// IsReauth reports whether the credential is no longer usable.
func (e *ProviderError) IsReauth() bool {
	if e.StatusCode == http.StatusUnauthorized {
		return true
	}
	_, ok := reauthCodes[e.ErrorCode]
	return ok
}

// AsProviderError extracts a *ProviderError from err's chain.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsRetryable reports whether err is a transient provider failure.
func IsRetryable(err error) bool {
	pe, ok := AsProviderError(err)
	return ok && pe.Retryable()
}

// IsReauth reports whether err means the connection must be re-linked.
func IsReauth(err error) bool {
	pe, ok := AsProviderError(err)
	return ok && pe.IsReauth()
}
