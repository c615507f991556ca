// Package http holds the chi handlers of the koffers API. Every error
// response has the shape {"error": "...", "code": "..."}.
package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"koffers/internal/domain/account"
	"koffers/internal/domain/connection"
	"koffers/internal/domain/notification"
	"koffers/internal/domain/receipt"
	"koffers/internal/domain/transaction"
	"koffers/internal/shared/apperr"
	"koffers/internal/shared/middleware"
)

const maxBodySize = 1 << 20 // 1 MiB

type ErrorResponse struct {
	Error string      `json:"error"`
	Code  apperr.Code `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code apperr.Code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

// writeDomainError maps err to a status. Server-side failures are logged
// and their message withheld.
func writeDomainError(w http.ResponseWriter, log *zap.Logger, err error, fallback string) {
	status, code := classify(err)
	msg := err.Error()
	if status >= 500 && status != http.StatusBadGateway {
		log.Error(fallback, zap.Error(err))
		msg = fallback
	}
	writeError(w, status, code, msg)
}

var (
	notFoundErrors = []error{
		connection.ErrConnectionNotFound,
		account.ErrAccountNotFound,
		transaction.ErrTransactionNotFound,
		receipt.ErrReceiptNotFound,
		notification.ErrNotificationNotFound,
	}
	forbiddenErrors = []error{
		connection.ErrForbidden,
		account.ErrForbidden,
		receipt.ErrForbidden,
	}
	invalidInputErrors = []error{
		connection.ErrInvalidInput,
		account.ErrInvalidInput,
		transaction.ErrInvalidInput,
		receipt.ErrInvalidInput,
		notification.ErrInvalidInput,
		notification.ErrInvalidCategory,
		notification.ErrInvalidToken,
		notification.ErrInvalidDeviceType,
	}
)

func isAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

func classify(err error) (int, apperr.Code) {
	// Codes attached by the domain win over the sentinel they wrap.
	var coded *apperr.Error
	if errors.As(err, &coded) {
		return statusForCode(coded.Code), coded.Code
	}
	switch {
	case isAny(err, notFoundErrors):
		return http.StatusNotFound, apperr.CodeNotFound
	case isAny(err, forbiddenErrors):
		return http.StatusForbidden, apperr.CodeForbidden
	case isAny(err, invalidInputErrors):
		return http.StatusBadRequest, apperr.CodeInvalidInput
	case errors.Is(err, receipt.ErrInvalidTransition):
		return http.StatusConflict, apperr.CodeInvalidState
	}
	return http.StatusInternalServerError, apperr.CodeInternal
}

func statusForCode(code apperr.Code) int {
	switch code {
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeInvalidInput, apperr.CodeMalformedRecord:
		return http.StatusBadRequest
	case apperr.CodeUnauthorized:
		return http.StatusUnauthorized
	case apperr.CodeForbidden:
		return http.StatusForbidden
	case apperr.CodeReauthRequired, apperr.CodeConnectionDisconnected,
		apperr.CodeInvalidState, apperr.CodeSyncInProgress:
		return http.StatusConflict
	case apperr.CodeProviderUnavailable, apperr.CodeProviderError, apperr.CodeExtractionFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// requireUser returns the authenticated user ID or writes 401.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.UserIDFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, apperr.CodeUnauthorized, "authentication required")
		return "", false
	}
	return userID, true
}

// decodeJSON reads a bounded JSON body into v, writing 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, apperr.CodeInvalidInput, "invalid request body")
		return false
	}
	return true
}
