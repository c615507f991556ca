package http

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"koffers/internal/domain/connection"
	"koffers/internal/domain/notification"
	"koffers/internal/domain/receipt"
	"koffers/internal/domain/transaction"
	"koffers/internal/shared/apperr"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   apperr.Code
	}{
		{"connection not found", fmt.Errorf("load: %w", connection.ErrConnectionNotFound), 404, apperr.CodeNotFound},
		{"transaction not found", transaction.ErrTransactionNotFound, 404, apperr.CodeNotFound},
		{"receipt forbidden", receipt.ErrForbidden, 403, apperr.CodeForbidden},
		{"device type", fmt.Errorf("%w: %v", notification.ErrInvalidInput, notification.ErrInvalidDeviceType), 400, apperr.CodeInvalidInput},
		{"bare transition", receipt.ErrInvalidTransition, 409, apperr.CodeInvalidState},
		{"reauth", apperr.New(apperr.CodeReauthRequired, "login required"), 409, apperr.CodeReauthRequired},
		{"sync in progress", apperr.New(apperr.CodeSyncInProgress, "busy"), 409, apperr.CodeSyncInProgress},
		{"provider error", apperr.Wrap(apperr.CodeProviderError, errors.New("500"), "provider"), 502, apperr.CodeProviderError},
		{"provider unavailable", apperr.New(apperr.CodeProviderUnavailable, "retries exhausted"), 502, apperr.CodeProviderUnavailable},
		{"code wins over sentinel", apperr.Wrap(apperr.CodeNotFound, connection.ErrForbidden, "x"), 404, apperr.CodeNotFound},
		{"persistence", apperr.New(apperr.CodePersistenceFailed, "db"), 500, apperr.CodePersistenceFailed},
		{"unknown", errors.New("boom"), 500, apperr.CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := classify(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, code)
		})
	}
}

func TestWriteDomainError_HidesInternalMessages(t *testing.T) {
	rr := httptest.NewRecorder()
	writeDomainError(rr, zap.NewNop(), errors.New("pq: password authentication failed"), "failed to list receipts")

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	e := decodeError(t, rr)
	assert.Equal(t, "failed to list receipts", e.Error)
	assert.Equal(t, apperr.CodeInternal, e.Code)

	rr = httptest.NewRecorder()
	writeDomainError(rr, zap.NewNop(), receipt.ErrReceiptNotFound, "failed")
	assert.Equal(t, "receipt file not found", decodeError(t, rr).Error)
}
