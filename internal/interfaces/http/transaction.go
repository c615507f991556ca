package http

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"koffers/internal/domain/transaction"
	"koffers/internal/shared/apperr"
	"koffers/internal/shared/logger"
)

const dateLayout = "2006-01-02"

// TransactionMatcher finds transactions a receipt could belong to.
type TransactionMatcher interface {
	FindMatch(ctx context.Context, userID string, amount decimal.Decimal, dateFrom, dateTo time.Time, merchantHint string) ([]*transaction.Transaction, error)
}

type TransactionHandler struct {
	matcher       TransactionMatcher
	toleranceDays int
	log           *zap.Logger
}

// NewTransactionHandler creates the transaction lookup handler. toleranceDays
// widens a single "date" query into a window.
func NewTransactionHandler(matcher TransactionMatcher, toleranceDays int, log *zap.Logger) *TransactionHandler {
	return &TransactionHandler{matcher: matcher, toleranceDays: toleranceDays, log: logger.OrNop(log)}
}

// HandleMatch handles GET /api/transactions/match.
//
// Query: amount (required), and either date or date_from+date_to
// (YYYY-MM-DD), plus an optional merchant hint.
func (h *TransactionHandler) HandleMatch(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	amount, err := decimal.NewFromString(q.Get("amount"))
	if err != nil {
		writeError(w, http.StatusBadRequest, apperr.CodeInvalidInput, "amount must be a decimal number")
		return
	}

	var from, to time.Time
	if d := q.Get("date"); d != "" {
		day, err := time.Parse(dateLayout, d)
		if err != nil {
			writeError(w, http.StatusBadRequest, apperr.CodeInvalidInput, "date must be YYYY-MM-DD")
			return
		}
		from = day.AddDate(0, 0, -h.toleranceDays)
		to = day.AddDate(0, 0, h.toleranceDays)
	} else {
		from, err = time.Parse(dateLayout, q.Get("date_from"))
		if err != nil {
			writeError(w, http.StatusBadRequest, apperr.CodeInvalidInput, "date_from must be YYYY-MM-DD")
			return
		}
		to, err = time.Parse(dateLayout, q.Get("date_to"))
		if err != nil {
			writeError(w, http.StatusBadRequest, apperr.CodeInvalidInput, "date_to must be YYYY-MM-DD")
			return
		}
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, apperr.CodeInvalidInput, "date_to is before date_from")
		return
	}

	txs, err := h.matcher.FindMatch(r.Context(), userID, amount, from, to, q.Get("merchant"))
	if err != nil {
		writeDomainError(w, h.log, err, "failed to find matching transactions")
		return
	}
	if txs == nil {
		txs = []*transaction.Transaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}
