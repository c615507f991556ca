package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"koffers/internal/domain/account"
	"koffers/internal/shared/logger"
)

type AccountHandler struct {
	accountService *account.Service
	log            *zap.Logger
}

func NewAccountHandler(accountService *account.Service, log *zap.Logger) *AccountHandler {
	return &AccountHandler{accountService: accountService, log: logger.OrNop(log)}
}

// HandleListAccounts returns all accounts for the authenticated user
func (h *AccountHandler) HandleListAccounts(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	accounts, err := h.accountService.ListAccountsByUserID(r.Context(), userID)
	if err != nil {
		writeDomainError(w, h.log.With(zap.String("user_id", userID)), err, "failed to list accounts")
		return
	}
	if accounts == nil {
		accounts = []*account.Account{}
	}
	writeJSON(w, http.StatusOK, accounts)
}

// HandleGetAccount returns one account owned by the authenticated user
func (h *AccountHandler) HandleGetAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	acc, err := h.accountService.GetAccount(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeDomainError(w, h.log, err, "failed to get account")
		return
	}
	writeJSON(w, http.StatusOK, acc)
}
