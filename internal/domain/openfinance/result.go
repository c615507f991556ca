package openfinance

import (
	"fmt"

	"koffers/internal/shared/apperr"
)

// MaxSyncPages bounds one pagination loop against a feed that never
// reports the end.
const MaxSyncPages = 100

// SyncError is one recovered, per-record or per-page failure.
type SyncError struct {
	ExternalID string      `json:"externalId,omitempty"`
	Code       apperr.Code `json:"code"`
	Message    string      `json:"message"`
}

func (e SyncError) String() string {
	if e.ExternalID == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s (%s): %s", e.Code, e.ExternalID, e.Message)
}

// TransactionSyncResult contains the results of one transaction sync run
type TransactionSyncResult struct {
	ConnectionID string      `json:"connectionId"`
	Added        int         `json:"added"`
	Updated      int         `json:"updated"`
	Removed      int         `json:"removed"`
	Skipped      int         `json:"skipped"`
	Pages        int         `json:"pages"`
	Truncated    bool        `json:"truncated"`
	Errors       []SyncError `json:"errors"`
}

func newTransactionSyncResult(connectionID string) *TransactionSyncResult {
	return &TransactionSyncResult{ConnectionID: connectionID, Errors: []SyncError{}}
}

func (r *TransactionSyncResult) addError(externalID string, code apperr.Code, msg string) {
	r.Errors = append(r.Errors, SyncError{ExternalID: externalID, Code: code, Message: msg})
}

// HasCode reports whether any recorded error carries code.
func (r *TransactionSyncResult) HasCode(code apperr.Code) bool {
	for _, e := range r.Errors {
		if e.Code == code {
			return true
		}
	}
	return false
}

// AccountSyncResult contains the results of an account sync operation
type AccountSyncResult struct {
	ConnectionID  string      `json:"connectionId"`
	AccountsFound int         `json:"accountsFound"`
	Created       int         `json:"created"`
	Updated       int         `json:"updated"`
	Errors        []SyncError `json:"errors"`
}

// ConnectionSyncResult groups the account and transaction runs for one
// connection.
type ConnectionSyncResult struct {
	ConnectionID string                 `json:"connectionId"`
	Accounts     *AccountSyncResult     `json:"accounts,omitempty"`
	Transactions *TransactionSyncResult `json:"transactions,omitempty"`
	// Shared is true when the run was started by a concurrent caller.
	Shared bool   `json:"shared"`
	Error  string `json:"error,omitempty"`
}
