package transaction

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInvalidInput        = errors.New("invalid input")
)

// Transaction is the canonical, typed form of a provider transaction.
// Amount follows the provider sign convention: positive is an outflow.
type Transaction struct {
	ID                string          `json:"id"`
	UserID            string          `json:"userId"`
	AccountID         string          `json:"accountId"`
	ConnectionID      string          `json:"connectionId"`
	ExternalID        string          `json:"externalId"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Date              time.Time       `json:"date"`
	AuthorizedDate    *time.Time      `json:"authorizedDate,omitempty"`
	Name              string          `json:"name"`
	MerchantName      string          `json:"merchantName,omitempty"`
	Categories        []string        `json:"categories"`
	Pending           bool            `json:"pending"`
	PendingExternalID string          `json:"pendingExternalId,omitempty"`
	// RawPayload is the provider record as received. Kept for audit and
	// reprocessing only; readers use the typed fields.
	RawPayload json.RawMessage `json:"-"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// Merchant returns the best merchant string for display and matching.
func (t *Transaction) Merchant() string {
	if t.MerchantName != "" {
		return t.MerchantName
	}
	return t.Name
}

// UpsertParams is used for syncing transactions from the provider.
// ExternalID plus UserID is the identity; every other field is mutable.
type UpsertParams struct {
	UserID            string
	AccountID         string
	ConnectionID      string
	ExternalID        string
	Amount            decimal.Decimal
	Currency          string
	Date              time.Time
	AuthorizedDate    *time.Time
	Name              string
	MerchantName      string
	Categories        []string
	Pending           bool
	PendingExternalID string
	RawPayload        json.RawMessage
}

func (p UpsertParams) Validate() error {
	if p.ExternalID == "" {
		return errors.New("external transaction ID is required")
	}
	if p.UserID == "" {
		return errors.New("user ID is required")
	}
	if p.AccountID == "" {
		return errors.New("account ID is required")
	}
	if p.Date.IsZero() {
		return errors.New("transaction date is required")
	}
	return nil
}
