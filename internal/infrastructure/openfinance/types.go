package openfinance

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// Account represents an account from the provider API
type Account struct {
	AccountID    string   `json:"account_id"`
	Name         string   `json:"name"`
	OfficialName string   `json:"official_name"`
	Type         string   `json:"type"`
	Subtype      string   `json:"subtype"`
	Mask         string   `json:"mask"`
	Balances     Balances `json:"balances"`
}

type Balances struct {
	Current         *decimal.Decimal `json:"current"`
	Available       *decimal.Decimal `json:"available"`
	ISOCurrencyCode string           `json:"iso_currency_code"`
}

// Item identifies the institution login an access token belongs to.
type Item struct {
	ItemID        string `json:"item_id"`
	InstitutionID string `json:"institution_id"`
}

type PersonalFinanceCategory struct {
	Primary  string `json:"primary"`
	Detailed string `json:"detailed"`
}

// Transaction represents a transaction from the provider API. Raw holds the
// exact JSON object it was decoded from.
type Transaction struct {
	TransactionID           string                   `json:"transaction_id"`
	AccountID               string                   `json:"account_id"`
	Amount                  *decimal.Decimal         `json:"amount"`
	ISOCurrencyCode         string                   `json:"iso_currency_code"`
	Date                    string                   `json:"date"`
	AuthorizedDate          string                   `json:"authorized_date"`
	Name                    string                   `json:"name"`
	MerchantName            string                   `json:"merchant_name"`
	Category                []string                 `json:"category"`
	PersonalFinanceCategory *PersonalFinanceCategory `json:"personal_finance_category"`
	Pending                 bool                     `json:"pending"`
	PendingTransactionID    string                   `json:"pending_transaction_id"`

	Raw json.RawMessage `json:"-"`
}

func (t *Transaction) UnmarshalJSON(data []byte) error {
	type plain Transaction
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*t = Transaction(p)
	t.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// GetDate parses the posted date (YYYY-MM-DD)
func (t *Transaction) GetDate() (time.Time, error) {
	if t.Date == "" {
		return time.Time{}, fmt.Errorf("date is required")
	}
	d, err := time.Parse(dateLayout, t.Date)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse date '%s': %w", t.Date, err)
	}
	return d, nil
}

// GetAuthorizedDate parses the authorized date, returning nil when absent
func (t *Transaction) GetAuthorizedDate() (*time.Time, error) {
	if t.AuthorizedDate == "" {
		return nil, nil
	}
	d, err := time.Parse(dateLayout, t.AuthorizedDate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse authorized_date '%s': %w", t.AuthorizedDate, err)
	}
	return &d, nil
}

type RemovedTransaction struct {
	TransactionID string `json:"transaction_id"`
	AccountID     string `json:"account_id"`
}

// SyncResponse is one page of cursor-based deltas.
type SyncResponse struct {
	Added      []Transaction        `json:"added"`
	Modified   []Transaction        `json:"modified"`
	Removed    []RemovedTransaction `json:"removed"`
	NextCursor string               `json:"next_cursor"`
	HasMore    bool                 `json:"has_more"`
	RequestID  string               `json:"request_id"`
}

// TransactionsResponse is one offset page of the date-ranged feed.
type TransactionsResponse struct {
	Accounts          []Account     `json:"accounts"`
	Transactions      []Transaction `json:"transactions"`
	TotalTransactions int           `json:"total_transactions"`
	RequestID         string        `json:"request_id"`
}

type AccountsResponse struct {
	Accounts  []Account `json:"accounts"`
	Item      Item      `json:"item"`
	RequestID string    `json:"request_id"`
}

// ErrorResponse represents an error body from the provider API
type ErrorResponse struct {
	ErrorType      string `json:"error_type"`
	ErrorCode      string `json:"error_code"`
	ErrorMessage   string `json:"error_message"`
	DisplayMessage string `json:"display_message"`
	RequestID      string `json:"request_id"`
}

// WebhookPayload is the body the provider POSTs to our webhook endpoint.
type WebhookPayload struct {
	WebhookType         string         `json:"webhook_type"`
	WebhookCode         string         `json:"webhook_code"`
	ItemID              string         `json:"item_id"`
	NewTransactions     int            `json:"new_transactions"`
	RemovedTransactions []string       `json:"removed_transactions"`
	Error               *ErrorResponse `json:"error"`
}
