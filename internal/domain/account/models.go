package account

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Domain errors
var (
	ErrAccountNotFound = errors.New("account not found")
	ErrForbidden       = errors.New("access forbidden")
	ErrInvalidInput    = errors.New("invalid input")
)

// Account represents one account held at a linked institution.
// ExternalID is the provider's account identifier and is unique.
type Account struct {
	ID               string           `json:"id"`
	UserID           string           `json:"userId"`
	ConnectionID     string           `json:"connectionId"`
	ExternalID       string           `json:"externalId"`
	Name             string           `json:"name"`
	OfficialName     string           `json:"officialName,omitempty"`
	Type             string           `json:"type"`
	Subtype          string           `json:"subtype,omitempty"`
	Mask             string           `json:"mask,omitempty"`
	Currency         string           `json:"currency"`
	CurrentBalance   decimal.Decimal  `json:"currentBalance"`
	AvailableBalance *decimal.Decimal `json:"availableBalance,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// UpsertParams contains the normalized provider data for an account.
type UpsertParams struct {
	UserID           string
	ConnectionID     string
	ExternalID       string
	Name             string
	OfficialName     string
	Type             string
	Subtype          string
	Mask             string
	Currency         string
	CurrentBalance   decimal.Decimal
	AvailableBalance *decimal.Decimal
}

// Validate validates upsert parameters
func (p UpsertParams) Validate() error {
	if p.ExternalID == "" {
		return errors.New("external account ID is required")
	}
	if p.UserID == "" {
		return errors.New("user ID is required")
	}
	if p.ConnectionID == "" {
		return errors.New("connection ID is required")
	}
	if p.Name == "" {
		return errors.New("account name is required")
	}
	if p.Type == "" {
		return errors.New("account type is required")
	}
	if len(p.Currency) != 3 {
		return errors.New("valid ISO 4217 currency is required")
	}
	return nil
}
