package notification

import (
	"errors"
	"time"
)

// Notification categories
const (
	CategoryConnections  = "connections"
	CategoryReceipts     = "receipts"
	CategoryTransactions = "transactions"
	CategoryGeneral      = "general"
)

var validCategories = map[string]struct{}{
	CategoryConnections:  {},
	CategoryReceipts:     {},
	CategoryTransactions: {},
	CategoryGeneral:      {},
}

var validDeviceTypes = map[string]struct{}{
	"ios":     {},
	"android": {},
	"web":     {},
}

// Domain errors
var (
	ErrNotificationNotFound = errors.New("notification not found")
	ErrPreferencesNotFound  = errors.New("notification preferences not found")
	ErrInvalidCategory      = errors.New("invalid notification category")
	ErrInvalidDeviceType    = errors.New("device type must be 'ios', 'android' or 'web'")
	ErrInvalidToken         = errors.New("device token is required")
	ErrInvalidInput         = errors.New("invalid input")
)

// DeviceToken is a registered FCM device token.
type DeviceToken struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Token      string    `json:"token"`
	DeviceType string    `json:"deviceType"`
	IsActive   bool      `json:"isActive"`
	CreatedAt  time.Time `json:"createdAt"`
	LastUsed   time.Time `json:"lastUsed"`
}

// Preference stores per-category toggles for a user.
type Preference struct {
	UserID              string    `json:"-"`
	ConnectionsEnabled  bool      `json:"connectionsEnabled"`
	ReceiptsEnabled     bool      `json:"receiptsEnabled"`
	TransactionsEnabled bool      `json:"transactionsEnabled"`
	GeneralEnabled      bool      `json:"generalEnabled"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// DefaultPreference has every category enabled.
func DefaultPreference(userID string) *Preference {
	return &Preference{
		UserID:              userID,
		ConnectionsEnabled:  true,
		ReceiptsEnabled:     true,
		TransactionsEnabled: true,
		GeneralEnabled:      true,
	}
}

// IsCategoryEnabled checks if a specific category is enabled.
func (p *Preference) IsCategoryEnabled(category string) bool {
	switch category {
	case CategoryConnections:
		return p.ConnectionsEnabled
	case CategoryReceipts:
		return p.ReceiptsEnabled
	case CategoryTransactions:
		return p.TransactionsEnabled
	case CategoryGeneral:
		return p.GeneralEnabled
	default:
		return false
	}
}

// Notification is a stored notification record.
type Notification struct {
	ID        string            `json:"id"`
	UserID    string            `json:"-"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Category  string            `json:"category"`
	Data      map[string]string `json:"data"`
	OpenedAt  *time.Time        `json:"openedAt"`
	CreatedAt time.Time         `json:"createdAt"`
}

type CreateDeviceTokenParams struct {
	UserID     string
	Token      string
	DeviceType string
}

func (p CreateDeviceTokenParams) Validate() error {
	if p.UserID == "" {
		return errors.New("user ID is required")
	}
	if p.Token == "" {
		return ErrInvalidToken
	}
	if !IsValidDeviceType(p.DeviceType) {
		return ErrInvalidDeviceType
	}
	return nil
}

// UpdatePreferenceParams holds optional toggles; nil leaves a field as is.
type UpdatePreferenceParams struct {
	ConnectionsEnabled  *bool `json:"connectionsEnabled"`
	ReceiptsEnabled     *bool `json:"receiptsEnabled"`
	TransactionsEnabled *bool `json:"transactionsEnabled"`
	GeneralEnabled      *bool `json:"generalEnabled"`
}

// Apply returns a copy of p with the set fields overwritten.
func (u UpdatePreferenceParams) Apply(p Preference) Preference {
	if u.ConnectionsEnabled != nil {
		p.ConnectionsEnabled = *u.ConnectionsEnabled
	}
	if u.ReceiptsEnabled != nil {
		p.ReceiptsEnabled = *u.ReceiptsEnabled
	}
	if u.TransactionsEnabled != nil {
		p.TransactionsEnabled = *u.TransactionsEnabled
	}
	if u.GeneralEnabled != nil {
		p.GeneralEnabled = *u.GeneralEnabled
	}
	return p
}

type CreateNotificationParams struct {
	UserID   string
	Title    string
	Message  string
	Category string
	Data     map[string]string
}

func (p CreateNotificationParams) Validate() error {
	if p.UserID == "" {
		return errors.New("user ID is required")
	}
	if p.Title == "" {
		return errors.New("notification title is required")
	}
	if p.Message == "" {
		return errors.New("notification message is required")
	}
	if !IsValidCategory(p.Category) {
		return ErrInvalidCategory
	}
	return nil
}

func IsValidCategory(c string) bool {
	_, ok := validCategories[c]
	return ok
}

func IsValidDeviceType(dt string) bool {
	_, ok := validDeviceTypes[dt]
	return ok
}
