package connection

import (
	"errors"
	"time"
)

// Status is the health of a linked institution.
type Status string

const (
	StatusActive         Status = "active"
	StatusError          Status = "error"
	StatusReauthRequired Status = "reauth_required"
	StatusDisconnected   Status = "disconnected"
)

var validStatuses = map[Status]struct{}{
	StatusActive:         {},
	StatusError:          {},
	StatusReauthRequired: {},
	StatusDisconnected:   {},
}

// Domain errors
var (
	ErrConnectionNotFound = errors.New("connection not found")
	ErrForbidden          = errors.New("access forbidden")
	ErrInvalidStatus      = errors.New("invalid connection status")
	ErrInvalidInput       = errors.New("invalid input")
)

// Connection is one linked financial institution login owned by a user.
type Connection struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId"`
	ItemID          string    `json:"itemId"`
	AccessToken     string    `json:"-"`
	InstitutionID   string    `json:"institutionId"`
	InstitutionName string    `json:"institutionName"`
	Status          Status    `json:"status"`
	StatusReason    string    `json:"statusReason,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Syncable reports whether the provider can still be called with this
// connection's credential.
func (c *Connection) Syncable() bool {
	return c.Status == StatusActive || c.Status == StatusError
}

// SyncCursor marks incremental sync progress for one connection. An empty
// Cursor means no page has been committed yet.
type SyncCursor struct {
	ConnectionID string    `json:"connectionId"`
	Cursor       string    `json:"cursor"`
	LastSyncedAt time.Time `json:"lastSyncedAt"`
}

// CreateParams contains the data captured when a user links an institution.
type CreateParams struct {
	UserID          string
	ItemID          string
	AccessToken     string
	InstitutionID   string
	InstitutionName string
}

func (p CreateParams) Validate() error {
	if p.UserID == "" {
		return errors.New("user ID is required")
	}
	if p.ItemID == "" {
		return errors.New("provider item ID is required")
	}
	if p.AccessToken == "" {
		return errors.New("access token is required")
	}
	return nil
}

func IsValidStatus(s Status) bool {
	_, ok := validStatuses[s]
	return ok
}
