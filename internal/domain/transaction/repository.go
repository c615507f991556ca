package transaction

import (
	"context"
	"time"
)

// Repository defines the interface for transaction data access
type Repository interface {
	// Upsert inserts or updates by (UserID, ExternalID). created reports
	// whether the row is new. Safe under concurrent writers on the same key.
	Upsert(ctx context.Context, params UpsertParams) (tx *Transaction, created bool, err error)

	GetByID(ctx context.Context, id string) (*Transaction, error)
	GetByExternalID(ctx context.Context, userID, externalID string) (*Transaction, error)

	// DeleteByExternalID removes a transaction. deleted is false when no
	// row existed, which is not an error.
	DeleteByExternalID(ctx context.Context, userID, externalID string) (deleted bool, err error)

	// ListByUserInRange returns the user's transactions dated within
	// [from, to] (inclusive, by calendar date), ordered by date then id.
	ListByUserInRange(ctx context.Context, userID string, from, to time.Time) ([]*Transaction, error)
}
