package account

import "context"

// Repository defines the interface for account data access
// This interface is defined in the domain layer, but implemented in the infrastructure layer
type Repository interface {
	// Upsert inserts or updates an account keyed by ExternalID and reports
	// whether a new row was created.
	Upsert(ctx context.Context, params UpsertParams) (*Account, bool, error)

	GetByID(ctx context.Context, id string) (*Account, error)

	// ListByConnectionID retrieves all accounts for one linked institution
	ListByConnectionID(ctx context.Context, connectionID string) ([]*Account, error)

	ListByUserID(ctx context.Context, userID string) ([]*Account, error)
}
