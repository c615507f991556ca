package connection

import "context"

// Repository defines the interface for connection data access.
// Implementations return ErrConnectionNotFound for missing rows.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*Connection, error)
	GetByID(ctx context.Context, id string) (*Connection, error)
	GetByItemID(ctx context.Context, itemID string) (*Connection, error)
	ListByUserID(ctx context.Context, userID string) ([]*Connection, error)

	// ListSyncable returns every connection whose status still allows
	// provider calls, across all users.
	ListSyncable(ctx context.Context) ([]*Connection, error)

	UpdateStatus(ctx context.Context, id string, status Status, reason string) error
	Delete(ctx context.Context, id string) error
}
