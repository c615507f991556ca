package receipt

import (
	"context"
	"time"
)

// Repository defines the interface for receipt file and item data access.
// Implementations return ErrReceiptNotFound for missing files.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*ReceiptFile, error)
	GetByID(ctx context.Context, id string) (*ReceiptFile, error)
	ListByUserID(ctx context.Context, userID string) ([]*ReceiptFile, error)

	// ListUnmatched returns the user's completed files with no transaction,
	// oldest first.
	ListUnmatched(ctx context.Context, userID string) ([]*ReceiptFile, error)

	// ListUsersWithUnmatched returns the ids of users owning at least one
	// completed, unlinked file.
	ListUsersWithUnmatched(ctx context.Context) ([]string, error)

	// ListPending returns files still pending that were uploaded before
	// olderThan, oldest first. Used to re-enqueue uploads whose
	// notification was lost.
	ListPending(ctx context.Context, olderThan time.Time) ([]*ReceiptFile, error)

	// UpdateOCR records an extraction outcome. extraction may be nil.
	UpdateOCR(ctx context.Context, id string, status OCRStatus, extraction *Extraction, ocrError string) error

	// Link attaches the file to a transaction and marks it completed.
	Link(ctx context.Context, id, transactionID string, fileType FileType) error

	// LinkUnlinked is Link for files that have no transaction yet. It returns
	// ErrAlreadyLinked when the file was linked by someone else first.
	LinkUnlinked(ctx context.Context, id, transactionID string, fileType FileType) error

	// ReplaceItems deletes the file's previous items and inserts the new
	// set for transactionID in one unit.
	ReplaceItems(ctx context.Context, userID, fileID, transactionID string, items []ItemParams) ([]*Item, error)

	ListItemsByTransaction(ctx context.Context, transactionID string) ([]*Item, error)
}
