package openfinance

import (
	"context"
	"fmt"
	"time"

	"koffers/internal/domain/connection"
)

// CursorRepository persists one sync cursor per connection.
type CursorRepository interface {
	// Get returns nil, nil when the connection has never committed a page.
	Get(ctx context.Context, connectionID string) (*connection.SyncCursor, error)
	Save(ctx context.Context, cursor connection.SyncCursor) error
	Delete(ctx context.Context, connectionID string) error
}

// CursorStore hands out and advances incremental sync positions.
type CursorStore struct {
	repo CursorRepository
	now  func() time.Time
}

func NewCursorStore(repo CursorRepository) *CursorStore {
	return &CursorStore{repo: repo, now: time.Now}
}

// Load returns the last committed cursor, or "" for a full historical sync.
func (s *CursorStore) Load(ctx context.Context, connectionID string) (string, error) {
	c, err := s.repo.Get(ctx, connectionID)
	if err != nil {
		return "", fmt.Errorf("failed to load sync cursor: %w", err)
	}
	if c == nil {
		return "", nil
	}
	return c.Cursor, nil
}

// Get returns the stored cursor record, or nil.
func (s *CursorStore) Get(ctx context.Context, connectionID string) (*connection.SyncCursor, error) {
	return s.repo.Get(ctx, connectionID)
}

// Advance commits cursor for the connection. Callers must only advance
// after every record of the page that produced it is durable.
func (s *CursorStore) Advance(ctx context.Context, connectionID, cursor string) error {
	err := s.repo.Save(ctx, connection.SyncCursor{
		ConnectionID: connectionID,
		Cursor:       cursor,
		LastSyncedAt: s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to save sync cursor: %w", err)
	}
	return nil
}

// Reset forgets the connection's position so the next run starts over.
func (s *CursorStore) Reset(ctx context.Context, connectionID string) error {
	if err := s.repo.Delete(ctx, connectionID); err != nil {
		return fmt.Errorf("failed to reset sync cursor: %w", err)
	}
	return nil
}
