package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"koffers/internal/domain/connection"
)

// TokenCipher encrypts access tokens before they reach the table.
type TokenCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

type ConnectionRepository struct {
	db     *DB
	cipher TokenCipher
}

func NewConnectionRepository(db *DB, cipher TokenCipher) *ConnectionRepository {
	return &ConnectionRepository{db: db, cipher: cipher}
}

const connectionColumns = `id, user_id, item_id, access_token, institution_id, institution_name,
		       status, status_reason, created_at, updated_at`

func (r *ConnectionRepository) Create(ctx context.Context, params connection.CreateParams) (*connection.Connection, error) {
	token, err := r.cipher.Encrypt(params.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}

	query := `
		INSERT INTO connections (id, user_id, item_id, access_token, institution_id, institution_name, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + connectionColumns

	conn, err := r.scan(r.db.QueryRowContext(ctx, query,
		uuid.NewString(), params.UserID, params.ItemID, token,
		params.InstitutionID, params.InstitutionName, connection.StatusActive,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create connection: %w", err)
	}
	return conn, nil
}

func (r *ConnectionRepository) GetByID(ctx context.Context, id string) (*connection.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE id = $1`
	conn, err := r.scan(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, connection.ErrConnectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return conn, nil
}

func (r *ConnectionRepository) GetByItemID(ctx context.Context, itemID string) (*connection.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE item_id = $1`
	conn, err := r.scan(r.db.QueryRowContext(ctx, query, itemID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, connection.ErrConnectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection by item: %w", err)
	}
	return conn, nil
}

func (r *ConnectionRepository) ListByUserID(ctx context.Context, userID string) ([]*connection.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE user_id = $1 ORDER BY created_at`
	return r.list(ctx, query, userID)
}

func (r *ConnectionRepository) ListSyncable(ctx context.Context) ([]*connection.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE status IN ($1, $2) ORDER BY user_id, created_at`
	return r.list(ctx, query, connection.StatusActive, connection.StatusError)
}

func (r *ConnectionRepository) UpdateStatus(ctx context.Context, id string, status connection.Status, reason string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE connections SET status = $1, status_reason = $2, updated_at = NOW() WHERE id = $3`,
		status, reason, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update connection status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return connection.ErrConnectionNotFound
	}
	return nil
}

func (r *ConnectionRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM connections WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return connection.ErrConnectionNotFound
	}
	return nil
}

func (r *ConnectionRepository) list(ctx context.Context, query string, args ...any) ([]*connection.Connection, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var out []*connection.Connection
	for rows.Next() {
		conn, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		out = append(out, conn)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *ConnectionRepository) scan(row scanner) (*connection.Connection, error) {
	var c connection.Connection
	var token string
	if err := row.Scan(
		&c.ID, &c.UserID, &c.ItemID, &token, &c.InstitutionID, &c.InstitutionName,
		&c.Status, &c.StatusReason, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	plain, err := r.cipher.Decrypt(token)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token for connection %s: %w", c.ID, err)
	}
	c.AccessToken = plain
	return &c, nil
}

// CursorRepository stores incremental sync cursors.
type CursorRepository struct {
	db *DB
}

func NewCursorRepository(db *DB) *CursorRepository {
	return &CursorRepository{db: db}
}

// Get returns nil, nil when the connection has never committed a page.
func (r *CursorRepository) Get(ctx context.Context, connectionID string) (*connection.SyncCursor, error) {
	var c connection.SyncCursor
	err := r.db.QueryRowContext(ctx,
		`SELECT connection_id, cursor, last_synced_at FROM sync_cursors WHERE connection_id = $1`,
		connectionID,
	).Scan(&c.ConnectionID, &c.Cursor, &c.LastSyncedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync cursor: %w", err)
	}
	return &c, nil
}

func (r *CursorRepository) Save(ctx context.Context, c connection.SyncCursor) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_cursors (connection_id, cursor, last_synced_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (connection_id) DO UPDATE
			SET cursor = EXCLUDED.cursor,
			    last_synced_at = EXCLUDED.last_synced_at
	`, c.ConnectionID, c.Cursor, c.LastSyncedAt)
	if err != nil {
		return fmt.Errorf("failed to save sync cursor: %w", err)
	}
	return nil
}

func (r *CursorRepository) Delete(ctx context.Context, connectionID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sync_cursors WHERE connection_id = $1`, connectionID); err != nil {
		return fmt.Errorf("failed to delete sync cursor: %w", err)
	}
	return nil
}
