package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"koffers/internal/domain/account"
)

// AccountRepository implements the account.Repository interface for PostgreSQL
type AccountRepository struct {
	db *DB
}

// NewAccountRepository creates a new PostgreSQL account repository
func NewAccountRepository(db *DB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `id, user_id, connection_id, external_id, name, official_name, type, subtype, mask,
		       currency, current_balance, available_balance, created_at, updated_at`

// Upsert inserts or refreshes an account keyed by its provider ID.
// xmax is zero only for a freshly inserted row.
func (r *AccountRepository) Upsert(ctx context.Context, params account.UpsertParams) (*account.Account, bool, error) {
	query := `
		INSERT INTO accounts (id, user_id, connection_id, external_id, name, official_name, type, subtype, mask,
		                      currency, current_balance, available_balance)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (external_id) DO UPDATE
			SET name = EXCLUDED.name,
			    official_name = EXCLUDED.official_name,
			    type = EXCLUDED.type,
			    subtype = EXCLUDED.subtype,
			    mask = EXCLUDED.mask,
			    currency = EXCLUDED.currency,
			    current_balance = EXCLUDED.current_balance,
			    available_balance = EXCLUDED.available_balance,
			    updated_at = NOW()
		RETURNING ` + accountColumns + `, (xmax = 0) AS created`

	var created bool
	acc, err := scanAccount(r.db.QueryRowContext(ctx, query,
		uuid.NewString(), params.UserID, params.ConnectionID, params.ExternalID, params.Name,
		params.OfficialName, params.Type, params.Subtype, params.Mask, params.Currency,
		params.CurrentBalance, nullDecimal(params.AvailableBalance),
	), &created)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert account: %w", err)
	}
	return acc, created, nil
}

// GetByID retrieves an account by its ID
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*account.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	acc, err := scanAccount(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, account.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acc, nil
}

func (r *AccountRepository) ListByConnectionID(ctx context.Context, connectionID string) ([]*account.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE connection_id = $1 ORDER BY name`
	return r.list(ctx, query, connectionID)
}

func (r *AccountRepository) ListByUserID(ctx context.Context, userID string) ([]*account.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = $1 ORDER BY name`
	return r.list(ctx, query, userID)
}

func (r *AccountRepository) list(ctx context.Context, query string, args ...any) ([]*account.Account, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*account.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}

func scanAccount(row scanner, extra ...any) (*account.Account, error) {
	var acc account.Account
	var available decimal.NullDecimal
	dest := []any{
		&acc.ID, &acc.UserID, &acc.ConnectionID, &acc.ExternalID, &acc.Name, &acc.OfficialName,
		&acc.Type, &acc.Subtype, &acc.Mask, &acc.Currency, &acc.CurrentBalance, &available,
		&acc.CreatedAt, &acc.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if available.Valid {
		acc.AvailableBalance = &available.Decimal
	}
	return &acc, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
