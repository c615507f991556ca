package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"koffers/internal/domain/transaction"
)

type TransactionRepository struct {
	db *DB
}

func NewTransactionRepository(db *DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

const transactionColumns = `id, user_id, account_id, connection_id, external_id, amount, currency, date,
		       authorized_date, name, merchant_name, categories, pending, pending_external_id,
		       raw_payload, created_at, updated_at`

// Upsert is a single INSERT ... ON CONFLICT so concurrent writers on the
// same (user_id, external_id) converge on one row.
func (r *TransactionRepository) Upsert(ctx context.Context, params transaction.UpsertParams) (*transaction.Transaction, bool, error) {
	query := `
		INSERT INTO transactions (id, user_id, account_id, connection_id, external_id, amount, currency, date,
		                          authorized_date, name, merchant_name, categories, pending, pending_external_id,
		                          raw_payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (user_id, external_id) DO UPDATE
			SET account_id = EXCLUDED.account_id,
			    connection_id = EXCLUDED.connection_id,
			    amount = EXCLUDED.amount,
			    currency = EXCLUDED.currency,
			    date = EXCLUDED.date,
			    authorized_date = EXCLUDED.authorized_date,
			    name = EXCLUDED.name,
			    merchant_name = EXCLUDED.merchant_name,
			    categories = EXCLUDED.categories,
			    pending = EXCLUDED.pending,
			    pending_external_id = EXCLUDED.pending_external_id,
			    raw_payload = EXCLUDED.raw_payload,
			    updated_at = NOW()
		RETURNING ` + transactionColumns + `, (xmax = 0) AS created`

	categories := params.Categories
	if categories == nil {
		categories = []string{}
	}

	var created bool
	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query,
		uuid.NewString(), params.UserID, params.AccountID, params.ConnectionID, params.ExternalID,
		params.Amount, params.Currency, params.Date, nullTime(params.AuthorizedDate),
		params.Name, params.MerchantName, pq.Array(categories), params.Pending, params.PendingExternalID,
		jsonParam(params.RawPayload),
	), &created)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert transaction: %w", err)
	}
	return tx, created, nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*transaction.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, transaction.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

func (r *TransactionRepository) GetByExternalID(ctx context.Context, userID, externalID string) (*transaction.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = $1 AND external_id = $2`
	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query, userID, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, transaction.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction by external id: %w", err)
	}
	return tx, nil
}

func (r *TransactionRepository) DeleteByExternalID(ctx context.Context, userID, externalID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM transactions WHERE user_id = $1 AND external_id = $2`,
		userID, externalID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

func (r *TransactionRepository) ListByUserInRange(ctx context.Context, userID string, from, to time.Time) ([]*transaction.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE user_id = $1 AND date BETWEEN $2::date AND $3::date
		ORDER BY date, id
	`
	rows, err := r.db.QueryContext(ctx, query, userID, from.Format("2006-01-02"), to.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var out []*transaction.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func scanTransaction(row scanner, extra ...any) (*transaction.Transaction, error) {
	var tx transaction.Transaction
	var authorized sql.NullTime
	var raw []byte
	dest := []any{
		&tx.ID, &tx.UserID, &tx.AccountID, &tx.ConnectionID, &tx.ExternalID, &tx.Amount, &tx.Currency,
		&tx.Date, &authorized, &tx.Name, &tx.MerchantName, pq.Array(&tx.Categories), &tx.Pending,
		&tx.PendingExternalID, &raw, &tx.CreatedAt, &tx.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if authorized.Valid {
		t := authorized.Time
		tx.AuthorizedDate = &t
	}
	tx.RawPayload = raw
	tx.Date = tx.Date.UTC()
	return &tx, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// jsonParam sends JSON as text; lib/pq would encode []byte as bytea.
func jsonParam(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
