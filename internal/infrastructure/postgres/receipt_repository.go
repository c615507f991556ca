package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"koffers/internal/domain/receipt"
)

// ReceiptRepository stores receipt files, their extraction and line items.
type ReceiptRepository struct {
	db *DB
}

func NewReceiptRepository(db *DB) *ReceiptRepository {
	return &ReceiptRepository{db: db}
}

// pendingBatchLimit caps how many stale uploads one scheduled run picks up.
const pendingBatchLimit = 200

const receiptColumns = `id, user_id, storage_ref, file_name, mime_type, file_type, ocr_status, ocr_error,
		       extraction, COALESCE(transaction_id, ''), created_at, updated_at`

func (r *ReceiptRepository) Create(ctx context.Context, params receipt.CreateParams) (*receipt.ReceiptFile, error) {
	query := `
		INSERT INTO receipt_files (id, user_id, storage_ref, file_name, mime_type, ocr_status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + receiptColumns

	file, err := scanReceipt(r.db.QueryRowContext(ctx, query,
		uuid.NewString(), params.UserID, params.StorageRef, params.FileName, params.MimeType, receipt.OCRPending,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create receipt file: %w", err)
	}
	return file, nil
}

func (r *ReceiptRepository) GetByID(ctx context.Context, id string) (*receipt.ReceiptFile, error) {
	query := `SELECT ` + receiptColumns + ` FROM receipt_files WHERE id = $1`
	file, err := scanReceipt(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, receipt.ErrReceiptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt file: %w", err)
	}
	return file, nil
}

func (r *ReceiptRepository) ListByUserID(ctx context.Context, userID string) ([]*receipt.ReceiptFile, error) {
	query := `SELECT ` + receiptColumns + ` FROM receipt_files WHERE user_id = $1 ORDER BY created_at DESC`
	return r.list(ctx, query, userID)
}

func (r *ReceiptRepository) ListUnmatched(ctx context.Context, userID string) ([]*receipt.ReceiptFile, error) {
	query := `
		SELECT ` + receiptColumns + `
		FROM receipt_files
		WHERE user_id = $1 AND ocr_status = $2 AND transaction_id IS NULL
		ORDER BY created_at, id
	`
	return r.list(ctx, query, userID, receipt.OCRCompleted)
}

func (r *ReceiptRepository) ListPending(ctx context.Context, olderThan time.Time) ([]*receipt.ReceiptFile, error) {
	query := `
		SELECT ` + receiptColumns + `
		FROM receipt_files
		WHERE ocr_status = $1 AND created_at < $2
		ORDER BY created_at, id
		LIMIT $3
	`
	return r.list(ctx, query, receipt.OCRPending, olderThan, pendingBatchLimit)
}

func (r *ReceiptRepository) ListUsersWithUnmatched(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT user_id
		FROM receipt_files
		WHERE ocr_status = $1 AND transaction_id IS NULL
		ORDER BY user_id
	`, receipt.OCRCompleted)
	if err != nil {
		return nil, fmt.Errorf("failed to list users with unmatched receipts: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

func (r *ReceiptRepository) UpdateOCR(ctx context.Context, id string, status receipt.OCRStatus, extraction *receipt.Extraction, ocrError string) error {
	var payload any
	if extraction != nil {
		b, err := json.Marshal(extraction)
		if err != nil {
			return fmt.Errorf("failed to encode extraction: %w", err)
		}
		payload = string(b)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE receipt_files
		SET ocr_status = $1, extraction = $2, ocr_error = $3, updated_at = NOW()
		WHERE id = $4
	`, status, payload, ocrError, id)
	if err != nil {
		return fmt.Errorf("failed to update receipt ocr status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return receipt.ErrReceiptNotFound
	}
	return nil
}

func (r *ReceiptRepository) Link(ctx context.Context, id, transactionID string, fileType receipt.FileType) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE receipt_files
		SET transaction_id = $1, file_type = $2, ocr_status = $3, updated_at = NOW()
		WHERE id = $4
	`, transactionID, fileType, receipt.OCRCompleted, id)
	if err != nil {
		return fmt.Errorf("failed to link receipt file: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return receipt.ErrReceiptNotFound
	}
	return nil
}

func (r *ReceiptRepository) LinkUnlinked(ctx context.Context, id, transactionID string, fileType receipt.FileType) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE receipt_files
		SET transaction_id = $1, file_type = $2, ocr_status = $3, updated_at = NOW()
		WHERE id = $4 AND transaction_id IS NULL
	`, transactionID, fileType, receipt.OCRCompleted, id)
	if err != nil {
		return fmt.Errorf("failed to link receipt file: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	// Nothing updated: tell a missing file apart from a lost race.
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return receipt.ErrAlreadyLinked
}

func (r *ReceiptRepository) ReplaceItems(ctx context.Context, userID, fileID, transactionID string, params []receipt.ItemParams) ([]*receipt.Item, error) {
	var items []*receipt.Item
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM receipt_items WHERE receipt_file_id = $1`, fileID); err != nil {
			return fmt.Errorf("failed to clear receipt items: %w", err)
		}
		for _, p := range params {
			tags := p.Tags
			if tags == nil {
				tags = []string{}
			}
			var it receipt.Item
			var unit decimal.NullDecimal
			err := tx.QueryRowContext(ctx, `
				INSERT INTO receipt_items (id, user_id, transaction_id, receipt_file_id, name, quantity,
				                           unit_price, total_price, category, tags)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
				RETURNING id, user_id, transaction_id, receipt_file_id, name, quantity, unit_price,
				          total_price, category, tags, created_at
			`, uuid.NewString(), userID, transactionID, fileID, p.Name, p.Quantity,
				nullDecimal(p.UnitPrice), p.TotalPrice, p.Category, pq.Array(tags),
			).Scan(&it.ID, &it.UserID, &it.TransactionID, &it.ReceiptFileID, &it.Name, &it.Quantity,
				&unit, &it.TotalPrice, &it.Category, pq.Array(&it.Tags), &it.CreatedAt)
			if err != nil {
				return fmt.Errorf("failed to insert receipt item: %w", err)
			}
			if unit.Valid {
				it.UnitPrice = &unit.Decimal
			}
			items = append(items, &it)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *ReceiptRepository) ListItemsByTransaction(ctx context.Context, transactionID string) ([]*receipt.Item, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, transaction_id, COALESCE(receipt_file_id, ''), name, quantity, unit_price,
		       total_price, category, tags, created_at
		FROM receipt_items
		WHERE transaction_id = $1
		ORDER BY created_at, id
	`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list receipt items: %w", err)
	}
	defer rows.Close()

	var items []*receipt.Item
	for rows.Next() {
		var it receipt.Item
		var unit decimal.NullDecimal
		if err := rows.Scan(&it.ID, &it.UserID, &it.TransactionID, &it.ReceiptFileID, &it.Name, &it.Quantity,
			&unit, &it.TotalPrice, &it.Category, pq.Array(&it.Tags), &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan receipt item: %w", err)
		}
		if unit.Valid {
			it.UnitPrice = &unit.Decimal
		}
		items = append(items, &it)
	}
	return items, rows.Err()
}

func (r *ReceiptRepository) list(ctx context.Context, query string, args ...any) ([]*receipt.ReceiptFile, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list receipt files: %w", err)
	}
	defer rows.Close()

	var files []*receipt.ReceiptFile
	for rows.Next() {
		f, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan receipt file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func scanReceipt(row scanner) (*receipt.ReceiptFile, error) {
	var f receipt.ReceiptFile
	var raw []byte
	if err := row.Scan(&f.ID, &f.UserID, &f.StorageRef, &f.FileName, &f.MimeType, &f.FileType,
		&f.OCRStatus, &f.OCRError, &raw, &f.TransactionID, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		var e receipt.Extraction
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("failed to decode extraction for %s: %w", f.ID, err)
		}
		f.Extraction = &e
	}
	return &f, nil
}
