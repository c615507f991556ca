package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"koffers/internal/domain/notification"
)

type NotificationRepository struct {
	db *DB
}

func NewNotificationRepository(db *DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// UpsertDeviceToken registers a token, moving it to params.UserID if another
// user held it.
func (r *NotificationRepository) UpsertDeviceToken(ctx context.Context, params notification.CreateDeviceTokenParams) (*notification.DeviceToken, error) {
	query := `
		INSERT INTO device_tokens (id, user_id, token, device_type)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (token) DO UPDATE
			SET user_id = EXCLUDED.user_id,
			    device_type = EXCLUDED.device_type,
			    is_active = true,
			    last_used = NOW()
		RETURNING id, user_id, token, device_type, is_active, created_at, last_used
	`

	var dt notification.DeviceToken
	err := r.db.QueryRowContext(ctx, query, uuid.NewString(), params.UserID, params.Token, params.DeviceType).Scan(
		&dt.ID, &dt.UserID, &dt.Token, &dt.DeviceType, &dt.IsActive, &dt.CreatedAt, &dt.LastUsed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert device token: %w", err)
	}
	return &dt, nil
}

func (r *NotificationRepository) GetActiveTokensByUserID(ctx context.Context, userID string) ([]*notification.DeviceToken, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, token, device_type, is_active, created_at, last_used
		FROM device_tokens
		WHERE user_id = $1 AND is_active = true
		ORDER BY last_used DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get device tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*notification.DeviceToken
	for rows.Next() {
		var dt notification.DeviceToken
		if err := rows.Scan(&dt.ID, &dt.UserID, &dt.Token, &dt.DeviceType, &dt.IsActive, &dt.CreatedAt, &dt.LastUsed); err != nil {
			return nil, fmt.Errorf("failed to scan device token: %w", err)
		}
		tokens = append(tokens, &dt)
	}
	return tokens, rows.Err()
}

func (r *NotificationRepository) DeactivateToken(ctx context.Context, token string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE device_tokens SET is_active = false WHERE token = $1`, token); err != nil {
		return fmt.Errorf("failed to deactivate token: %w", err)
	}
	return nil
}

func (r *NotificationRepository) GetPreferences(ctx context.Context, userID string) (*notification.Preference, error) {
	var p notification.Preference
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, connections_enabled, receipts_enabled, transactions_enabled, general_enabled, updated_at
		FROM notification_preferences
		WHERE user_id = $1
	`, userID).Scan(&p.UserID, &p.ConnectionsEnabled, &p.ReceiptsEnabled, &p.TransactionsEnabled, &p.GeneralEnabled, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notification.ErrPreferencesNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification preferences: %w", err)
	}
	return &p, nil
}

func (r *NotificationRepository) SavePreferences(ctx context.Context, pref notification.Preference) (*notification.Preference, error) {
	var p notification.Preference
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO notification_preferences (user_id, connections_enabled, receipts_enabled, transactions_enabled, general_enabled)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE
			SET connections_enabled = EXCLUDED.connections_enabled,
			    receipts_enabled = EXCLUDED.receipts_enabled,
			    transactions_enabled = EXCLUDED.transactions_enabled,
			    general_enabled = EXCLUDED.general_enabled,
			    updated_at = NOW()
		RETURNING user_id, connections_enabled, receipts_enabled, transactions_enabled, general_enabled, updated_at
	`, pref.UserID, pref.ConnectionsEnabled, pref.ReceiptsEnabled, pref.TransactionsEnabled, pref.GeneralEnabled,
	).Scan(&p.UserID, &p.ConnectionsEnabled, &p.ReceiptsEnabled, &p.TransactionsEnabled, &p.GeneralEnabled, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to save notification preferences: %w", err)
	}
	return &p, nil
}

func (r *NotificationRepository) CreateNotification(ctx context.Context, params notification.CreateNotificationParams) (*notification.Notification, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	dataJSON, err := json.Marshal(params.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal notification data: %w", err)
	}

	n, err := scanNotification(r.db.QueryRowContext(ctx, `
		INSERT INTO notifications (id, user_id, title, message, category, data)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, user_id, title, message, category, data, opened_at, created_at
	`, uuid.NewString(), params.UserID, params.Title, params.Message, params.Category, string(dataJSON)))
	if err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}
	return n, nil
}

func (r *NotificationRepository) ListByUserID(ctx context.Context, userID string, page, perPage int) ([]*notification.Notification, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, title, message, category, data, opened_at, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var out []*notification.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating notifications: %w", err)
	}
	return out, total, nil
}

func (r *NotificationRepository) MarkOpened(ctx context.Context, notificationID, userID string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE notifications
		SET opened_at = COALESCE(opened_at, $1)
		WHERE id = $2 AND user_id = $3
	`, time.Now().UTC(), notificationID, userID)
	if err != nil {
		return fmt.Errorf("failed to mark notification as opened: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return notification.ErrNotificationNotFound
	}
	return nil
}

func scanNotification(row scanner) (*notification.Notification, error) {
	var n notification.Notification
	var data []byte
	var openedAt sql.NullTime
	if err := row.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.Category, &data, &openedAt, &n.CreatedAt); err != nil {
		return nil, err
	}
	if openedAt.Valid {
		n.OpenedAt = &openedAt.Time
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &n.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal notification data: %w", err)
		}
	}
	return &n, nil
}
