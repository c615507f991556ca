package notification

import "context"

// Repository defines the interface for notification data access.
type Repository interface {
	// Device tokens
	UpsertDeviceToken(ctx context.Context, params CreateDeviceTokenParams) (*DeviceToken, error)
	GetActiveTokensByUserID(ctx context.Context, userID string) ([]*DeviceToken, error)
	DeactivateToken(ctx context.Context, token string) error

	// Preferences. GetPreferences returns ErrPreferencesNotFound when the
	// user never saved any.
	GetPreferences(ctx context.Context, userID string) (*Preference, error)
	SavePreferences(ctx context.Context, pref Preference) (*Preference, error)

	// Notifications
	CreateNotification(ctx context.Context, params CreateNotificationParams) (*Notification, error)
	ListByUserID(ctx context.Context, userID string, page, perPage int) ([]*Notification, int, error)
	MarkOpened(ctx context.Context, notificationID, userID string) error
}
