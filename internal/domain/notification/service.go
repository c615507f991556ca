package notification

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"koffers/internal/domain/connection"
	"koffers/internal/domain/receipt"
	"koffers/internal/domain/transaction"
	"koffers/internal/shared/logger"
	"koffers/internal/shared/messages"
)

// Service contains the business logic for notification operations
type Service struct {
	repo      Repository
	messenger Messenger
	texts     *messages.Messages
	log       *zap.Logger
}

// NewService creates a new notification service. messenger may be nil, in
// which case notifications are only stored. texts defaults to
// messages.Defaults.
func NewService(repo Repository, messenger Messenger, texts *messages.Messages, log *zap.Logger) *Service {
	if texts == nil {
		d := messages.Defaults
		texts = &d
	}
	return &Service{repo: repo, messenger: messenger, texts: texts, log: logger.OrNop(log)}
}

// RegisterDevice registers a device token for the authenticated user.
// A token that already belongs to another user is reassigned.
func (s *Service) RegisterDevice(ctx context.Context, params CreateDeviceTokenParams) (*DeviceToken, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return s.repo.UpsertDeviceToken(ctx, params)
}

// DeactivateToken marks a token as no longer deliverable. Used as the FCM
// client's callback for unregistered tokens.
func (s *Service) DeactivateToken(ctx context.Context, token string) error {
	if token == "" {
		return ErrInvalidToken
	}
	return s.repo.DeactivateToken(ctx, token)
}

// GetPreferences returns the user's preferences, or all-enabled defaults
// if none have been saved yet.
func (s *Service) GetPreferences(ctx context.Context, userID string) (*Preference, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user ID is required", ErrInvalidInput)
	}
	prefs, err := s.repo.GetPreferences(ctx, userID)
	if errors.Is(err, ErrPreferencesNotFound) {
		return DefaultPreference(userID), nil
	}
	if err != nil {
		return nil, err
	}
	return prefs, nil
}

// UpdatePreferences applies params on top of the current preferences.
func (s *Service) UpdatePreferences(ctx context.Context, userID string, params UpdatePreferenceParams) (*Preference, error) {
	current, err := s.GetPreferences(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.repo.SavePreferences(ctx, params.Apply(*current))
}

// ListNotifications returns paginated notifications for a user
func (s *Service) ListNotifications(ctx context.Context, userID string, page, perPage int) ([]*Notification, int, error) {
	if userID == "" {
		return nil, 0, fmt.Errorf("%w: user ID is required", ErrInvalidInput)
	}
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	return s.repo.ListByUserID(ctx, userID, page, perPage)
}

// MarkNotificationOpened marks a notification as opened by its owner.
func (s *Service) MarkNotificationOpened(ctx context.Context, notificationID, userID string) error {
	if notificationID == "" || userID == "" {
		return fmt.Errorf("%w: notification and user ID are required", ErrInvalidInput)
	}
	return s.repo.MarkOpened(ctx, notificationID, userID)
}

// SendToUser pushes a notification to every active device of the user and
// stores a record of it. Disabled categories are skipped silently. Delivery
// and storage failures are logged, not returned, so callers in the sync and
// receipt paths never fail because of a notification.
func (s *Service) SendToUser(ctx context.Context, userID, title, body, category string, data map[string]string) error {
	if !IsValidCategory(category) {
		return ErrInvalidCategory
	}
	log := s.log.With(zap.String("user_id", userID), zap.String("category", category))

	prefs, err := s.GetPreferences(ctx, userID)
	if err != nil {
		return err
	}
	if !prefs.IsCategoryEnabled(category) {
		log.Debug("notification skipped, category disabled")
		return nil
	}

	if data == nil {
		data = make(map[string]string)
	}
	if _, ok := data["route"]; !ok {
		data["route"] = category
	}

	if _, err := s.repo.CreateNotification(ctx, CreateNotificationParams{
		UserID:   userID,
		Title:    title,
		Message:  body,
		Category: category,
		Data:     data,
	}); err != nil {
		log.Error("failed to store notification", zap.Error(err))
	}

	if s.messenger == nil {
		return nil
	}
	tokens, err := s.repo.GetActiveTokensByUserID(ctx, userID)
	if err != nil {
		log.Error("failed to load device tokens", zap.Error(err))
		return nil
	}
	if len(tokens) == 0 {
		log.Debug("no active device tokens")
		return nil
	}
	tokenStrings := make([]string, len(tokens))
	for i, t := range tokens {
		tokenStrings[i] = t.Token
	}
	if err := s.messenger.SendMulticast(ctx, tokenStrings, title, body, data); err != nil {
		log.Error("failed to send push notification", zap.Error(err))
	}
	return nil
}

// NotifyReauthRequired tells the owner to sign in to the institution again.
func (s *Service) NotifyReauthRequired(ctx context.Context, conn *connection.Connection) error {
	title, body := s.texts.ReauthRequired.Render(map[string]string{"institution": institutionName(conn)})
	return s.SendToUser(ctx, conn.UserID, title, body, CategoryConnections, map[string]string{
		"connectionId": conn.ID,
		"status":       string(conn.Status),
	})
}

// NotifyConnectionError tells the owner the provider keeps failing for a
// connection.
func (s *Service) NotifyConnectionError(ctx context.Context, conn *connection.Connection) error {
	title, body := s.texts.ConnectionError.Render(map[string]string{"institution": institutionName(conn)})
	return s.SendToUser(ctx, conn.UserID, title, body, CategoryConnections, map[string]string{
		"connectionId": conn.ID,
		"status":       string(conn.Status),
	})
}

// NotifyReceiptMatched tells the owner which transaction a receipt went to.
func (s *Service) NotifyReceiptMatched(ctx context.Context, file *receipt.ReceiptFile, tx *transaction.Transaction) error {
	merchant := tx.MerchantName
	if file.Extraction != nil && file.Extraction.Merchant != "" {
		merchant = file.Extraction.Merchant
	}
	if merchant == "" {
		merchant = tx.Name
	}
	title, body := s.texts.ReceiptMatched.Render(map[string]string{
		"merchant": merchant,
		"amount":   messages.FormatAmount(tx.Amount.Abs(), tx.Currency),
	})
	return s.SendToUser(ctx, file.UserID, title, body, CategoryReceipts, map[string]string{
		"receiptId":     file.ID,
		"transactionId": tx.ID,
	})
}

// NotifyReceiptFailed tells the owner a receipt could not be read.
func (s *Service) NotifyReceiptFailed(ctx context.Context, file *receipt.ReceiptFile) error {
	name := file.FileName
	if name == "" {
		name = "your receipt"
	}
	title, body := s.texts.ReceiptFailed.Render(map[string]string{"file": name})
	return s.SendToUser(ctx, file.UserID, title, body, CategoryReceipts, map[string]string{
		"receiptId": file.ID,
	})
}

func institutionName(conn *connection.Connection) string {
	if conn.InstitutionName != "" {
		return conn.InstitutionName
	}
	return "your bank"
}
