package connection

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"koffers/internal/shared/logger"
)

// Notifier tells a user about a change in one of their connections.
type Notifier interface {
	NotifyReauthRequired(ctx context.Context, conn *Connection) error
	NotifyConnectionError(ctx context.Context, conn *Connection) error
}

// Service contains the business logic for connection operations
type Service struct {
	repo     Repository
	notifier Notifier
	log      *zap.Logger
}

// NewService creates a new connection service. notifier may be nil.
func NewService(repo Repository, notifier Notifier, log *zap.Logger) *Service {
	return &Service{repo: repo, notifier: notifier, log: logger.OrNop(log)}
}

// Create validates and stores a newly linked connection.
func (s *Service) Create(ctx context.Context, params CreateParams) (*Connection, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return s.repo.Create(ctx, params)
}

// Get loads a connection and verifies it belongs to userID.
func (s *Service) Get(ctx context.Context, id, userID string) (*Connection, error) {
	conn, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if conn.UserID != userID {
		return nil, ErrForbidden
	}
	return conn, nil
}

// GetByItemID resolves the provider's item identifier to a connection.
func (s *Service) GetByItemID(ctx context.Context, itemID string) (*Connection, error) {
	if itemID == "" {
		return nil, ErrConnectionNotFound
	}
	return s.repo.GetByItemID(ctx, itemID)
}

func (s *Service) ListByUserID(ctx context.Context, userID string) ([]*Connection, error) {
	if userID == "" {
		return nil, errors.New("valid user ID is required")
	}
	return s.repo.ListByUserID(ctx, userID)
}

func (s *Service) ListSyncable(ctx context.Context) ([]*Connection, error) {
	return s.repo.ListSyncable(ctx)
}

// MarkActive clears a previous error once a sync succeeds again.
func (s *Service) MarkActive(ctx context.Context, conn *Connection) error {
	if conn.Status == StatusActive {
		return nil
	}
	return s.setStatus(ctx, conn, StatusActive, "")
}

// MarkError records a provider-side item error. Transactions are untouched.
// The owner is told the first time the connection enters the state.
func (s *Service) MarkError(ctx context.Context, conn *Connection, reason string) error {
	already := conn.Status == StatusError
	if err := s.setStatus(ctx, conn, StatusError, reason); err != nil {
		return err
	}
	if already || s.notifier == nil {
		return nil
	}
	if err := s.notifier.NotifyConnectionError(ctx, conn); err != nil {
		s.log.Warn("failed to send connection error notification",
			zap.String("connection_id", conn.ID), zap.Error(err))
	}
	return nil
}

// MarkReauthRequired flags the connection and notifies the owner the first
// time it enters the state.
func (s *Service) MarkReauthRequired(ctx context.Context, conn *Connection, reason string) error {
	already := conn.Status == StatusReauthRequired
	if err := s.setStatus(ctx, conn, StatusReauthRequired, reason); err != nil {
		return err
	}
	if already || s.notifier == nil {
		return nil
	}
	if err := s.notifier.NotifyReauthRequired(ctx, conn); err != nil {
		s.log.Warn("failed to send reauth notification",
			zap.String("connection_id", conn.ID), zap.Error(err))
	}
	return nil
}

// MarkDisconnected records that the user revoked provider access.
func (s *Service) MarkDisconnected(ctx context.Context, conn *Connection, reason string) error {
	return s.setStatus(ctx, conn, StatusDisconnected, reason)
}

func (s *Service) setStatus(ctx context.Context, conn *Connection, status Status, reason string) error {
	if !IsValidStatus(status) {
		return ErrInvalidStatus
	}
	if err := s.repo.UpdateStatus(ctx, conn.ID, status, reason); err != nil {
		return fmt.Errorf("failed to update connection status: %w", err)
	}
	s.log.Info("connection status changed",
		zap.String("connection_id", conn.ID),
		zap.String("from", string(conn.Status)),
		zap.String("to", string(status)),
		zap.String("reason", reason),
	)
	conn.Status = status
	conn.StatusReason = reason
	return nil
}
