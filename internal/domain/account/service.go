package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Service contains the business logic for account operations
type Service struct {
	repo Repository
}

// NewService creates a new account service
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// GetAccount retrieves an account by ID and verifies user ownership
func (s *Service) GetAccount(ctx context.Context, accountID string, userID string) (*Account, error) {
	account, err := s.repo.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if account.UserID != userID {
		return nil, ErrForbidden
	}

	return account, nil
}

// ListAccountsByUserID retrieves all accounts for a specific user
func (s *Service) ListAccountsByUserID(ctx context.Context, userID string) ([]*Account, error) {
	if userID == "" {
		return nil, errors.New("valid user ID is required")
	}

	return s.repo.ListByUserID(ctx, userID)
}

// ListAccountsByConnection retrieves the accounts of one connection
func (s *Service) ListAccountsByConnection(ctx context.Context, connectionID string) ([]*Account, error) {
	return s.repo.ListByConnectionID(ctx, connectionID)
}

// UpsertAccount creates or updates an account with validation.
// Returns true when the account did not exist before.
func (s *Service) UpsertAccount(ctx context.Context, params UpsertParams) (*Account, bool, error) {
	if params.Currency == "" {
		params.Currency = "USD"
	}
	params.Currency = strings.ToUpper(params.Currency)

	if err := params.Validate(); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	return s.repo.Upsert(ctx, params)
}
