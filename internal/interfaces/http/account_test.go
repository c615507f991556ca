package http

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"koffers/internal/domain/account"
)

// MockAccountRepo implements account.Repository for testing
type MockAccountRepo struct {
	UpsertFunc             func(ctx context.Context, params account.UpsertParams) (*account.Account, bool, error)
	GetByIDFunc            func(ctx context.Context, id string) (*account.Account, error)
	ListByConnectionIDFunc func(ctx context.Context, connectionID string) ([]*account.Account, error)
	ListByUserIDFunc       func(ctx context.Context, userID string) ([]*account.Account, error)
}

func (m *MockAccountRepo) Upsert(ctx context.Context, params account.UpsertParams) (*account.Account, bool, error) {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, params)
	}
	return nil, false, nil
}

func (m *MockAccountRepo) GetByID(ctx context.Context, id string) (*account.Account, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *MockAccountRepo) ListByConnectionID(ctx context.Context, connectionID string) ([]*account.Account, error) {
	if m.ListByConnectionIDFunc != nil {
		return m.ListByConnectionIDFunc(ctx, connectionID)
	}
	return nil, nil
}

func (m *MockAccountRepo) ListByUserID(ctx context.Context, userID string) ([]*account.Account, error) {
	if m.ListByUserIDFunc != nil {
		return m.ListByUserIDFunc(ctx, userID)
	}
	return nil, nil
}

func TestHandleListAccounts(t *testing.T) {
	tests := []struct {
		name           string
		userID         string
		mockRepo       func() *MockAccountRepo
		expectedStatus int
		expectedBody   string
	}{
		{
			name:   "Success",
			userID: "user-1",
			mockRepo: func() *MockAccountRepo {
				return &MockAccountRepo{
					ListByUserIDFunc: func(ctx context.Context, userID string) ([]*account.Account, error) {
						return []*account.Account{{ID: "acc-1", UserID: userID, Name: "Checking"}}, nil
					},
				}
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "Empty List",
			userID:         "user-1",
			mockRepo:       func() *MockAccountRepo { return &MockAccountRepo{} },
			expectedStatus: http.StatusOK,
			expectedBody:   "[]\n",
		},
		{
			name:           "Unauthenticated",
			mockRepo:       func() *MockAccountRepo { return &MockAccountRepo{} },
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:   "Service Error",
			userID: "user-1",
			mockRepo: func() *MockAccountRepo {
				return &MockAccountRepo{
					ListByUserIDFunc: func(ctx context.Context, userID string) ([]*account.Account, error) {
						return nil, errors.New("db error")
					},
				}
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewAccountHandler(account.NewService(tt.mockRepo()), nil)

			rr := serve(t, http.MethodGet, "/api/accounts", "/api/accounts", tt.userID, "", handler.HandleListAccounts)

			if rr.Code != tt.expectedStatus {
				t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, tt.expectedStatus)
			}
			if tt.expectedBody != "" && rr.Body.String() != tt.expectedBody {
				t.Errorf("body = %q, want %q", rr.Body.String(), tt.expectedBody)
			}
		})
	}
}

func TestHandleGetAccount(t *testing.T) {
	tests := []struct {
		name           string
		accountID      string
		mockRepo       func() *MockAccountRepo
		expectedStatus int
	}{
		{
			name:      "Success",
			accountID: "acc-1",
			mockRepo: func() *MockAccountRepo {
				return &MockAccountRepo{
					GetByIDFunc: func(ctx context.Context, id string) (*account.Account, error) {
						return &account.Account{ID: id, UserID: "user-1"}, nil
					},
				}
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:      "Not Found",
			accountID: "acc-999",
			mockRepo: func() *MockAccountRepo {
				return &MockAccountRepo{
					GetByIDFunc: func(ctx context.Context, id string) (*account.Account, error) {
						return nil, account.ErrAccountNotFound
					},
				}
			},
			expectedStatus: http.StatusNotFound,
		},
		{
			name:      "Forbidden",
			accountID: "acc-2",
			mockRepo: func() *MockAccountRepo {
				return &MockAccountRepo{
					GetByIDFunc: func(ctx context.Context, id string) (*account.Account, error) {
						// Account belongs to another user
						return &account.Account{ID: id, UserID: "user-2"}, nil
					},
				}
			},
			expectedStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewAccountHandler(account.NewService(tt.mockRepo()), nil)

			rr := serve(t, http.MethodGet, "/api/accounts/{id}", "/api/accounts/"+tt.accountID, "user-1", "", handler.HandleGetAccount)

			if rr.Code != tt.expectedStatus {
				t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, tt.expectedStatus)
			}
		})
	}
}
