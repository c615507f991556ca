// Package openfinance provides domain services for syncing financial data
package openfinance

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"koffers/internal/domain/account"
	"koffers/internal/domain/connection"
	ofclient "koffers/internal/infrastructure/openfinance"
	"koffers/internal/shared/apperr"
	"koffers/internal/shared/logger"
)

// AccountSyncService handles syncing accounts from the provider. Every run
// is a full fetch; accounts are upserted by external id.
type AccountSyncService struct {
	client         ofclient.ClientInterface
	connections    *connection.Service
	accountService *account.Service
	retry          RetryPolicy
	log            *zap.Logger
}

// NewAccountSyncService creates a new account sync service
func NewAccountSyncService(
	client ofclient.ClientInterface,
	connections *connection.Service,
	accountService *account.Service,
	retry RetryPolicy,
	log *zap.Logger,
) *AccountSyncService {
	return &AccountSyncService{
		client:         client,
		connections:    connections,
		accountService: accountService,
		retry:          retry,
		log:            logger.OrNop(log),
	}
}

// Sync fetches and upserts every account of the connection. A failed
// fetch fails the call since there is nothing partial to keep.
func (s *AccountSyncService) Sync(ctx context.Context, conn *connection.Connection) (*AccountSyncResult, error) {
	ctx, span := syncTracer.Start(ctx, "sync.accounts",
		trace.WithAttributes(attribute.String("connection.id", conn.ID)))
	defer span.End()

	result := &AccountSyncResult{ConnectionID: conn.ID, Errors: []SyncError{}}
	if err := checkSyncable(conn); err != nil {
		return result, err
	}

	var resp *ofclient.AccountsResponse
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		var ferr error
		resp, ferr = s.client.GetAccounts(ctx, conn.AccessToken)
		return ferr
	})
	if err != nil {
		var recorded SyncError
		ferr := handleProviderError(ctx, s.connections, s.log, conn, err, func(code apperr.Code, msg string) {
			recorded = SyncError{Code: code, Message: msg}
		})
		result.Errors = append(result.Errors, recorded)
		if ferr == nil {
			ferr = apperr.Wrap(recorded.Code, err, "failed to fetch accounts")
		}
		span.RecordError(ferr)
		return result, ferr
	}

	result.AccountsFound = len(resp.Accounts)
	for _, a := range resp.Accounts {
		_, created, err := s.accountService.UpsertAccount(ctx, accountParams(conn, a))
		if err != nil {
			code := apperr.CodePersistenceFailed
			if errors.Is(err, account.ErrInvalidInput) {
				code = apperr.CodeMalformedRecord
			}
			result.Errors = append(result.Errors, SyncError{
				ExternalID: a.AccountID,
				Code:       code,
				Message:    err.Error(),
			})
			s.log.Warn("failed to sync account",
				zap.String("connection_id", conn.ID), zap.String("external_id", a.AccountID), zap.Error(err))
			continue
		}
		if created {
			result.Created++
		} else {
			result.Updated++
		}
	}

	s.log.Info("account sync completed",
		zap.String("connection_id", conn.ID),
		zap.Int("found", result.AccountsFound),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("errors", len(result.Errors)),
	)
	return result, nil
}
