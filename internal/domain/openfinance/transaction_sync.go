package openfinance

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"koffers/internal/domain/account"
	"koffers/internal/domain/connection"
	"koffers/internal/domain/transaction"
	ofclient "koffers/internal/infrastructure/openfinance"
	"koffers/internal/shared/apperr"
	"koffers/internal/shared/logger"
)

// DefaultPageSize is the number of deltas requested per provider page.
const DefaultPageSize = 250

// TransactionSyncService pulls cursor-based deltas from the provider and
// reconciles them into the local store.
type TransactionSyncService struct {
	client      ofclient.ClientInterface
	connections *connection.Service
	cursors     *CursorStore
	writer      *recordWriter
	retry       RetryPolicy
	pageSize    int
	log         *zap.Logger
}

// NewTransactionSyncService creates a new transaction sync service
func NewTransactionSyncService(
	client ofclient.ClientInterface,
	connections *connection.Service,
	accountRepo account.Repository,
	transactionRepo transaction.Repository,
	cursors *CursorStore,
	retry RetryPolicy,
	pageSize int,
	log *zap.Logger,
) *TransactionSyncService {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	log = logger.OrNop(log)
	return &TransactionSyncService{
		client:      client,
		connections: connections,
		cursors:     cursors,
		writer:      &recordWriter{accounts: accountRepo, transactions: transactionRepo, log: log},
		retry:       retry,
		pageSize:    pageSize,
		log:         log,
	}
}

// Sync runs the cursor loop for one connection. Recoverable failures
// (malformed records, exhausted transient errors, the page limit) are
// reported in the result with a nil error. A credential failure marks the
// connection and fails the call.
func (s *TransactionSyncService) Sync(ctx context.Context, conn *connection.Connection) (*TransactionSyncResult, error) {
	ctx, span := syncTracer.Start(ctx, "sync.transactions",
		trace.WithAttributes(attribute.String("connection.id", conn.ID)))
	defer span.End()

	result := newTransactionSyncResult(conn.ID)
	if err := checkSyncable(conn); err != nil {
		return result, err
	}

	accounts, err := s.writer.accountIndex(ctx, conn.ID)
	if err != nil {
		return result, apperr.Wrap(apperr.CodePersistenceFailed, err, "failed to load accounts")
	}

	cursor, err := s.cursors.Load(ctx, conn.ID)
	if err != nil {
		return result, apperr.Wrap(apperr.CodePersistenceFailed, err, "failed to load cursor")
	}
	log := s.log.With(zap.String("connection_id", conn.ID), zap.String("user_id", conn.UserID))
	log.Debug("starting transaction sync", zap.Bool("incremental", cursor != ""))

	for {
		if result.Pages >= MaxSyncPages {
			result.Truncated = true
			result.addError("", apperr.CodePageLimitReached,
				fmt.Sprintf("stopped after %d pages; remaining pages resume from the saved cursor", MaxSyncPages))
			log.Warn("transaction sync page limit reached", zap.Int("pages", result.Pages))
			break
		}

		var page *ofclient.SyncResponse
		err := s.retry.Do(ctx, func(ctx context.Context) error {
			var ferr error
			page, ferr = s.client.SyncTransactions(ctx, conn.AccessToken, cursor, s.pageSize)
			return ferr
		})
		if err != nil {
			if ferr := s.handleFetchError(ctx, conn, err, result); ferr != nil {
				span.RecordError(ferr)
				span.SetStatus(codes.Error, ferr.Error())
				syncRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "cursor"), attribute.String("status", "error")))
				return result, ferr
			}
			break
		}

		upserts := make([]ofclient.Transaction, 0, len(page.Added)+len(page.Modified))
		upserts = append(upserts, page.Added...)
		upserts = append(upserts, page.Modified...)
		removed := make([]string, 0, len(page.Removed))
		for _, r := range page.Removed {
			removed = append(removed, r.TransactionID)
		}

		if !s.writer.apply(ctx, conn, accounts, upserts, removed, result) {
			log.Warn("page not fully persisted, cursor left in place", zap.Int("page", result.Pages+1))
			break
		}

		if err := s.cursors.Advance(ctx, conn.ID, page.NextCursor); err != nil {
			result.addError("", apperr.CodePersistenceFailed, err.Error())
			log.Error("failed to advance cursor", zap.Error(err))
			break
		}
		cursor = page.NextCursor
		result.Pages++
		syncPages.Add(ctx, 1)

		if !page.HasMore {
			break
		}
	}

	if !result.HasCode(apperr.CodeProviderUnavailable) && !result.HasCode(apperr.CodeProviderError) {
		if err := s.connections.MarkActive(ctx, conn); err != nil {
			log.Warn("failed to clear connection error", zap.Error(err))
		}
	}

	syncRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "cursor"), attribute.String("status", "ok")))
	log.Info("transaction sync completed",
		zap.Int("pages", result.Pages),
		zap.Int("added", result.Added),
		zap.Int("updated", result.Updated),
		zap.Int("removed", result.Removed),
		zap.Int("skipped", result.Skipped),
		zap.Bool("truncated", result.Truncated),
		zap.Int("errors", len(result.Errors)),
	)
	return result, nil
}

// handleFetchError records a failed provider call. It returns a non-nil
// error only when the whole call must fail.
func (s *TransactionSyncService) handleFetchError(ctx context.Context, conn *connection.Connection, err error, result *TransactionSyncResult) error {
	return handleProviderError(ctx, s.connections, s.log, conn, err, func(code apperr.Code, msg string) {
		result.addError("", code, msg)
	})
}

func checkSyncable(conn *connection.Connection) error {
	switch conn.Status {
	case connection.StatusDisconnected:
		return apperr.New(apperr.CodeConnectionDisconnected, "connection is disconnected")
	case connection.StatusReauthRequired:
		return apperr.New(apperr.CodeReauthRequired, "connection requires re-authentication")
	}
	return nil
}

// handleProviderError classifies an exhausted provider failure. Reauth
// failures mark the connection and are returned. Transient failures are
// recorded and swallowed. Anything else marks the connection as errored
// and is returned.
func handleProviderError(
	ctx context.Context,
	connections *connection.Service,
	log *zap.Logger,
	conn *connection.Connection,
	err error,
	record func(code apperr.Code, msg string),
) error {
	log = log.With(zap.String("connection_id", conn.ID))

	if ctx.Err() != nil {
		record(apperr.CodeProviderUnavailable, ctx.Err().Error())
		return nil
	}

	pe, ok := ofclient.AsProviderError(err)
	switch {
	case ok && pe.IsReauth():
		if merr := connections.MarkReauthRequired(ctx, conn, pe.ErrorCode); merr != nil {
			log.Error("failed to mark connection reauth_required", zap.Error(merr))
		}
		record(apperr.CodeReauthRequired, pe.Error())
		return apperr.Wrap(apperr.CodeReauthRequired, err, "connection requires re-authentication")

	case ok && pe.Retryable():
		log.Warn("provider unavailable, keeping partial results", zap.Error(err))
		record(apperr.CodeProviderUnavailable, pe.Error())
		return nil

	default:
		reason := "provider_error"
		if ok && pe.ErrorCode != "" {
			reason = pe.ErrorCode
		}
		if merr := connections.MarkError(ctx, conn, reason); merr != nil {
			log.Error("failed to mark connection error", zap.Error(merr))
		}
		record(apperr.CodeProviderError, err.Error())
		return apperr.Wrap(apperr.CodeProviderError, err, "provider request failed")
	}
}
