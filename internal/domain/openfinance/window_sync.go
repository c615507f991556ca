package openfinance

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
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

// Window lengths used by webhook-triggered date-range syncs.
const (
	RecentWindowDays       = 30
	HistoricalWindowMonths = 24
)

// WindowSyncService reconciles a bounded date range through the provider's
// offset-paginated feed. It does not read or move the sync cursor.
type WindowSyncService struct {
	client      ofclient.ClientInterface
	connections *connection.Service
	writer      *recordWriter
	retry       RetryPolicy
	pageSize    int
	now         func() time.Time
	log         *zap.Logger
}

func NewWindowSyncService(
	client ofclient.ClientInterface,
	connections *connection.Service,
	accountRepo account.Repository,
	transactionRepo transaction.Repository,
	retry RetryPolicy,
	pageSize int,
	log *zap.Logger,
) *WindowSyncService {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	log = logger.OrNop(log)
	return &WindowSyncService{
		client:      client,
		connections: connections,
		writer:      &recordWriter{accounts: accountRepo, transactions: transactionRepo, log: log},
		retry:       retry,
		pageSize:    pageSize,
		now:         time.Now,
		log:         log,
	}
}

// SyncRecent reconciles the last 30 days.
func (s *WindowSyncService) SyncRecent(ctx context.Context, conn *connection.Connection) (*TransactionSyncResult, error) {
	end := s.now().UTC()
	return s.SyncRange(ctx, conn, end.AddDate(0, 0, -RecentWindowDays), end)
}

// SyncHistorical reconciles up to 24 months back.
func (s *WindowSyncService) SyncHistorical(ctx context.Context, conn *connection.Connection) (*TransactionSyncResult, error) {
	end := s.now().UTC()
	return s.SyncRange(ctx, conn, end.AddDate(0, -HistoricalWindowMonths, 0), end)
}

// SyncRange pages through [start, end] until total_transactions records
// have been seen, an empty page arrives, or MaxSyncPages is hit.
func (s *WindowSyncService) SyncRange(ctx context.Context, conn *connection.Connection, start, end time.Time) (*TransactionSyncResult, error) {
	ctx, span := syncTracer.Start(ctx, "sync.window",
		trace.WithAttributes(
			attribute.String("connection.id", conn.ID),
			attribute.String("window.start", start.Format(time.DateOnly)),
			attribute.String("window.end", end.Format(time.DateOnly)),
		))
	defer span.End()

	result := newTransactionSyncResult(conn.ID)
	if err := checkSyncable(conn); err != nil {
		return result, err
	}
	if end.Before(start) {
		return result, apperr.New(apperr.CodeInvalidInput, "window end is before start")
	}

	accounts, err := s.writer.accountIndex(ctx, conn.ID)
	if err != nil {
		return result, apperr.Wrap(apperr.CodePersistenceFailed, err, "failed to load accounts")
	}

	offset := 0
	for {
		if result.Pages >= MaxSyncPages {
			result.Truncated = true
			result.addError("", apperr.CodePageLimitReached,
				fmt.Sprintf("stopped after %d pages at offset %d", MaxSyncPages, offset))
			break
		}

		var page *ofclient.TransactionsResponse
		err := s.retry.Do(ctx, func(ctx context.Context) error {
			var ferr error
			page, ferr = s.client.GetTransactions(ctx, conn.AccessToken, start, end, offset, s.pageSize)
			return ferr
		})
		if err != nil {
			ferr := handleProviderError(ctx, s.connections, s.log, conn, err, func(code apperr.Code, msg string) {
				result.addError("", code, msg)
			})
			if ferr != nil {
				return result, ferr
			}
			break
		}
		if len(page.Transactions) == 0 {
			break
		}

		if !s.writer.apply(ctx, conn, accounts, page.Transactions, nil, result) {
			break
		}
		result.Pages++
		offset += len(page.Transactions)
		if offset >= page.TotalTransactions {
			break
		}
	}

	syncRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "window"), attribute.String("status", "ok")))
	s.log.Info("window sync completed",
		zap.String("connection_id", conn.ID),
		zap.Time("start", start),
		zap.Time("end", end),
		zap.Int("pages", result.Pages),
		zap.Int("added", result.Added),
		zap.Int("updated", result.Updated),
		zap.Int("errors", len(result.Errors)),
	)
	return result, nil
}
