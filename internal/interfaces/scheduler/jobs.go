package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"koffers/internal/domain/connection"
	"koffers/internal/domain/openfinance"
	"koffers/internal/domain/receipt"
	"koffers/internal/shared/apperr"
	"koffers/internal/shared/logger"
)

// ConnectionSyncer runs a full sync of one connection.
type ConnectionSyncer interface {
	SyncConnection(ctx context.Context, conn *connection.Connection) (*openfinance.ConnectionSyncResult, error)
}

// PendingMatcher retries matching for a user's unlinked receipts.
type PendingMatcher interface {
	MatchPending(ctx context.Context, userID string) (*receipt.MatchSummary, error)
}

// ReceiptProcessor extracts and matches one pending receipt.
type ReceiptProcessor interface {
	Process(ctx context.Context, fileID string) (*receipt.ProcessResult, error)
}

// PendingReceiptLister lists uploads that are still waiting for extraction.
type PendingReceiptLister interface {
	ListPending(ctx context.Context, olderThan time.Time) ([]*receipt.ReceiptFile, error)
}

// SyncableLister lists the connections the scheduler should sync.
type SyncableLister interface {
	ListSyncable(ctx context.Context) ([]*connection.Connection, error)
}

// ConnectionSyncJob syncs accounts and transactions of one connection.
type ConnectionSyncJob struct {
	conn   *connection.Connection
	syncer ConnectionSyncer
	log    *zap.Logger
}

func NewConnectionSyncJob(conn *connection.Connection, syncer ConnectionSyncer, log *zap.Logger) *ConnectionSyncJob {
	return &ConnectionSyncJob{conn: conn, syncer: syncer, log: logger.OrNop(log)}
}

// Execute runs the sync. A connection that needs re-authentication or was
// disconnected has already been marked by the sync, so it is not a job
// failure.
func (j *ConnectionSyncJob) Execute(ctx context.Context) error {
	log := j.log.With(zap.String("connection_id", j.conn.ID), zap.String("user_id", j.conn.UserID))

	res, err := j.syncer.SyncConnection(ctx, j.conn)
	if apperr.HasCode(err, apperr.CodeReauthRequired) || apperr.HasCode(err, apperr.CodeConnectionDisconnected) {
		log.Warn("connection needs user action", zap.String("code", string(apperr.CodeOf(err))))
		return nil
	}
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	fields := []zap.Field{zap.Bool("shared", res.Shared)}
	if tx := res.Transactions; tx != nil {
		fields = append(fields,
			zap.Int("added", tx.Added),
			zap.Int("updated", tx.Updated),
			zap.Int("removed", tx.Removed),
			zap.Int("errors", len(tx.Errors)),
		)
		if len(tx.Errors) > 0 {
			log.Warn("connection sync completed with errors", fields...)
			return nil
		}
	}
	log.Info("connection sync completed", fields...)
	return nil
}

func (j *ConnectionSyncJob) UserID() string { return j.conn.UserID }

func (j *ConnectionSyncJob) Description() string {
	return fmt.Sprintf("Connection sync for %s", j.conn.ID)
}

// PendingMatchJob links receipts that completed before their transaction
// had been synced.
type PendingMatchJob struct {
	userID  string
	matcher PendingMatcher
	log     *zap.Logger
}

func NewPendingMatchJob(userID string, matcher PendingMatcher, log *zap.Logger) *PendingMatchJob {
	return &PendingMatchJob{userID: userID, matcher: matcher, log: logger.OrNop(log)}
}

func (j *PendingMatchJob) Execute(ctx context.Context) error {
	summary, err := j.matcher.MatchPending(ctx, j.userID)
	if err != nil {
		return fmt.Errorf("pending match failed: %w", err)
	}
	j.log.Info("pending receipts matched",
		zap.String("user_id", j.userID),
		zap.Int("checked", summary.Checked),
		zap.Int("matched", summary.Matched),
		zap.Strings("errors", summary.Errors),
	)
	return nil
}

func (j *PendingMatchJob) UserID() string { return j.userID }

func (j *PendingMatchJob) Description() string {
	return fmt.Sprintf("Pending receipt match for user %s", j.userID)
}

// UserSyncJob syncs each of a user's connections in order and then runs a
// pending match, so receipts see the freshly synced transactions.
type UserSyncJob struct {
	userID string
	syncs  []*ConnectionSyncJob
	match  *PendingMatchJob
}

func NewUserSyncJob(userID string, syncs []*ConnectionSyncJob, match *PendingMatchJob) *UserSyncJob {
	return &UserSyncJob{userID: userID, syncs: syncs, match: match}
}

// Execute keeps going after a failed connection so one broken bank does not
// block the others. The first failure is returned.
func (j *UserSyncJob) Execute(ctx context.Context) error {
	var firstErr error
	for _, s := range j.syncs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.Execute(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if j.match != nil {
		if err := j.match.Execute(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (j *UserSyncJob) UserID() string { return j.userID }

func (j *UserSyncJob) Description() string {
	return fmt.Sprintf("Full sync (%d connections + receipt match) for user %s", len(j.syncs), j.userID)
}

// ReceiptProcessJob runs OCR extraction and matching for one uploaded file.
type ReceiptProcessJob struct {
	fileID    string
	userID    string
	processor ReceiptProcessor
	log       *zap.Logger
}

func NewReceiptProcessJob(fileID, userID string, processor ReceiptProcessor, log *zap.Logger) *ReceiptProcessJob {
	return &ReceiptProcessJob{fileID: fileID, userID: userID, processor: processor, log: logger.OrNop(log)}
}

// Execute treats a file that is no longer pending as done: the upload
// notification can race with a manual process request.
func (j *ReceiptProcessJob) Execute(ctx context.Context) error {
	res, err := j.processor.Process(ctx, j.fileID)
	if apperr.HasCode(err, apperr.CodeInvalidState) {
		j.log.Debug("receipt already processed", zap.String("receipt_id", j.fileID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("receipt processing failed: %w", err)
	}

	fields := []zap.Field{zap.String("receipt_id", j.fileID), zap.String("status", string(res.File.OCRStatus))}
	if res.Transaction != nil {
		fields = append(fields, zap.String("transaction_id", res.Transaction.ID))
	}
	j.log.Info("receipt processed", fields...)
	return nil
}

func (j *ReceiptProcessJob) UserID() string { return j.userID }

func (j *ReceiptProcessJob) Description() string {
	return fmt.Sprintf("Receipt processing for %s", j.fileID)
}

// SyncJobProvider returns a JobProvider that groups the syncable
// connections by user into one UserSyncJob each.
func SyncJobProvider(conns SyncableLister, syncer ConnectionSyncer, matcher PendingMatcher, log *zap.Logger) JobProvider {
	return func(ctx context.Context) ([]Job, error) {
		list, err := conns.ListSyncable(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list syncable connections: %w", err)
		}

		byUser := make(map[string][]*ConnectionSyncJob)
		for _, c := range list {
			byUser[c.UserID] = append(byUser[c.UserID], NewConnectionSyncJob(c, syncer, log))
		}
		users := make([]string, 0, len(byUser))
		for u := range byUser {
			users = append(users, u)
		}
		sort.Strings(users)

		jobs := make([]Job, 0, len(users))
		for _, u := range users {
			var match *PendingMatchJob
			if matcher != nil {
				match = NewPendingMatchJob(u, matcher, log)
			}
			jobs = append(jobs, NewUserSyncJob(u, byUser[u], match))
		}
		return jobs, nil
	}
}

// PendingReceiptJobProvider returns a JobProvider that re-enqueues uploads
// still pending after minAge. It covers notifications that were dropped on
// a full queue, missed during a listener reconnect or lost on restart.
func PendingReceiptJobProvider(receipts PendingReceiptLister, processor ReceiptProcessor, minAge time.Duration, log *zap.Logger) JobProvider {
	return pendingReceiptJobProvider(receipts, processor, minAge, time.Now, log)
}

func pendingReceiptJobProvider(receipts PendingReceiptLister, processor ReceiptProcessor, minAge time.Duration, now func() time.Time, log *zap.Logger) JobProvider {
	log = logger.OrNop(log)
	return func(ctx context.Context) ([]Job, error) {
		files, err := receipts.ListPending(ctx, now().Add(-minAge))
		if err != nil {
			return nil, fmt.Errorf("failed to list pending receipts: %w", err)
		}
		jobs := make([]Job, 0, len(files))
		for _, f := range files {
			jobs = append(jobs, NewReceiptProcessJob(f.ID, f.UserID, processor, log))
		}
		if len(jobs) > 0 {
			log.Info("re-enqueueing pending receipts", zap.Int("count", len(jobs)))
		}
		return jobs, nil
	}
}

// CombineProviders concatenates the batches of several providers. A failing
// provider does not hold back the others: their jobs are returned along
// with the joined errors.
func CombineProviders(providers ...JobProvider) JobProvider {
	return func(ctx context.Context) ([]Job, error) {
		var jobs []Job
		var errs []error
		for _, p := range providers {
			batch, err := p(ctx)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			jobs = append(jobs, batch...)
		}
		return jobs, errors.Join(errs...)
	}
}
