package openfinance

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"koffers/internal/domain/account"
	"koffers/internal/domain/connection"
	"koffers/internal/domain/transaction"
	ofclient "koffers/internal/infrastructure/openfinance"
	"koffers/internal/shared/apperr"
)

// UpsertConcurrency bounds concurrent writes within one page.
const UpsertConcurrency = 10

// recordWriter is the single upsert/delete path shared by the cursor sync,
// the date-window sync and webhook removals.
type recordWriter struct {
	accounts     account.Repository
	transactions transaction.Repository
	log          *zap.Logger
}

// accountIndex maps provider account ids to local accounts.
func (w *recordWriter) accountIndex(ctx context.Context, connectionID string) (map[string]*account.Account, error) {
	accts, err := w.accounts.ListByConnectionID(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	idx := make(map[string]*account.Account, len(accts))
	for _, a := range accts {
		idx[a.ExternalID] = a
	}
	return idx, nil
}

// apply normalizes and writes one page of records. Bad records are skipped
// and recorded. durable is false when any write failed, in which case the
// page must not be acknowledged.
func (w *recordWriter) apply(
	ctx context.Context,
	conn *connection.Connection,
	accounts map[string]*account.Account,
	upserts []ofclient.Transaction,
	removed []string,
	result *TransactionSyncResult,
) (durable bool) {
	var mu sync.Mutex
	durable = true
	record := func(fn func()) {
		mu.Lock()
		fn()
		mu.Unlock()
	}

	// A removal is the last word on a record within a page.
	gone := make(map[string]bool, len(removed))
	for _, id := range removed {
		gone[id] = true
	}

	// A record added and then modified in the same page is written once,
	// with its latest version.
	latest := make(map[string]int, len(upserts))
	order := make([]string, 0, len(upserts))
	for i := range upserts {
		id := upserts[i].TransactionID
		if gone[id] {
			continue
		}
		if _, seen := latest[id]; !seen {
			order = append(order, id)
		}
		latest[id] = i
	}

	params := make([]transaction.UpsertParams, 0, len(order))
	for _, id := range order {
		tx := &upserts[latest[id]]
		acct, ok := accounts[tx.AccountID]
		if !ok {
			acct = &account.Account{}
		}
		p, err := normalizeTransaction(conn, acct, tx)
		if err == nil && !ok {
			result.Skipped++
			result.addError(id, apperr.CodeUnknownAccount, "account "+tx.AccountID+" is not linked to this connection")
			syncRecords.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "skipped")))
			continue
		}
		if err != nil {
			result.Skipped++
			result.addError(id, apperr.CodeMalformedRecord, err.Error())
			syncRecords.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "skipped")))
			w.log.Warn("skipping malformed transaction",
				zap.String("connection_id", conn.ID), zap.String("external_id", id), zap.Error(err))
			continue
		}
		params = append(params, p)
	}

	var g errgroup.Group
	g.SetLimit(UpsertConcurrency)

	for _, p := range params {
		g.Go(func() error {
			_, created, err := w.transactions.Upsert(ctx, p)
			record(func() {
				switch {
				case err != nil:
					durable = false
					result.addError(p.ExternalID, apperr.CodePersistenceFailed, err.Error())
				case created:
					result.Added++
				default:
					result.Updated++
				}
			})
			if err != nil {
				w.log.Error("failed to upsert transaction",
					zap.String("connection_id", conn.ID), zap.String("external_id", p.ExternalID), zap.Error(err))
				return nil
			}
			outcome := "updated"
			if created {
				outcome = "added"
			}
			syncRecords.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
			return nil
		})
	}

	// Workers never return errors; failures are recorded so one bad write
	// does not cancel the rest of the page.
	_ = g.Wait()

	// Deletes start once every upsert has finished.
	var rg errgroup.Group
	rg.SetLimit(UpsertConcurrency)
	for _, id := range removed {
		if id == "" {
			continue
		}
		rg.Go(func() error {
			deleted, err := w.transactions.DeleteByExternalID(ctx, conn.UserID, id)
			record(func() {
				switch {
				case err != nil:
					durable = false
					result.addError(id, apperr.CodePersistenceFailed, err.Error())
				case deleted:
					result.Removed++
				}
			})
			if err == nil && deleted {
				syncRecords.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "removed")))
			}
			return nil
		})
	}

	_ = rg.Wait()
	return durable
}

// removeAll deletes the given external ids for a connection's user. Missing
// rows are not an error.
func (w *recordWriter) removeAll(ctx context.Context, conn *connection.Connection, ids []string) (*TransactionSyncResult, error) {
	result := newTransactionSyncResult(conn.ID)
	if !w.apply(ctx, conn, nil, nil, ids, result) {
		return result, apperr.Wrap(apperr.CodePersistenceFailed, errors.New(result.Errors[0].Message), "failed to remove transactions")
	}
	return result, nil
}
