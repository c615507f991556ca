package openfinance

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"koffers/internal/domain/connection"
	"koffers/internal/shared/logger"
)

// UserSyncConcurrency bounds how many of one user's connections sync at once.
const UserSyncConcurrency = 4

// ConnectionSyncService is the entry point every sync trigger goes through
// (scheduler, manual refresh, webhook, CLI). It runs accounts before
// transactions and allows one in-flight run per connection.
type ConnectionSyncService struct {
	connections *connection.Service
	accounts    *AccountSyncService
	txs         *TransactionSyncService
	guard       *Guard
	log         *zap.Logger
}

func NewConnectionSyncService(
	connections *connection.Service,
	accounts *AccountSyncService,
	txs *TransactionSyncService,
	log *zap.Logger,
) *ConnectionSyncService {
	return &ConnectionSyncService{
		connections: connections,
		accounts:    accounts,
		txs:         txs,
		guard:       &Guard{},
		log:         logger.OrNop(log),
	}
}

// Guard exposes the per-connection guard so other triggers on the same
// connection (window syncs) can serialize with it.
func (s *ConnectionSyncService) Guard() *Guard { return s.guard }

// SyncConnection runs account then transaction sync for conn. Concurrent
// callers for the same connection share one run.
func (s *ConnectionSyncService) SyncConnection(ctx context.Context, conn *connection.Connection) (*ConnectionSyncResult, error) {
	v, shared, err := s.guard.Do(ctx, "cursor:"+conn.ID, func(ctx context.Context) (any, error) {
		return s.run(ctx, conn)
	})
	res, _ := v.(*ConnectionSyncResult)
	if res == nil {
		res = &ConnectionSyncResult{ConnectionID: conn.ID}
	}
	if shared {
		cp := *res
		cp.Shared = true
		res = &cp
	}
	return res, err
}

// SyncByID loads a connection owned by userID and syncs it.
func (s *ConnectionSyncService) SyncByID(ctx context.Context, connectionID, userID string) (*ConnectionSyncResult, error) {
	conn, err := s.connections.Get(ctx, connectionID, userID)
	if err != nil {
		return nil, err
	}
	return s.SyncConnection(ctx, conn)
}

func (s *ConnectionSyncService) run(ctx context.Context, conn *connection.Connection) (*ConnectionSyncResult, error) {
	res := &ConnectionSyncResult{ConnectionID: conn.ID}

	accts, err := s.accounts.Sync(ctx, conn)
	res.Accounts = accts
	if err != nil {
		res.Error = err.Error()
		return res, fmt.Errorf("account sync failed, skipping transaction sync: %w", err)
	}

	txs, err := s.txs.Sync(ctx, conn)
	res.Transactions = txs
	if err != nil {
		res.Error = err.Error()
		return res, fmt.Errorf("transaction sync failed: %w", err)
	}
	return res, nil
}

// SyncUser syncs every syncable connection of a user, a few at a time.
// Failures are reported per connection; the returned error is non-nil only
// when the connections could not be listed.
func (s *ConnectionSyncService) SyncUser(ctx context.Context, userID string) ([]*ConnectionSyncResult, error) {
	conns, err := s.connections.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}

	var (
		mu      sync.Mutex
		results = make([]*ConnectionSyncResult, 0, len(conns))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(UserSyncConcurrency)

	for _, conn := range conns {
		if !conn.Syncable() {
			continue
		}
		g.Go(func() error {
			res, err := s.SyncConnection(gctx, conn)
			if err != nil {
				s.log.Warn("connection sync failed",
					zap.String("user_id", userID), zap.String("connection_id", conn.ID), zap.Error(err))
				if res.Error == "" {
					res.Error = err.Error()
				}
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}
