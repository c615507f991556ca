package openfinance

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"koffers/internal/domain/connection"
	ofclient "koffers/internal/infrastructure/openfinance"
	"koffers/internal/shared/apperr"
	"koffers/internal/shared/logger"
)

// Webhook categories and codes the dispatcher understands.
const (
	WebhookTypeTransactions = "TRANSACTIONS"
	WebhookTypeItem         = "ITEM"

	CodeInitialUpdate         = "INITIAL_UPDATE"
	CodeHistoricalUpdate      = "HISTORICAL_UPDATE"
	CodeDefaultUpdate         = "DEFAULT_UPDATE"
	CodeTransactionsRemoved   = "TRANSACTIONS_REMOVED"
	CodeSyncUpdatesAvailable  = "SYNC_UPDATES_AVAILABLE"
	CodeItemError             = "ERROR"
	CodePendingExpiration     = "PENDING_EXPIRATION"
	CodeUserPermissionRevoked = "USER_PERMISSION_REVOKED"
)

// WebhookResult reports what a notification caused.
type WebhookResult struct {
	Action       string                 `json:"action"`
	Handled      bool                   `json:"handled"`
	ConnectionID string                 `json:"connectionId,omitempty"`
	Sync         *TransactionSyncResult `json:"sync,omitempty"`
}

type webhookKey struct{ category, code string }

type webhookHandler struct {
	action string
	run    func(ctx context.Context, conn *connection.Connection, p *ofclient.WebhookPayload) (*TransactionSyncResult, error)
}

// WebhookDispatcher routes provider notifications to the matching sync or
// status change.
type WebhookDispatcher struct {
	connections *connection.Service
	syncer      *ConnectionSyncService
	window      *WindowSyncService
	handlers    map[webhookKey]webhookHandler
	log         *zap.Logger
}

func NewWebhookDispatcher(
	connections *connection.Service,
	syncer *ConnectionSyncService,
	window *WindowSyncService,
	log *zap.Logger,
) *WebhookDispatcher {
	d := &WebhookDispatcher{
		connections: connections,
		syncer:      syncer,
		window:      window,
		log:         logger.OrNop(log),
	}
	d.handlers = map[webhookKey]webhookHandler{
		{WebhookTypeTransactions, CodeInitialUpdate}:        {"window_sync_historical", d.historical},
		{WebhookTypeTransactions, CodeHistoricalUpdate}:     {"window_sync_historical", d.historical},
		{WebhookTypeTransactions, CodeDefaultUpdate}:        {"window_sync_recent", d.recent},
		{WebhookTypeTransactions, CodeTransactionsRemoved}:  {"remove_transactions", d.remove},
		{WebhookTypeTransactions, CodeSyncUpdatesAvailable}: {"cursor_sync", d.cursorSync},
		{WebhookTypeItem, CodeItemError}:                    {"mark_error", d.itemError},
		{WebhookTypeItem, CodePendingExpiration}:            {"mark_reauth_required", d.pendingExpiration},
		{WebhookTypeItem, CodeUserPermissionRevoked}:        {"mark_disconnected", d.revoked},
	}
	return d
}

// Known reports whether the (category, code) pair has a handler.
func (d *WebhookDispatcher) Known(p *ofclient.WebhookPayload) bool {
	_, ok := d.handlers[keyOf(p)]
	return ok
}

// Resolve finds the connection a notification applies to. Unknown item
// ids yield a not_found error.
func (d *WebhookDispatcher) Resolve(ctx context.Context, p *ofclient.WebhookPayload) (*connection.Connection, error) {
	conn, err := d.connections.GetByItemID(ctx, p.ItemID)
	if err != nil {
		if errors.Is(err, connection.ErrConnectionNotFound) {
			return nil, apperr.Wrap(apperr.CodeNotFound, err, "no connection for item "+p.ItemID)
		}
		return nil, err
	}
	return conn, nil
}

// Dispatch handles one notification. Unknown notifications are logged and
// ignored. Nothing is mutated when the item cannot be resolved.
func (d *WebhookDispatcher) Dispatch(ctx context.Context, p *ofclient.WebhookPayload) (*WebhookResult, error) {
	log := d.log.With(
		zap.String("webhook_type", p.WebhookType),
		zap.String("webhook_code", p.WebhookCode),
		zap.String("item_id", p.ItemID),
	)

	h, ok := d.handlers[keyOf(p)]
	if !ok {
		log.Info("ignoring unhandled webhook")
		return &WebhookResult{Action: "ignored"}, nil
	}

	conn, err := d.Resolve(ctx, p)
	if err != nil {
		log.Warn("webhook for unknown item", zap.Error(err))
		return nil, err
	}

	res := &WebhookResult{Action: h.action, Handled: true, ConnectionID: conn.ID}
	sync, err := h.run(ctx, conn, p)
	res.Sync = sync
	if err != nil {
		log.Error("webhook handling failed", zap.String("connection_id", conn.ID), zap.Error(err))
		return res, err
	}
	log.Info("webhook handled", zap.String("connection_id", conn.ID), zap.String("action", h.action))
	return res, nil
}

func keyOf(p *ofclient.WebhookPayload) webhookKey {
	return webhookKey{strings.ToUpper(p.WebhookType), strings.ToUpper(p.WebhookCode)}
}

func (d *WebhookDispatcher) windowed(ctx context.Context, conn *connection.Connection, fn func(context.Context, *connection.Connection) (*TransactionSyncResult, error)) (*TransactionSyncResult, error) {
	v, _, err := d.syncer.Guard().Do(ctx, "window:"+conn.ID, func(ctx context.Context) (any, error) {
		return fn(ctx, conn)
	})
	res, _ := v.(*TransactionSyncResult)
	return res, err
}

func (d *WebhookDispatcher) historical(ctx context.Context, conn *connection.Connection, _ *ofclient.WebhookPayload) (*TransactionSyncResult, error) {
	return d.windowed(ctx, conn, d.window.SyncHistorical)
}

func (d *WebhookDispatcher) recent(ctx context.Context, conn *connection.Connection, _ *ofclient.WebhookPayload) (*TransactionSyncResult, error) {
	return d.windowed(ctx, conn, d.window.SyncRecent)
}

func (d *WebhookDispatcher) remove(ctx context.Context, conn *connection.Connection, p *ofclient.WebhookPayload) (*TransactionSyncResult, error) {
	return d.window.writer.removeAll(ctx, conn, p.RemovedTransactions)
}

func (d *WebhookDispatcher) cursorSync(ctx context.Context, conn *connection.Connection, _ *ofclient.WebhookPayload) (*TransactionSyncResult, error) {
	res, err := d.syncer.SyncConnection(ctx, conn)
	if res == nil {
		return nil, err
	}
	return res.Transactions, err
}

func (d *WebhookDispatcher) itemError(ctx context.Context, conn *connection.Connection, p *ofclient.WebhookPayload) (*TransactionSyncResult, error) {
	return nil, d.connections.MarkError(ctx, conn, reasonOf(p, "item_error"))
}

func (d *WebhookDispatcher) pendingExpiration(ctx context.Context, conn *connection.Connection, p *ofclient.WebhookPayload) (*TransactionSyncResult, error) {
	return nil, d.connections.MarkReauthRequired(ctx, conn, reasonOf(p, CodePendingExpiration))
}

func (d *WebhookDispatcher) revoked(ctx context.Context, conn *connection.Connection, p *ofclient.WebhookPayload) (*TransactionSyncResult, error) {
	return nil, d.connections.MarkDisconnected(ctx, conn, reasonOf(p, CodeUserPermissionRevoked))
}

func reasonOf(p *ofclient.WebhookPayload, fallback string) string {
	if p.Error != nil && p.Error.ErrorCode != "" {
		return p.Error.ErrorCode
	}
	return fallback
}
