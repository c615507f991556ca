package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"koffers/internal/domain/connection"
	"koffers/internal/domain/openfinance"
	"koffers/internal/shared/logger"
)

type ConnectionService interface {
	Get(ctx context.Context, id, userID string) (*connection.Connection, error)
	ListByUserID(ctx context.Context, userID string) ([]*connection.Connection, error)
}

// ConnectionSyncer runs syncs through the per-connection guard.
type ConnectionSyncer interface {
	SyncByID(ctx context.Context, connectionID, userID string) (*openfinance.ConnectionSyncResult, error)
	SyncUser(ctx context.Context, userID string) ([]*openfinance.ConnectionSyncResult, error)
}

type ConnectionHandler struct {
	connections ConnectionService
	syncer      ConnectionSyncer
	log         *zap.Logger
}

func NewConnectionHandler(connections ConnectionService, syncer ConnectionSyncer, log *zap.Logger) *ConnectionHandler {
	return &ConnectionHandler{connections: connections, syncer: syncer, log: logger.OrNop(log)}
}

// HandleList handles GET /api/connections
func (h *ConnectionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	conns, err := h.connections.ListByUserID(r.Context(), userID)
	if err != nil {
		writeDomainError(w, h.log, err, "failed to list connections")
		return
	}
	if conns == nil {
		conns = []*connection.Connection{}
	}
	writeJSON(w, http.StatusOK, conns)
}

// HandleGet handles GET /api/connections/{id}
func (h *ConnectionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	conn, err := h.connections.Get(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeDomainError(w, h.log, err, "failed to get connection")
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

// HandleSync handles POST /api/connections/{id}/sync, a manual refresh.
// A refresh that joins a run already in flight reports shared=true.
func (h *ConnectionHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	connectionID := chi.URLParam(r, "id")

	res, err := h.syncer.SyncByID(r.Context(), connectionID, userID)
	if err != nil {
		h.log.Warn("manual sync failed",
			zap.String("connection_id", connectionID), zap.String("user_id", userID), zap.Error(err))
		writeDomainError(w, h.log, err, "sync failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleSyncAll handles POST /api/sync. Per-connection failures are in the
// results; the request itself only fails when listing fails.
func (h *ConnectionHandler) HandleSyncAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	results, err := h.syncer.SyncUser(r.Context(), userID)
	if err != nil {
		writeDomainError(w, h.log, err, "sync failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}
