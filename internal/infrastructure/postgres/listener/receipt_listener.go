// Package listener turns PostgreSQL NOTIFY events into work for the
// receipt pipeline.
package listener

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"koffers/internal/shared/logger"
)

const (
	ChannelReceiptUploaded = "receipt_uploaded"
	reconnectInterval      = 5 * time.Second
	pingInterval           = 90 * time.Second
)

var errMissingReceiptID = errors.New("receipt_id is missing")

// ReceiptUploaded is the payload published by the receipt_files insert trigger.
type ReceiptUploaded struct {
	ReceiptID string `json:"receipt_id"`
	UserID    string `json:"user_id"`
}

// Handler receives each upload event. It must not block for long; the
// scheduler's Submit is the intended target.
type Handler func(ctx context.Context, ev ReceiptUploaded)

// ReceiptListener listens on the receipt_uploaded channel and reconnects
// when the dedicated connection drops.
type ReceiptListener struct {
	connStr    string
	handle     Handler
	log        *zap.Logger
	shutdownCh chan struct{}
	done       chan struct{}
}

func NewReceiptListener(connStr string, handle Handler, log *zap.Logger) *ReceiptListener {
	return &ReceiptListener{
		connStr:    connStr,
		handle:     handle,
		log:        logger.OrNop(log).Named("receipt_listener"),
		shutdownCh: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start begins listening in a background goroutine.
func (l *ReceiptListener) Start(ctx context.Context) {
	go l.listen(ctx)
	l.log.Info("receipt upload listener started")
}

// Stop shuts the listener down and waits for it to exit.
func (l *ReceiptListener) Stop() {
	close(l.shutdownCh)
	<-l.done
	l.log.Info("receipt upload listener stopped")
}

func (l *ReceiptListener) listen(ctx context.Context) {
	defer close(l.done)

	for {
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		default:
			l.connectAndListen(ctx)
		}

		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(reconnectInterval):
			l.log.Info("reconnecting to PostgreSQL for notifications")
		}
	}
}

func (l *ReceiptListener) connectAndListen(ctx context.Context) {
	pl := pq.NewListener(l.connStr, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			l.log.Info("connected to notification channel")
		case pq.ListenerEventDisconnected:
			l.log.Warn("disconnected from notification channel", zap.Error(err))
		case pq.ListenerEventReconnected:
			l.log.Info("reconnected to notification channel")
		case pq.ListenerEventConnectionAttemptFailed:
			l.log.Warn("notification connection attempt failed", zap.Error(err))
		}
	})
	defer pl.Close()

	if err := pl.Listen(ChannelReceiptUploaded); err != nil {
		l.log.Error("failed to listen", zap.String("channel", ChannelReceiptUploaded), zap.Error(err))
		return
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		case n := <-pl.Notify:
			if n == nil {
				// Connection lost; reconnect.
				return
			}
			l.dispatch(ctx, n.Extra)
		case <-ticker.C:
			go func() {
				if err := pl.Ping(); err != nil {
					l.log.Warn("listener ping failed", zap.Error(err))
				}
			}()
		}
	}
}

func (l *ReceiptListener) dispatch(ctx context.Context, payload string) {
	ev, err := ParseReceiptUploaded(payload)
	if err != nil {
		l.log.Warn("ignoring malformed notification", zap.String("payload", payload), zap.Error(err))
		return
	}
	l.log.Debug("receipt uploaded", zap.String("receipt_id", ev.ReceiptID), zap.String("user_id", ev.UserID))
	l.handle(ctx, ev)
}

// ParseReceiptUploaded decodes a NOTIFY payload.
func ParseReceiptUploaded(payload string) (ReceiptUploaded, error) {
	var ev ReceiptUploaded
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return ev, err
	}
	if ev.ReceiptID == "" {
		return ev, errMissingReceiptID
	}
	return ev, nil
}
