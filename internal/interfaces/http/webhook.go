package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"koffers/internal/domain/connection"
	"koffers/internal/domain/openfinance"
	ofclient "koffers/internal/infrastructure/openfinance"
	"koffers/internal/shared/apperr"
	"koffers/internal/shared/logger"
)

// WebhookDispatcher is the part of openfinance.WebhookDispatcher the
// handler needs.
type WebhookDispatcher interface {
	Known(p *ofclient.WebhookPayload) bool
	Resolve(ctx context.Context, p *ofclient.WebhookPayload) (*connection.Connection, error)
	Dispatch(ctx context.Context, p *ofclient.WebhookPayload) (*openfinance.WebhookResult, error)
}

type WebhookHandler struct {
	dispatcher WebhookDispatcher
	secret     string
	log        *zap.Logger
}

// NewWebhookHandler creates the provider webhook endpoint. An empty secret
// disables signature verification.
func NewWebhookHandler(dispatcher WebhookDispatcher, secret string, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{dispatcher: dispatcher, secret: secret, log: logger.OrNop(log).Named("webhook")}
}

// HandleProviderWebhook handles POST /webhooks/provider. The item is
// resolved before anything runs so unknown items get 404 with no side
// effects; the handler then runs synchronously and returns its result.
func (h *WebhookHandler) HandleProviderWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, apperr.CodeInvalidInput, "failed to read body")
		return
	}

	if err := ofclient.VerifySignature(h.secret, body, r.Header.Get(ofclient.SignatureHeader)); err != nil {
		h.log.Warn("rejected webhook", zap.Error(err), zap.String("remote_addr", r.RemoteAddr))
		writeError(w, http.StatusUnauthorized, apperr.CodeUnauthorized, err.Error())
		return
	}

	payload, err := ofclient.ParseWebhook(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, apperr.CodeInvalidInput, err.Error())
		return
	}

	if !h.dispatcher.Known(payload) {
		h.log.Info("ignoring unhandled webhook",
			zap.String("webhook_type", payload.WebhookType), zap.String("webhook_code", payload.WebhookCode))
		writeJSON(w, http.StatusOK, &openfinance.WebhookResult{Action: "ignored"})
		return
	}

	if _, err := h.dispatcher.Resolve(r.Context(), payload); err != nil {
		writeDomainError(w, h.log, err, "failed to resolve webhook item")
		return
	}

	// Credential failures are already recorded on the connection and are
	// acknowledged. Anything else gets a non-2xx so the provider redelivers.
	result, err := h.dispatcher.Dispatch(r.Context(), payload)
	if err != nil {
		var coded *apperr.Error
		if errors.As(err, &coded) && (coded.Code == apperr.CodeReauthRequired || coded.Code == apperr.CodeConnectionDisconnected) {
			writeJSON(w, http.StatusOK, result)
			return
		}
		writeDomainError(w, h.log, err, "webhook handling failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
