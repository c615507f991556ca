package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	httphandlers "koffers/internal/interfaces/http"
	"koffers/internal/shared/auth"
	"koffers/internal/shared/config"
)

// testRouter builds the router with handlers whose collaborators are never
// reached by the requests below: each one stops at auth, signature or
// query validation.
func testRouter(t *testing.T) (http.Handler, *auth.JWT) {
	t.Helper()
	jwt := auth.NewJWT("route-test-secret")
	deps := &Dependencies{
		WebhookHandler:      httphandlers.NewWebhookHandler(nil, "webhook-secret", nil),
		ConnectionHandler:   httphandlers.NewConnectionHandler(nil, nil, nil),
		AccountHandler:      httphandlers.NewAccountHandler(nil, nil),
		TransactionHandler:  httphandlers.NewTransactionHandler(nil, 3, nil),
		ReceiptHandler:      httphandlers.NewReceiptHandler(nil, nil, nil),
		NotificationHandler: httphandlers.NewNotificationHandler(nil, nil),
		JWT:                 jwt,
	}
	cfg := &config.Config{}
	return SetupRoutes(deps, cfg, zap.NewNop()), jwt
}

func TestRoutes_APIRequiresAuth(t *testing.T) {
	router, _ := testRouter(t)

	for _, target := range []string{"/api/connections", "/api/accounts", "/api/receipts", "/api/notifications"} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, target)
	}
}

func TestRoutes_AuthenticatedRequestReachesHandler(t *testing.T) {
	router, jwt := testRouter(t)
	token, err := jwt.Generate("user-1", "user@example.com")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/transactions/match?amount=abc", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "amount")
}

func TestRoutes_WebhookIsPublicButSigned(t *testing.T) {
	router, _ := testRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/provider", strings.NewReader(`{"webhook_type":"TRANSACTIONS"}`))
	req.Header.Set("Origin", "https://evil.example")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	// Reaches the handler (no CORS rejection, no JWT) and fails the signature check.
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRoutes_UnknownRoute(t *testing.T) {
	router, _ := testRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRoutes_WrongMethod(t *testing.T) {
	router, _ := testRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/webhooks/provider", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
