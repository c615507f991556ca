package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	httphandlers "koffers/internal/interfaces/http"
	"koffers/internal/shared/config"
	"koffers/internal/shared/middleware"
)

// maxRequestBody caps request bodies, webhooks included.
const maxRequestBody = 1 << 20

// SetupRoutes configures all HTTP routes and returns the final handler with middleware.
func SetupRoutes(deps *Dependencies, cfg *config.Config, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Tracing)
	r.Use(middleware.Logging(log))
	r.Use(middleware.CORS(cfg.Server.AllowedHosts))
	r.Use(middleware.MaxBodySize(maxRequestBody))
	if cfg.TLS.Enabled {
		r.Use(middleware.SecurityHeaders)
		log.Info("TLS security headers enabled")
	}

	// Public routes
	r.Get("/health", httphandlers.HandleHealth(deps.DB))
	r.Post("/webhooks/provider", deps.WebhookHandler.HandleProviderWebhook)

	// Protected routes
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(deps.JWT))

		r.Get("/connections", deps.ConnectionHandler.HandleList)
		r.Get("/connections/{id}", deps.ConnectionHandler.HandleGet)
		r.Post("/connections/{id}/sync", deps.ConnectionHandler.HandleSync)
		r.Post("/sync", deps.ConnectionHandler.HandleSyncAll)

		r.Get("/accounts", deps.AccountHandler.HandleListAccounts)
		r.Get("/accounts/{id}", deps.AccountHandler.HandleGetAccount)

		r.Get("/transactions/match", deps.TransactionHandler.HandleMatch)

		r.Route("/receipts", func(r chi.Router) {
			r.Get("/", deps.ReceiptHandler.HandleList)
			r.Post("/", deps.ReceiptHandler.HandleRegister)
			r.Get("/{id}", deps.ReceiptHandler.HandleGet)
			r.Post("/{id}/process", deps.ReceiptHandler.HandleProcess)
			r.Post("/{id}/retry", deps.ReceiptHandler.HandleRetry)
			r.Post("/{id}/match", deps.ReceiptHandler.HandleMatch)
			r.Put("/{id}/link", deps.ReceiptHandler.HandleLink)
		})

		r.Get("/notifications", deps.NotificationHandler.HandleList)
		r.Put("/notifications/{id}/open", deps.NotificationHandler.HandleOpen)
		r.Get("/notifications/preferences", deps.NotificationHandler.HandleGetPreferences)
		r.Put("/notifications/preferences", deps.NotificationHandler.HandleUpdatePreferences)

		r.Post("/devices", deps.NotificationHandler.HandleRegisterDevice)
		r.Delete("/devices/{token}", deps.NotificationHandler.HandleDeleteDevice)
	})

	return r
}
