package http

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"koffers/internal/domain/notification"
	"koffers/internal/shared/logger"
)

type NotificationHandler struct {
	notificationService *notification.Service
	log                 *zap.Logger
}

func NewNotificationHandler(notificationService *notification.Service, log *zap.Logger) *NotificationHandler {
	return &NotificationHandler{notificationService: notificationService, log: logger.OrNop(log)}
}

// --- Request/Response types ---

type RegisterDeviceRequest struct {
	Token      string `json:"token"`
	DeviceType string `json:"deviceType"`
}

type NotificationListResponse struct {
	Notifications []*notification.Notification `json:"notifications"`
	Pagination    PaginationResponse           `json:"pagination"`
}

type PaginationResponse struct {
	Page    int `json:"page"`
	PerPage int `json:"perPage"`
	Total   int `json:"total"`
	Pages   int `json:"pages"`
}

// --- Handlers ---

// HandleList handles GET /api/notifications
func (h *NotificationHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	items, total, err := h.notificationService.ListNotifications(r.Context(), userID, page, perPage)
	if err != nil {
		writeDomainError(w, h.log.With(zap.String("user_id", userID)), err, "failed to list notifications")
		return
	}
	if items == nil {
		items = []*notification.Notification{}
	}

	pages := 0
	if total > 0 {
		pages = (total + perPage - 1) / perPage
	}
	writeJSON(w, http.StatusOK, NotificationListResponse{
		Notifications: items,
		Pagination:    PaginationResponse{Page: page, PerPage: perPage, Total: total, Pages: pages},
	})
}

// HandleOpen handles PUT /api/notifications/{id}/open
func (h *NotificationHandler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := h.notificationService.MarkNotificationOpened(r.Context(), chi.URLParam(r, "id"), userID); err != nil {
		writeDomainError(w, h.log, err, "failed to mark notification as opened")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetPreferences handles GET /api/notifications/preferences
func (h *NotificationHandler) HandleGetPreferences(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	prefs, err := h.notificationService.GetPreferences(r.Context(), userID)
	if err != nil {
		writeDomainError(w, h.log, err, "failed to get preferences")
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

// HandleUpdatePreferences handles PUT /api/notifications/preferences.
// Omitted fields keep their current value.
func (h *NotificationHandler) HandleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req notification.UpdatePreferenceParams
	if !decodeJSON(w, r, &req) {
		return
	}
	prefs, err := h.notificationService.UpdatePreferences(r.Context(), userID, req)
	if err != nil {
		writeDomainError(w, h.log, err, "failed to update preferences")
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

// HandleRegisterDevice handles POST /api/devices
func (h *NotificationHandler) HandleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req RegisterDeviceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	token, err := h.notificationService.RegisterDevice(r.Context(), notification.CreateDeviceTokenParams{
		UserID:     userID,
		Token:      req.Token,
		DeviceType: req.DeviceType,
	})
	if err != nil {
		writeDomainError(w, h.log, err, "failed to register device")
		return
	}
	writeJSON(w, http.StatusCreated, token)
}

// HandleDeleteDevice handles DELETE /api/devices/{token}
func (h *NotificationHandler) HandleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	if err := h.notificationService.DeactivateToken(r.Context(), chi.URLParam(r, "token")); err != nil {
		writeDomainError(w, h.log, err, "failed to remove device")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
