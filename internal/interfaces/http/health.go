package http

import (
	"context"
	"net/http"
	"time"

	"koffers/internal/shared/apperr"
)

type Pinger interface {
	PingContext(ctx context.Context) error
}

// HandleHealth reports whether the database answers within two seconds.
func HandleHealth(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, apperr.CodeInternal, "database unavailable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
