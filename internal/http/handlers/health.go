package handlers

import (
	"context"
	"net/http"
	"time"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler answers liveness probes.
type HealthHandler struct {
	db Pinger
}

// NewHealthHandler creates a health handler. db may be nil when sessions are kept in memory.
func NewHealthHandler(db Pinger) *HealthHandler {
	return &HealthHandler{db: db}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]bool{"ok": false})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
