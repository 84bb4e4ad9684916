package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/libraryid/server/internal/credential"
	"github.com/libraryid/server/internal/storage"
)

// LinkVerifier checks a signed card link.
type LinkVerifier interface {
	Verify(token string) (*credential.LinkClaims, error)
}

// ObjectReader loads stored objects.
type ObjectReader interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// CardHandler serves rendered membership cards behind signed links.
type CardHandler struct {
	links  LinkVerifier
	store  ObjectReader
	logger *slog.Logger
}

// NewCardHandler creates a new card handler
func NewCardHandler(links LinkVerifier, store ObjectReader, logger *slog.Logger) *CardHandler {
	return &CardHandler{links: links, store: store, logger: logger}
}

// HandleGet handles GET /cards/{token}
func (h *CardHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	claims, err := h.links.Verify(chi.URLParam(r, "token"))
	if err != nil {
		respondWithError(w, http.StatusNotFound, "card not found")
		return
	}

	data, err := h.store.Get(r.Context(), claims.Key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "card not found")
			return
		}
		h.logger.Error("failed to load card", "error", err, "key", claims.Key)
		respondWithError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
