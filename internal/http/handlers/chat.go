package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/libraryid/server/internal/conversation"
)

// Conversation runs one chat turn.
type Conversation interface {
	HandleMessage(ctx context.Context, msg conversation.Message) error
}

// ChatHandler receives inbound chat messages from the messaging provider.
type ChatHandler struct {
	conversation Conversation
	logger       *slog.Logger
}

// NewChatHandler creates a new chat handler
func NewChatHandler(c Conversation, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{conversation: c, logger: logger}
}

// HandleMessage handles POST /webhook
func (h *ChatHandler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondPlain(w, http.StatusBadRequest, "Bad Request")
		return
	}

	msg := conversation.Message{
		From: strings.TrimSpace(r.PostFormValue("From")),
		Body: r.PostFormValue("Body"),
	}
	if r.PostFormValue("NumMedia") != "0" {
		msg.MediaURL = strings.TrimSpace(r.PostFormValue("MediaUrl0"))
	}

	if err := h.conversation.HandleMessage(r.Context(), msg); err != nil {
		if errors.Is(err, conversation.ErrInvalidSender) {
			h.logger.Warn("chat message from invalid sender", "error", err)
			respondPlain(w, http.StatusBadRequest, "Bad Request")
			return
		}
		h.logger.Error("chat turn failed", "error", err)
		respondPlain(w, http.StatusInternalServerError, "Error")
		return
	}
	respondPlain(w, http.StatusOK, "OK")
}
