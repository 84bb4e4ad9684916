package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/libraryid/server/internal/payment"
	"github.com/libraryid/server/internal/webhook"
)

const maxPaymentBody = 1 << 20

// Correlator completes the session a paid event belongs to.
type Correlator interface {
	Handle(ctx context.Context, ev payment.Event) (payment.Outcome, error)
}

// PaymentHandler receives payment provider webhooks.
type PaymentHandler struct {
	secret     string
	correlator Correlator
	logger     *slog.Logger
}

// NewPaymentHandler creates a new payment webhook handler
func NewPaymentHandler(webhookSecret string, correlator Correlator, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{secret: webhookSecret, correlator: correlator, logger: logger}
}

// HandleWebhook handles POST /razorpay_webhook. The signature is checked over
// the exact raw body before anything is parsed.
func (h *PaymentHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPaymentBody))
	if err != nil {
		respondStatus(w, http.StatusBadRequest, "invalid payload")
		return
	}

	if err := webhook.VerifyPayload(h.secret, r.Header.Get(webhook.PaymentSignatureHeader), body); err != nil {
		if errors.Is(err, webhook.ErrMissingSecret) {
			h.logger.Error("payment webhook secret is not configured")
			respondStatus(w, http.StatusInternalServerError, "error")
			return
		}
		h.logger.Warn("rejected payment webhook", "error", err, "remote", r.RemoteAddr)
		respondStatus(w, http.StatusForbidden, "invalid signature")
		return
	}

	ev, err := payment.ParseEvent(body)
	if err != nil {
		h.logger.Warn("unreadable payment webhook", "error", err)
		respondStatus(w, http.StatusBadRequest, "invalid payload")
		return
	}

	eventID := r.Header.Get(webhook.PaymentEventIDHeader)
	if !ev.Paid() {
		h.logger.Debug("payment event ignored", "event", ev.Type, "event_id", eventID)
		respondStatus(w, http.StatusOK, "ok")
		return
	}

	outcome, err := h.correlator.Handle(r.Context(), ev)
	if err != nil {
		h.logger.Error("payment correlation failed", "error", err, "event_id", eventID, "payment_link_id", ev.PaymentLinkID)
		respondStatus(w, http.StatusInternalServerError, "error")
		return
	}
	h.logger.Info("payment event handled", "outcome", outcome, "event_id", eventID, "payment_link_id", ev.PaymentLinkID)
	respondStatus(w, http.StatusOK, "ok")
}
