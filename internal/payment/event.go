// Package payment matches payment provider confirmations to registration
// sessions and completes them.
package payment

import (
	"encoding/json"
	"errors"
	"strings"
)

// EventPaymentLinkPaid is the only event type that completes a session.
const EventPaymentLinkPaid = "payment_link.paid"

var ErrInvalidEvent = errors.New("invalid payment event")

// Event is the subset of a payment webhook delivery the service uses.
type Event struct {
	Type              string
	PaymentLinkID     string
	PaymentLinkStatus string
	PaymentID         string
	Contact           string
	CustomerName      string
}

type rawEvent struct {
	Event   string `json:"event"`
	Payload struct {
		PaymentLink struct {
			Entity struct {
				ID       string `json:"id"`
				Status   string `json:"status"`
				Customer struct {
					Contact string `json:"contact"`
					Name    string `json:"name"`
				} `json:"customer"`
			} `json:"entity"`
		} `json:"payment_link"`
		Payment struct {
			Entity struct {
				ID      string `json:"id"`
				Contact string `json:"contact"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// ParseEvent decodes a webhook body. A paid event without a contact parses;
// the correlator treats it as unmatched.
func ParseEvent(body []byte) (Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return Event{}, ErrInvalidEvent
	}
	ev := Event{
		Type:              strings.TrimSpace(raw.Event),
		PaymentLinkID:     raw.Payload.PaymentLink.Entity.ID,
		PaymentLinkStatus: raw.Payload.PaymentLink.Entity.Status,
		PaymentID:         raw.Payload.Payment.Entity.ID,
		Contact:           strings.TrimSpace(raw.Payload.PaymentLink.Entity.Customer.Contact),
		CustomerName:      raw.Payload.PaymentLink.Entity.Customer.Name,
	}
	if ev.Type == "" {
		return Event{}, ErrInvalidEvent
	}
	if ev.Contact == "" {
		ev.Contact = strings.TrimSpace(raw.Payload.Payment.Entity.Contact)
	}
	return ev, nil
}

// Paid reports whether the event confirms a completed payment link.
func (e Event) Paid() bool {
	return e.Type == EventPaymentLinkPaid
}
