package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const paidBody = `{
  "event": "payment_link.paid",
  "payload": {
    "payment_link": {"entity": {"id": "plink_1", "status": "paid", "customer": {"contact": "+919876543210", "name": "Jane Doe"}}},
    "payment": {"entity": {"id": "pay_1", "contact": "+919876543210"}}
  }
}`

func TestParseEvent(t *testing.T) {
	ev, err := ParseEvent([]byte(paidBody))
	require.NoError(t, err)
	assert.True(t, ev.Paid())
	assert.Equal(t, "plink_1", ev.PaymentLinkID)
	assert.Equal(t, "paid", ev.PaymentLinkStatus)
	assert.Equal(t, "pay_1", ev.PaymentID)
	assert.Equal(t, "+919876543210", ev.Contact)
	assert.Equal(t, "Jane Doe", ev.CustomerName)
}

func TestParseEvent_otherTypes(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"event":"payment.captured","payload":{}}`))
	require.NoError(t, err)
	assert.False(t, ev.Paid())
}

func TestParseEvent_fallsBackToPaymentContact(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"event":"payment_link.paid","payload":{"payment":{"entity":{"id":"pay_2","contact":"9876543210"}}}}`))
	require.NoError(t, err)
	assert.Equal(t, "9876543210", ev.Contact)
}

func TestParseEvent_paidWithoutContact(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"event":"payment_link.paid","payload":{"payment_link":{"entity":{"id":"plink_1"}}}}`))
	require.NoError(t, err)
	assert.True(t, ev.Paid())
	assert.Empty(t, ev.Contact)
}

func TestParseEvent_invalid(t *testing.T) {
	for name, body := range map[string]string{
		"not json":        `{`,
		"missing event":   `{"payload":{}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseEvent([]byte(body))
			assert.ErrorIs(t, err, ErrInvalidEvent)
		})
	}
}
