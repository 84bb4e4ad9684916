// Package webhook verifies that inbound provider callbacks are authentic.
package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"net/url"
	"sort"
	"strings"
)

const (
	// PaymentSignatureHeader carries the hex HMAC-SHA256 of the raw payment webhook body.
	PaymentSignatureHeader = "X-Razorpay-Signature"
	// PaymentEventIDHeader identifies a payment webhook delivery; retries reuse it.
	PaymentEventIDHeader = "X-Razorpay-Event-Id"
	// MessagingSignatureHeader carries the messaging provider's request signature.
	MessagingSignatureHeader = "X-Twilio-Signature"
)

var (
	ErrMissingSignature = errors.New("missing webhook signature")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMissingSecret    = errors.New("webhook secret is empty")
)

// SignPayload returns the hex HMAC-SHA256 of body under secret.
func SignPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyPayload checks a payment provider signature over the exact raw body.
func VerifyPayload(secret, signature string, body []byte) error {
	if secret == "" {
		return ErrMissingSecret
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return ErrMissingSignature
	}
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), provided) {
		return ErrInvalidSignature
	}
	return nil
}

// SignForm computes the messaging provider signature: base64 HMAC-SHA1 over
// the full request URL followed by every form key and value, sorted by key.
func SignForm(authToken, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		for _, v := range form[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	_, _ = mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyForm checks a messaging provider signature for a form-encoded request.
func VerifyForm(authToken, signature, fullURL string, form url.Values) error {
	if authToken == "" {
		return ErrMissingSecret
	}
	if signature == "" {
		return ErrMissingSignature
	}
	expected := SignForm(authToken, fullURL, form)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}
