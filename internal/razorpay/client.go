// Package razorpay creates payment links through the Razorpay REST API.
package razorpay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/libraryid/server/internal/model"
)

const defaultBaseURL = "https://api.razorpay.com"

// Client creates payment links.
type Client struct {
	KeyID       string
	Secret      string
	Currency    string
	Description string
	BaseURL     string
	HTTP        *http.Client
}

// New creates a client charging in currency.
func New(keyID, secret, currency, description string) *Client {
	return &Client{
		KeyID:       keyID,
		Secret:      secret,
		Currency:    currency,
		Description: description,
		BaseURL:     defaultBaseURL,
		HTTP:        &http.Client{Timeout: 10 * time.Second},
	}
}

type customer struct {
	Name    string `json:"name,omitempty"`
	Contact string `json:"contact"`
}

type notify struct {
	SMS   bool `json:"sms"`
	Email bool `json:"email"`
}

type linkRequest struct {
	Amount        int               `json:"amount"`
	Currency      string            `json:"currency"`
	AcceptPartial bool              `json:"accept_partial"`
	Description   string            `json:"description"`
	Customer      customer          `json:"customer"`
	Notify        notify            `json:"notify"`
	Notes         map[string]string `json:"notes,omitempty"`
}

type linkResponse struct {
	ID       string `json:"id"`
	ShortURL string `json:"short_url"`
	Error    *struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error,omitempty"`
}

// CreatePaymentLink requests a link for the session's amount. Amounts are sent
// in minor units.
func (c *Client) CreatePaymentLink(ctx context.Context, s model.Session) (model.PaymentLink, error) {
	if c.KeyID == "" || c.Secret == "" {
		return model.PaymentLink{}, fmt.Errorf("missing razorpay credentials")
	}
	if s.Amount <= 0 {
		return model.PaymentLink{}, fmt.Errorf("session has no amount")
	}

	body, err := json.Marshal(linkRequest{
		Amount:        s.Amount * 100,
		Currency:      c.Currency,
		AcceptPartial: false,
		Description:   c.Description,
		Customer:      customer{Name: s.Name, Contact: s.Identity},
		Notify:        notify{SMS: false, Email: false},
		Notes:         map[string]string{"session_id": s.ID.String()},
	})
	if err != nil {
		return model.PaymentLink{}, err
	}

	baseURL := strings.TrimRight(c.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/payment_links", bytes.NewReader(body))
	if err != nil {
		return model.PaymentLink{}, err
	}
	req.SetBasicAuth(c.KeyID, c.Secret)
	req.Header.Set("Content-Type", "application/json")

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	res, err := httpClient.Do(req)
	if err != nil {
		return model.PaymentLink{}, err
	}
	defer res.Body.Close()

	var out linkResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return model.PaymentLink{}, fmt.Errorf("razorpay returned %d with unreadable body: %w", res.StatusCode, err)
	}
	if res.StatusCode >= 300 {
		if out.Error != nil {
			return model.PaymentLink{}, fmt.Errorf("razorpay returned %d: %s: %s", res.StatusCode, out.Error.Code, out.Error.Description)
		}
		return model.PaymentLink{}, fmt.Errorf("razorpay returned %d", res.StatusCode)
	}
	if out.ID == "" || out.ShortURL == "" {
		return model.PaymentLink{}, fmt.Errorf("razorpay response missing link id or url")
	}
	return model.PaymentLink{ID: out.ID, URL: out.ShortURL}, nil
}
