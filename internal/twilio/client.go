// Package twilio is a minimal client for the Twilio messaging API.
package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/libraryid/server/internal/media"
)

const (
	defaultBaseURL = "https://api.twilio.com"
	maxMediaBytes  = 5 << 20
	sendRetries    = 3
)

// ErrMediaTooLarge is returned when an attachment exceeds the download limit.
var ErrMediaTooLarge = fmt.Errorf("%w: media exceeds 5MB limit", media.ErrTooLarge)

// Client sends messages and downloads attachments.
type Client struct {
	AccountSID string
	AuthToken  string
	// From is the sender address; its channel prefix (e.g. "whatsapp:") is
	// applied to recipients.
	From    string
	BaseURL string
	HTTP    *http.Client
	// Backoff is the first retry delay for failed sends.
	Backoff time.Duration
}

// New creates a client for the given account.
func New(accountSID, authToken, from string) *Client {
	return &Client{
		AccountSID: accountSID,
		AuthToken:  authToken,
		From:       from,
		BaseURL:    defaultBaseURL,
		HTTP:       &http.Client{Timeout: 10 * time.Second},
		Backoff:    250 * time.Millisecond,
	}
}

// Address qualifies a canonical phone number for the sender's channel.
func (c *Client) Address(to string) string {
	if i := strings.Index(c.From, ":"); i >= 0 && !strings.Contains(to, ":") {
		return c.From[:i+1] + to
	}
	return to
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Send delivers body (and an optional media URL) to the canonical identity to.
// Rate limiting and server errors are retried with exponential backoff.
func (c *Client) Send(ctx context.Context, to, body, mediaURL string) error {
	if c.AccountSID == "" || c.AuthToken == "" {
		return fmt.Errorf("missing twilio credentials")
	}
	if to == "" {
		return fmt.Errorf("missing recipient")
	}

	form := url.Values{}
	form.Set("From", c.From)
	form.Set("To", c.Address(to))
	form.Set("Body", body)
	if mediaURL != "" {
		form.Set("MediaUrl", mediaURL)
	}
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.baseURL(), url.PathEscape(c.AccountSID))

	backoff := retry.WithMaxRetries(sendRetries, retry.NewExponential(c.backoff()))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return err
		}
		req.SetBasicAuth(c.AccountSID, c.AuthToken)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		res, err := c.httpClient().Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer res.Body.Close()

		if res.StatusCode < 300 {
			_, _ = io.Copy(io.Discard, res.Body)
			return nil
		}

		var apiErr apiError
		_ = json.NewDecoder(res.Body).Decode(&apiErr)
		err = fmt.Errorf("twilio returned %d: %s (code %d)", res.StatusCode, apiErr.Message, apiErr.Code)
		if res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500 {
			return retry.RetryableError(err)
		}
		return err
	})
}

// FetchMedia downloads an inbound attachment using the account credentials.
func (c *Client) FetchMedia(ctx context.Context, mediaURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid media url: %w", err)
	}
	req.SetBasicAuth(c.AccountSID, c.AuthToken)

	res, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("media download returned %d", res.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(res.Body, maxMediaBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read media: %w", err)
	}
	if len(data) > maxMediaBytes {
		return nil, ErrMediaTooLarge
	}
	return data, nil
}

func (c *Client) baseURL() string {
	if c.BaseURL == "" {
		return defaultBaseURL
	}
	return strings.TrimRight(c.BaseURL, "/")
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP == nil {
		return &http.Client{Timeout: 10 * time.Second}
	}
	return c.HTTP
}

func (c *Client) backoff() time.Duration {
	if c.Backoff <= 0 {
		return 250 * time.Millisecond
	}
	return c.Backoff
}
