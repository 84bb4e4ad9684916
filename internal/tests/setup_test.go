package tests

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/libraryid/server/internal/conversation"
	"github.com/libraryid/server/internal/credential"
	"github.com/libraryid/server/internal/db"
	httphandler "github.com/libraryid/server/internal/http"
	"github.com/libraryid/server/internal/http/handlers"
	"github.com/libraryid/server/internal/identity"
	"github.com/libraryid/server/internal/logging"
	"github.com/libraryid/server/internal/media"
	"github.com/libraryid/server/internal/payment"
	"github.com/libraryid/server/internal/plan"
	"github.com/libraryid/server/internal/razorpay"
	"github.com/libraryid/server/internal/repo"
	"github.com/libraryid/server/internal/storage"
	"github.com/libraryid/server/internal/twilio"
	"github.com/libraryid/server/internal/webhook"
)

const (
	testAccountSID    = "AC123"
	testAuthToken     = "twilio-token"
	testWebhookSecret = "rzp-webhook-secret"
	testPaymentLinkID = "plink_test"
	testPaymentURL    = "https://rzp.io/l/test"
)

// outbound is a message the fake messaging provider received.
type outbound struct {
	To       string
	Body     string
	MediaURL string
}

// providers fakes the messaging and payment provider APIs.
type providers struct {
	mu       sync.Mutex
	messages []outbound
	links    int
	photo    []byte
	server   *httptest.Server
}

func newProviders(t *testing.T) *providers {
	t.Helper()
	p := &providers{photo: testPhoto(t)}

	mux := http.NewServeMux()
	mux.HandleFunc("/2010-04-01/Accounts/"+testAccountSID+"/Messages.json", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		p.mu.Lock()
		p.messages = append(p.messages, outbound{
			To:       r.PostForm.Get("To"),
			Body:     r.PostForm.Get("Body"),
			MediaURL: r.PostForm.Get("MediaUrl"),
		})
		p.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM1"}`))
	})
	mux.HandleFunc("/v1/payment_links", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.links++
		p.mu.Unlock()
		_, _ = fmt.Fprintf(w, `{"id":%q,"short_url":%q}`, testPaymentLinkID, testPaymentURL)
	})
	mux.HandleFunc("/media/photo.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(p.photo)
	})

	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func (p *providers) MediaURL() string {
	return p.server.URL + "/media/photo.png"
}

func (p *providers) Messages() []outbound {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]outbound(nil), p.messages...)
}

func (p *providers) Last() outbound {
	msgs := p.Messages()
	if len(msgs) == 0 {
		return outbound{}
	}
	return msgs[len(msgs)-1]
}

func (p *providers) PaymentLinks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.links
}

func testPhoto(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 40))
	for x := 0; x < 40; x++ {
		for y := 0; y < 40; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// testServer is the application behind an httptest server.
type testServer struct {
	Server    *httptest.Server
	Sessions  repo.SessionRepo
	Providers *providers
}

func newTestServer(t *testing.T, sessions repo.SessionRepo, photo conversation.PhotoPolicy) *testServer {
	t.Helper()

	// Card links need the public URL before the router exists.
	srv := httptest.NewUnstartedServer(nil)
	baseURL := "http://" + srv.Listener.Addr().String()

	logger := logging.Discard()
	prov := newProviders(t)
	store, err := storage.NewDisk(t.TempDir())
	require.NoError(t, err)
	plans, err := plan.Parse(plan.DefaultPlans)
	require.NoError(t, err)

	messenger := twilio.New(testAccountSID, testAuthToken, "whatsapp:+14155238886")
	messenger.BaseURL = prov.server.URL
	messenger.Backoff = time.Millisecond
	payments := razorpay.New("rzp_test", "rzp_secret", "INR", "Library Membership")
	payments.BaseURL = prov.server.URL

	normalizer := identity.NewNormalizer("91")
	chat := conversation.NewService(conversation.Dependencies{
		Sessions:  sessions,
		Messenger: messenger,
		Payments:  payments,
		Photos:    media.NewCapturer(messenger, store),
		Logger:    logger,
	}, conversation.Settings{
		Identity: normalizer,
		Rules:    conversation.Rules{Plans: plans, Photo: photo},
		Prompts:  conversation.Prompter{Org: "Library", Currency: "INR", Plans: plans, Photo: photo},
	})

	signer := credential.NewLinkSigner("card-secret", time.Hour)
	issuer := credential.NewIssuer(store, signer, credential.IssuerConfig{BaseURL: baseURL, Org: "Library", Currency: "INR"})
	correlator := payment.NewCorrelator(sessions, issuer, messenger, normalizer, "Library", logger)

	srv.Config.Handler = httphandler.NewRouter(httphandler.Handlers{
		Health:  handlers.NewHealthHandler(nil),
		Chat:    handlers.NewChatHandler(chat, logger),
		Payment: handlers.NewPaymentHandler(testWebhookSecret, correlator, logger),
		Card:    handlers.NewCardHandler(signer, store, logger),
	}, httphandler.ChatOptions{
		SignatureToken: testAuthToken,
		PublicBaseURL:  baseURL,
		Logger:         logger,
	})
	srv.Start()
	t.Cleanup(srv.Close)

	return &testServer{Server: srv, Sessions: sessions, Providers: prov}
}

func (s *testServer) BaseURL() string { return s.Server.URL }

// SendChat posts a signed inbound chat message.
func (s *testServer) SendChat(t *testing.T, from, body, mediaURL string) *http.Response {
	t.Helper()
	form := url.Values{"From": {from}, "Body": {body}, "NumMedia": {"0"}}
	if mediaURL != "" {
		form.Set("NumMedia", "1")
		form.Set("MediaUrl0", mediaURL)
	}
	req, err := http.NewRequest(http.MethodPost, s.BaseURL()+"/webhook", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(webhook.MessagingSignatureHeader, webhook.SignForm(testAuthToken, s.BaseURL()+"/webhook", form))
	resp, err := s.Server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// SendPayment posts a payment webhook body signed with secret.
func (s *testServer) SendPayment(t *testing.T, body, secret string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, s.BaseURL()+"/razorpay_webhook", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhook.PaymentSignatureHeader, webhook.SignPayload(secret, []byte(body)))
	resp, err := s.Server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func paidEvent(contact string) string {
	return fmt.Sprintf(`{"event":"payment_link.paid","payload":{"payment_link":{"entity":{"id":%q,"status":"paid","customer":{"contact":%q}}},"payment":{"entity":{"id":"pay_1"}}}}`, testPaymentLinkID, contact)
}

// openTestDB connects to DATABASE_URL and migrates, or skips the test.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping Postgres test")
	}
	database, err := db.Open(context.Background(), dsn, logging.Discard())
	require.NoError(t, err, "database open must succeed; check DATABASE_URL and that test DB exists")
	t.Cleanup(func() { database.Close() })

	require.NoError(t, db.Migrate(database, logging.Discard()), "migrations must run successfully")
	TruncateSessions(t, database)
	return database
}

// TruncateSessions empties the sessions table for a clean test state.
func TruncateSessions(t *testing.T, database *sql.DB) {
	t.Helper()
	_, err := database.ExecContext(context.Background(), "TRUNCATE TABLE sessions")
	require.NoError(t, err, "truncate sessions")
}
