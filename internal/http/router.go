package http

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/libraryid/server/internal/http/handlers"
	"github.com/libraryid/server/internal/middleware"
)

// Handlers are the endpoint handlers mounted by NewRouter.
type Handlers struct {
	Health  *handlers.HealthHandler
	Chat    *handlers.ChatHandler
	Payment *handlers.PaymentHandler
	Card    *handlers.CardHandler
}

// ChatOptions configure the inbound chat endpoint.
type ChatOptions struct {
	Limiter *middleware.RateLimiter
	// SignatureToken enables messaging signature checks when non-empty.
	SignatureToken string
	PublicBaseURL  string
	Logger         *slog.Logger
}

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(h Handlers, chat ChatOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	r.Get("/health", h.Health.ServeHTTP)

	r.Group(func(r chi.Router) {
		if chat.SignatureToken != "" {
			r.Use(middleware.MessagingSignature(chat.SignatureToken, chat.PublicBaseURL, chat.Logger))
		}
		if chat.Limiter != nil {
			r.Use(middleware.RateLimitMiddleware(chat.Limiter, middleware.GetSenderKey))
		}
		r.Post("/webhook", h.Chat.HandleMessage)
	})

	r.Post("/razorpay_webhook", h.Payment.HandleWebhook)
	r.Get("/cards/{token}", h.Card.HandleGet)

	return r
}
