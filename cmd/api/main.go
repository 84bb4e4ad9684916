package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/libraryid/server/internal/config"
	"github.com/libraryid/server/internal/conversation"
	"github.com/libraryid/server/internal/credential"
	"github.com/libraryid/server/internal/db"
	httphandler "github.com/libraryid/server/internal/http"
	"github.com/libraryid/server/internal/http/handlers"
	"github.com/libraryid/server/internal/identity"
	"github.com/libraryid/server/internal/logging"
	"github.com/libraryid/server/internal/media"
	"github.com/libraryid/server/internal/middleware"
	"github.com/libraryid/server/internal/payment"
	"github.com/libraryid/server/internal/razorpay"
	"github.com/libraryid/server/internal/repo"
	"github.com/libraryid/server/internal/storage"
	"github.com/libraryid/server/internal/twilio"
)

func main() {
	// Load .env from CWD or server/ (env vars override)
	_ = godotenv.Load(".env")
	_ = godotenv.Load("server/.env")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := logging.New(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		sessions repo.SessionRepo
		pinger   handlers.Pinger
	)
	if cfg.DatabaseURL != "" {
		database, err := db.Open(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			fatal(logger, "failed to open database", err)
		}
		defer database.Close()

		if err := db.Migrate(database, logger); err != nil {
			fatal(logger, "failed to run migrations", err)
		}
		sessions = repo.NewSessionRepo(database)
		pinger = database
	} else {
		logger.Warn("DATABASE_URL not set, sessions are kept in memory")
		sessions = repo.NewMemorySessionRepo()
	}

	store, err := storage.NewDisk(cfg.StorageDir)
	if err != nil {
		fatal(logger, "failed to prepare storage", err)
	}

	messenger := twilio.New(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.From)
	payments := razorpay.New(cfg.Razorpay.KeyID, cfg.Razorpay.Secret, cfg.Currency, cfg.OrgName+" Membership")
	normalizer := identity.NewNormalizer(cfg.CountryCode)
	photoPolicy := conversation.PhotoPolicy(cfg.PhotoPolicy)

	chat := conversation.NewService(conversation.Dependencies{
		Sessions:  sessions,
		Messenger: messenger,
		Payments:  payments,
		Photos:    media.NewCapturer(messenger, store),
		Logger:    logger,
	}, conversation.Settings{
		Identity: normalizer,
		Rules:    conversation.Rules{Plans: cfg.Plans, Photo: photoPolicy},
		Prompts: conversation.Prompter{
			Org:      cfg.OrgName,
			Currency: cfg.Currency,
			Plans:    cfg.Plans,
			Photo:    photoPolicy,
		},
	})

	signer := credential.NewLinkSigner(cfg.Cards.SigningSecret, cfg.Cards.LinkTTL)
	issuer := credential.NewIssuer(store, signer, credential.IssuerConfig{
		BaseURL:  cfg.PublicBaseURL,
		Org:      cfg.OrgName,
		Currency: cfg.Currency,
	})
	correlator := payment.NewCorrelator(sessions, issuer, messenger, normalizer, cfg.OrgName, logger)

	var limiter *middleware.RateLimiter
	if cfg.ChatRateLimit > 0 && cfg.ChatRateWindow > 0 {
		limiter = middleware.NewRateLimiter(cfg.ChatRateWindow, cfg.ChatRateLimit)
		go limiter.Run(ctx, 10*cfg.ChatRateWindow)
	}

	if cfg.SessionRetention > 0 {
		go runJanitor(ctx, sessions, cfg.SessionRetention, logger)
	}

	chatOpts := httphandler.ChatOptions{
		Limiter:       limiter,
		PublicBaseURL: cfg.PublicBaseURL,
		Logger:        logger,
	}
	if cfg.Twilio.ValidateSignature {
		chatOpts.SignatureToken = cfg.Twilio.AuthToken
	}
	router := httphandler.NewRouter(httphandler.Handlers{
		Health:  handlers.NewHealthHandler(pinger),
		Chat:    handlers.NewChatHandler(chat, logger),
		Payment: handlers.NewPaymentHandler(cfg.Razorpay.WebhookSecret, correlator, logger),
		Card:    handlers.NewCardHandler(signer, store, logger),
	}, chatOpts)

	// Chat turns call out to the messaging, payment and storage providers, so
	// the write timeout leaves room for their retries.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port, "photo_policy", cfg.PhotoPolicy, "plans", cfg.Plans.Keys())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(logger, "server failed to start", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	logger.Info("server exited")
}

// runJanitor evicts sessions idle for longer than retention.
func runJanitor(ctx context.Context, sessions repo.SessionRepo, retention time.Duration, logger *slog.Logger) {
	interval := retention / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sessions.DeleteIdleBefore(ctx, time.Now().Add(-retention))
			if err != nil {
				logger.Error("session eviction failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("evicted idle sessions", "count", n)
			}
		}
	}
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
