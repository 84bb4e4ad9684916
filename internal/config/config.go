package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/libraryid/server/internal/plan"
)

// Photo capture policies
const (
	PhotoRequired = "required"
	PhotoOptional = "optional"
	PhotoDisabled = "disabled"
)

// Config holds the application configuration
type Config struct {
	Port          string
	DatabaseURL   string
	PublicBaseURL string
	OrgName       string
	CountryCode   string
	Currency      string
	PhotoPolicy   string
	Plans         *plan.Table

	Logging  LoggingConfig
	Twilio   TwilioConfig
	Razorpay RazorpayConfig
	Cards    CardConfig

	StorageDir       string
	SessionRetention time.Duration
	ChatRateLimit    int
	ChatRateWindow   time.Duration
}

// LoggingConfig controls structured logging settings.
type LoggingConfig struct {
	Level  string
	Format string // text|json
}

// TwilioConfig holds messaging-provider credentials.
type TwilioConfig struct {
	AccountSID        string
	AuthToken         string
	From              string
	ValidateSignature bool
}

// RazorpayConfig holds payment-provider credentials.
type RazorpayConfig struct {
	KeyID         string
	Secret        string
	WebhookSecret string
}

// CardConfig controls credential delivery links.
type CardConfig struct {
	SigningSecret string
	LinkTTL       time.Duration
}

const (
	defaultPort        = "8080"
	defaultOrgName     = "Library"
	defaultCountryCode = "91"
	defaultCurrency    = "INR"
	defaultTwilioFrom  = "whatsapp:+14155238886"
	defaultStorageDir  = "static"
	defaultCardLinkTTL = 7 * 24 * time.Hour
	defaultChatLimit   = 30
	defaultChatWindow  = time.Minute
)

// Load reads configuration from environment variables. All missing or invalid
// variables are reported together.
func Load() (*Config, error) {
	cfg := &Config{
		Port:          valueOrDefault("PORT", defaultPort),
		DatabaseURL:   strings.TrimSpace(os.Getenv("DATABASE_URL")),
		PublicBaseURL: strings.TrimRight(strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL")), "/"),
		OrgName:       valueOrDefault("ORG_NAME", defaultOrgName),
		CountryCode:   valueOrDefault("DEFAULT_COUNTRY_CODE", defaultCountryCode),
		Currency:      strings.ToUpper(valueOrDefault("CURRENCY", defaultCurrency)),
		PhotoPolicy:   strings.ToLower(valueOrDefault("PHOTO_POLICY", PhotoRequired)),
		StorageDir:    valueOrDefault("STORAGE_DIR", defaultStorageDir),
		Logging: LoggingConfig{
			Level:  valueOrDefault("LOG_LEVEL", "info"),
			Format: valueOrDefault("LOG_FORMAT", "text"),
		},
		Twilio: TwilioConfig{
			AccountSID:        os.Getenv("TWILIO_ACCOUNT_SID"),
			AuthToken:         os.Getenv("TWILIO_AUTH_TOKEN"),
			From:              valueOrDefault("TWILIO_FROM", defaultTwilioFrom),
			ValidateSignature: os.Getenv("TWILIO_VALIDATE_SIGNATURE") == "true",
		},
		Razorpay: RazorpayConfig{
			KeyID:         os.Getenv("RAZORPAY_KEY_ID"),
			Secret:        os.Getenv("RAZORPAY_SECRET"),
			WebhookSecret: os.Getenv("RAZORPAY_WEBHOOK_SECRET"),
		},
		Cards: CardConfig{
			SigningSecret: os.Getenv("CARD_SIGNING_SECRET"),
		},
	}

	var errs error
	for _, req := range []struct{ key, value string }{
		{"PUBLIC_BASE_URL", cfg.PublicBaseURL},
		{"TWILIO_ACCOUNT_SID", cfg.Twilio.AccountSID},
		{"TWILIO_AUTH_TOKEN", cfg.Twilio.AuthToken},
		{"RAZORPAY_KEY_ID", cfg.Razorpay.KeyID},
		{"RAZORPAY_SECRET", cfg.Razorpay.Secret},
		{"RAZORPAY_WEBHOOK_SECRET", cfg.Razorpay.WebhookSecret},
		{"CARD_SIGNING_SECRET", cfg.Cards.SigningSecret},
	} {
		if strings.TrimSpace(req.value) == "" {
			errs = multierr.Append(errs, fmt.Errorf("%s environment variable is required", req.key))
		}
	}

	switch cfg.PhotoPolicy {
	case PhotoRequired, PhotoOptional, PhotoDisabled:
	default:
		errs = multierr.Append(errs, fmt.Errorf("invalid PHOTO_POLICY %q (want required, optional or disabled)", cfg.PhotoPolicy))
	}

	var err error
	if path := os.Getenv("PLANS_FILE"); path != "" {
		cfg.Plans, err = plan.LoadFile(path)
	} else {
		cfg.Plans, err = plan.Parse(valueOrDefault("PLANS", plan.DefaultPlans))
	}
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("invalid plan table: %w", err))
	}

	if cfg.Cards.LinkTTL, err = parseDuration("CARD_LINK_TTL", defaultCardLinkTTL); err != nil {
		errs = multierr.Append(errs, err)
	}
	if cfg.SessionRetention, err = parseDuration("SESSION_RETENTION", 0); err != nil {
		errs = multierr.Append(errs, err)
	}
	if cfg.ChatRateWindow, err = parseDuration("CHAT_RATE_WINDOW", defaultChatWindow); err != nil {
		errs = multierr.Append(errs, err)
	}
	if cfg.ChatRateLimit, err = parseInt("CHAT_RATE_LIMIT", defaultChatLimit); err != nil {
		errs = multierr.Append(errs, err)
	}

	if errs != nil {
		return nil, errs
	}
	return cfg, nil
}

func valueOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func parseDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return d, nil
}

func parseInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
	}
	return n, nil
}
