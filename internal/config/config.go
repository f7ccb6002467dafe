package config

import (
	"errors"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the server reads from the environment.
type Config struct {
	Port   string
	DBPath string

	// LicenseSecret signs offline tokens. Rotating it invalidates every
	// outstanding token at once, so treat it like a private key.
	LicenseSecret string

	// TokenLifetime bounds how long a client can stay offline before a
	// revocation is guaranteed to take effect. Policy knob, not a
	// protocol invariant.
	TokenLifetime time.Duration

	StripeSecret        string
	StripeWebhookSecret string

	SessionSecret      string
	AdminBootstrapPass string

	SheetSyncEnabled    bool
	SheetCredentialPath string
	SpreadsheetID       string
	SheetName           string
}

const defaultTokenLifetime = 7 * 24 * time.Hour

// Load reads configuration from the environment, honoring a local .env
// file when present.
func Load() (*Config, error) {
	godotenv.Load()

	cfg := &Config{
		Port:                getenv("PORT", "8080"),
		DBPath:              getenv("DB_PATH", "data/license.db"),
		LicenseSecret:       os.Getenv("LICENSE_SECRET"),
		StripeSecret:        os.Getenv("STRIPE_SECRET"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		SessionSecret:       os.Getenv("SESSION_SECRET"),
		AdminBootstrapPass:  os.Getenv("ADMIN_BOOTSTRAP_PASSWORD"),
		SheetSyncEnabled:    os.Getenv("SHEET_SYNC_ENABLED") == "true",
		SheetCredentialPath: os.Getenv("SHEET_CREDENTIAL_PATH"),
		SpreadsheetID:       os.Getenv("SPREADSHEET_ID"),
		SheetName:           getenv("SHEET_NAME", "Licenses"),
		TokenLifetime:       defaultTokenLifetime,
	}

	if cfg.LicenseSecret == "" {
		return nil, errors.New("LICENSE_SECRET environment variable is required")
	}
	if cfg.SessionSecret == "" {
		cfg.SessionSecret = cfg.LicenseSecret
	}

	if raw := os.Getenv("TOKEN_LIFETIME"); raw != "" {
		lifetime, err := time.ParseDuration(raw)
		if err != nil {
			return nil, errors.New("TOKEN_LIFETIME must be a valid duration, e.g. 168h")
		}
		cfg.TokenLifetime = lifetime
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
