package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config is the single externally-supplied configuration for the process,
// validated once at startup. No fallback literals, no embedded secrets.
type Config struct {
	Env         string
	ListenAddr  string
	DatabaseURL string

	// JWTSecret verifies bearer tokens on authenticated endpoints.
	JWTSecret string

	PayPal PayPal
	Email  Email

	// RedirectRPS / RedirectBurst bound per-client traffic on the public
	// endpoints. Zero disables the limiter.
	RedirectRPS   float64
	RedirectBurst int
}

// PayPal holds the payment-provider credentials and plan mapping.
type PayPal struct {
	ClientID         string
	ClientSecret     string
	Mode             string // "sandbox" or "live"
	WebhookID        string
	PlanProfessional string
	PlanPremium      string
}

// Live reports whether webhook signatures must be verified.
func (p PayPal) Live() bool { return p.Mode == "live" }

// APIURL returns the provider base URL for the configured mode.
func (p PayPal) APIURL() string {
	if p.Live() {
		return "https://api-m.paypal.com"
	}
	return "https://api-m.sandbox.paypal.com"
}

// Email holds the transactional mail credentials.
type Email struct {
	APIKey string
	From   string
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if out, err := strconv.ParseFloat(v, 64); err == nil {
			return out
		}
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if out, err := strconv.Atoi(v); err == nil {
			return out
		}
	}
	return def
}

func Load() (Config, error) {
	cfg := Config{
		Env:         getenv("APP_ENV", "development"),
		ListenAddr:  getenv("LISTEN_ADDR", ":8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		PayPal: PayPal{
			ClientID:         os.Getenv("PAYPAL_CLIENT_ID"),
			ClientSecret:     os.Getenv("PAYPAL_CLIENT_SECRET"),
			Mode:             getenv("PAYPAL_MODE", "sandbox"),
			WebhookID:        os.Getenv("PAYPAL_WEBHOOK_ID"),
			PlanProfessional: os.Getenv("PAYPAL_PLAN_PROFESSIONAL"),
			PlanPremium:      os.Getenv("PAYPAL_PLAN_PREMIUM"),
		},
		Email: Email{
			APIKey: os.Getenv("RESEND_API_KEY"),
			From:   getenv("RESEND_FROM_EMAIL", "noreply@tstr.directory"),
		},
		RedirectRPS:   getenvFloat("REDIRECT_RPS", 10),
		RedirectBurst: getenvInt("REDIRECT_BURST", 20),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL not set")
	}
	if cfg.JWTSecret == "" {
		return cfg, fmt.Errorf("JWT_SECRET not set")
	}
	return cfg, nil
}
