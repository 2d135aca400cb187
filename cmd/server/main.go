package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JAvZZe/tstr-site/internal/adapters/email"
	httpadapter "github.com/JAvZZe/tstr-site/internal/adapters/http"
	"github.com/JAvZZe/tstr-site/internal/adapters/paypal"
	pg "github.com/JAvZZe/tstr-site/internal/adapters/postgres"
	"github.com/JAvZZe/tstr-site/internal/config"
	"github.com/JAvZZe/tstr-site/internal/domain"
	"github.com/JAvZZe/tstr-site/internal/ports"
	billingsvc "github.com/JAvZZe/tstr-site/internal/services/billing"
	claimsvc "github.com/JAvZZe/tstr-site/internal/services/claims"
	redirectsvc "github.com/JAvZZe/tstr-site/internal/services/redirects"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		log.Error("configuration invalid", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pg.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("db connect error", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Wire repositories to services (ports)
	var _ ports.ListingRepository = db
	var _ ports.ClaimRepository = db
	var _ ports.DraftRepository = db
	var _ ports.ClickRepository = db
	var _ ports.SubscriptionRepository = db
	var _ ports.PaymentRepository = db

	sender := email.New(email.Config{APIKey: cfg.Email.APIKey, From: cfg.Email.From})
	provider := paypal.New(paypal.Config{
		ClientID:     cfg.PayPal.ClientID,
		ClientSecret: cfg.PayPal.ClientSecret,
		BaseURL:      cfg.PayPal.APIURL(),
		WebhookID:    cfg.PayPal.WebhookID,
	})

	claims := claimsvc.New(db, db, db, sender, log)
	redirects := redirectsvc.New(db, db, log)
	planTiers := map[string]domain.Tier{
		cfg.PayPal.PlanProfessional: domain.TierProfessional,
		cfg.PayPal.PlanPremium:      domain.TierPremium,
	}
	billing := billingsvc.New(db, db, claims, provider, planTiers, log)

	srv := httpadapter.New(claims, billing, redirects, provider, log, httpadapter.Options{
		JWTSecret:        cfg.JWTSecret,
		VerifySignatures: cfg.PayPal.Live(),
		RedirectRPS:      cfg.RedirectRPS,
		RedirectBurst:    cfg.RedirectBurst,
	})
	r := chi.NewRouter()
	r.Mount("/", srv.Routes())

	errCh := make(chan error, 1)
	go func() { errCh <- http.ListenAndServe(cfg.ListenAddr, r) }()
	log.Info("listening", "addr", cfg.ListenAddr, "env", cfg.Env)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
		cancel()
		// Let in-flight click writes land before exit.
		redirects.Flush()
		time.Sleep(300 * time.Millisecond)
	case err := <-errCh:
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
