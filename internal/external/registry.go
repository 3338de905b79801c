package external

import (
	"log/slog"
	"net/http"
	"time"

	"modelpass/internal/config"
)

// ClientRegistry holds the external service clients used by the API.
type ClientRegistry struct {
	Billing        BillingService
	StripeVerifier WebhookVerifier
}

// NewClientRegistry builds the registry from configuration. In local mode
// without a Stripe secret key, billing calls go to StubBillingService so the
// API boots without credentials. Webhook verification is always real.
func NewClientRegistry(cfg *config.Config, customers CustomerStore, logger *slog.Logger) *ClientRegistry {
	if logger == nil {
		logger = slog.Default()
	}

	reg := &ClientRegistry{
		StripeVerifier: NewStripeVerifier(cfg.Billing.StripeWebhookSecret, cfg.Billing.WebhookTolerance),
	}

	if cfg.IsLocal() && !cfg.Billing.StripeSecretKey.IsSet() {
		logger.Info("initializing billing client in STUB mode", "environment", cfg.Environment)
		reg.Billing = NewStubBillingService(customers, logger.With("mode", "stub"))
		return reg
	}

	// The per-attempt timeout lives in BaseClient; the client-level timeout
	// only guards against a hung body read.
	httpClient := &http.Client{Timeout: 2 * cfg.Billing.APITimeout}
	if cfg.Billing.APITimeout <= 0 {
		httpClient.Timeout = 30 * time.Second
	}
	reg.Billing = NewStripeClient(httpClient, customers, StripeClientConfig{
		SecretKey: cfg.Billing.StripeSecretKey,
		UserAgent: cfg.Build.UserAgent(),
		Timeout:   cfg.Billing.APITimeout,
		Logger:    logger.With("client", "stripe"),
	})
	return reg
}
