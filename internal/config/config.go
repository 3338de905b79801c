// Package config defines the process configuration for the modelpass API.
// Configuration is loaded once at startup and is immutable thereafter.
//
// Values are resolved with the priority:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// A missing required value or an invalid format fails startup.
package config

import (
	"time"

	"modelpass/internal/billing"
	"modelpass/internal/types"
)

// SecretString is an alias for types.SecretString.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Components receive only the
// subset they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"modelpass-api"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Billing       BillingConfig
	Prices        PriceConfig
	Auth          AuthConfig
	Security      SecurityConfig
	Observability ObservabilityConfig

	// Injected via ldflags, not env.
	Build BuildInfo
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// DashboardURL is the front-end base used for checkout and portal
	// redirects (no trailing slash).
	DashboardURL    string        `envconfig:"DASHBOARD_URL" validate:"required,url"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
}

// DatabaseConfig holds the Supabase Postgres connection and pool tuning.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
	RunMigrations     bool          `envconfig:"DB_RUN_MIGRATIONS" default:"true"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// SubscriptionEventsQueue receives subscription.changed messages. Empty
	// disables publishing.
	SubscriptionEventsQueue string `envconfig:"SUBSCRIPTION_EVENTS_QUEUE_URL" validate:"omitempty,url"`

	// LocalStack support (empty in prod).
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL" validate:"omitempty,url"`
}

// BillingConfig holds Stripe credentials and client tuning.
type BillingConfig struct {
	StripeSecretKey     SecretString  `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret SecretString  `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`
	WebhookTolerance    time.Duration `envconfig:"STRIPE_WEBHOOK_TOLERANCE" default:"5m"`
	APITimeout          time.Duration `envconfig:"STRIPE_API_TIMEOUT" default:"10s"`
}

// PriceConfig maps paid plans to Stripe price IDs. Free has no price.
type PriceConfig struct {
	StarterMonthly    string `envconfig:"STRIPE_PRICE_STARTER"`
	StarterYearly     string `envconfig:"STRIPE_PRICE_STARTER_YEARLY"`
	ProMonthly        string `envconfig:"STRIPE_PRICE_PRO"`
	ProYearly         string `envconfig:"STRIPE_PRICE_PRO_YEARLY"`
	EnterpriseMonthly string `envconfig:"STRIPE_PRICE_ENTERPRISE"`
	EnterpriseYearly  string `envconfig:"STRIPE_PRICE_ENTERPRISE_YEARLY"`
}

// Billing converts the env-backed price table into the billing package's form.
func (p PriceConfig) Billing() billing.PriceConfig {
	return billing.PriceConfig{
		StarterMonthly:    p.StarterMonthly,
		StarterYearly:     p.StarterYearly,
		ProMonthly:        p.ProMonthly,
		ProYearly:         p.ProYearly,
		EnterpriseMonthly: p.EnterpriseMonthly,
		EnterpriseYearly:  p.EnterpriseYearly,
	}
}

// AuthConfig holds the Supabase project settings used to verify sessions.
type AuthConfig struct {
	SupabaseURL     string       `envconfig:"SUPABASE_URL" validate:"required,url"`
	SupabaseAnonKey SecretString `envconfig:"SUPABASE_ANON_KEY"`
	JWTSecret       SecretString `envconfig:"SUPABASE_JWT_SECRET" validate:"required,min=32"`
	// JWTAudience is the expected "aud" claim of Supabase access tokens.
	JWTAudience string `envconfig:"SUPABASE_JWT_AUDIENCE" default:"authenticated"`
}

// SecurityConfig holds CORS settings.
type SecurityConfig struct {
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"ModelPass"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"false"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	// ErrValidation indicates the configuration failed struct validation.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates an environment value could not be parsed.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
	// ErrInconsistent indicates values that are individually valid but
	// conflict with each other.
	ErrInconsistent ConfigErrorType = "INCONSISTENT"
)
