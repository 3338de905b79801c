// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone.
//  2. Load .env file via godotenv (non-fatal if absent).
//  3. Use envconfig to process struct tags and populate the Config struct.
//  4. Populate BuildInfo from linker-injected variables.
//  5. Validate the struct using go-playground/validator.
//  6. Check cross-field rules validator tags cannot express.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is a diagnostic error type returned by LoadConfig.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// localEnv is the APP_ENV value that allows running without Stripe.
const localEnv = "local"

// LoadConfig loads and validates the configuration. dotenvFiles are passed to
// godotenv; with none, ".env" in the working directory is tried. Existing
// environment variables always win over dotenv values.
func LoadConfig(dotenvFiles ...string) (*Config, error) {
	time.Local = time.UTC

	_ = godotenv.Load(dotenvFiles...)

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	cfg.Build = NewBuildInfo()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	if err := checkConsistency(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IsLocal reports whether the process runs in local development mode.
func (c *Config) IsLocal() bool {
	return c.Environment == localEnv
}

// checkConsistency enforces rules that span several fields. Outside local
// mode Stripe must be fully configured: a secret key and a monthly price for
// every paid plan.
func checkConsistency(cfg *Config) error {
	if cfg.IsLocal() {
		return nil
	}
	var missing []string
	if !cfg.Billing.StripeSecretKey.IsSet() {
		missing = append(missing, "STRIPE_SECRET_KEY")
	}
	if cfg.Prices.StarterMonthly == "" {
		missing = append(missing, "STRIPE_PRICE_STARTER")
	}
	if cfg.Prices.ProMonthly == "" {
		missing = append(missing, "STRIPE_PRICE_PRO")
	}
	if cfg.Prices.EnterpriseMonthly == "" {
		missing = append(missing, "STRIPE_PRICE_ENTERPRISE")
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrInconsistent,
			Message: fmt.Sprintf("%s environment requires: %s", cfg.Environment, strings.Join(missing, ", ")),
		}
	}
	return nil
}
