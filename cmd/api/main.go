// Package main is the entry point for the ModelPass API server.
//
// It loads configuration, connects to the Supabase Postgres database, applies
// migrations, wires the billing and entitlement components onto the HTTP
// chassis and serves until SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"golang.org/x/sync/errgroup"

	"modelpass/internal/api/handlers"
	"modelpass/internal/auth"
	"modelpass/internal/billing"
	"modelpass/internal/config"
	"modelpass/internal/core"
	"modelpass/internal/db"
	"modelpass/internal/external"
	"modelpass/internal/queue"
	"modelpass/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("modelpass API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:               cfg.Database.URL.Unmask(),
		MaxConns:          cfg.Database.MaxConns,
		MinConns:          cfg.Database.MinConns,
		MaxConnLifetime:   cfg.Database.MaxConnLifetime,
		HealthCheckPeriod: cfg.Database.HealthCheckPeriod,
		AcquireTimeout:    cfg.Database.AcquireTimeout,
	})
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	if cfg.Database.RunMigrations {
		if err := db.Migrate(ctx, pool, logger); err != nil {
			return fmt.Errorf("applying migrations: %w", err)
		}
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return err
	}

	var metrics telemetry.Recorder = telemetry.Noop{}
	var cw *telemetry.CloudWatchMetrics
	if cfg.Observability.EnableMetrics {
		client := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		cw = telemetry.NewCloudWatchMetrics(client, cfg.Observability.MetricNamespace, logger)
		metrics = cw
	}

	var publisher billing.ChangePublisher
	if cfg.AWS.SubscriptionEventsQueue != "" {
		client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		publisher = queue.NewSubscriptionPublisher(client, cfg.AWS.SubscriptionEventsQueue, logger)
	}

	profiles := db.NewProfileRepo(pool)
	clients := external.NewClientRegistry(cfg, profiles, logger)

	srv, err := buildServer(cfg, logger, dependencies{
		DB:        pool,
		Pinger:    pool,
		Billing:   clients.Billing,
		Verifier:  clients.StripeVerifier,
		Metrics:   metrics,
		Publisher: publisher,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	if cw != nil {
		g.Go(func() error {
			return cw.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("server stopped cleanly")
	return nil
}

// dependencies are the process-level resources buildServer wires together.
type dependencies struct {
	DB        db.DBTX
	Pinger    core.Pinger
	Billing   external.BillingService
	Verifier  external.WebhookVerifier
	Metrics   telemetry.Recorder
	Publisher billing.ChangePublisher
}

// buildServer assembles repositories, domain services and handlers into a
// routed core.Server.
func buildServer(cfg *config.Config, logger *slog.Logger, deps dependencies) (*core.Server, error) {
	prices, err := billing.NewPriceMapFromConfig(cfg.Prices.Billing())
	if err != nil {
		return nil, fmt.Errorf("building price map: %w", err)
	}
	registry := billing.NewStaticPlanRegistry()

	subs := db.NewSubscriptionRepo(deps.DB, logger)
	usage := db.NewUsageRepo(deps.DB)
	profiles := db.NewProfileRepo(deps.DB)

	opts := []billing.ReconcilerOption{billing.WithReconcileMetrics(deps.Metrics)}
	if deps.Publisher != nil {
		opts = append(opts, billing.WithPublisher(deps.Publisher))
	}
	reconciler := billing.NewReconciler(subs, profiles, prices, logger.With("component", "reconciler"), opts...)
	quota := billing.NewQuotaEnforcer(subs, usage, registry, deps.Metrics)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}
	srv.Metrics = deps.Metrics
	srv.Authenticator = auth.NewSupabaseAuthenticator(
		cfg.Auth.JWTSecret,
		cfg.Auth.SupabaseURL,
		cfg.Auth.JWTAudience,
		logger,
	)
	if deps.Pinger != nil {
		srv.HealthChecks = append(srv.HealthChecks, core.PingCheck{CheckName: "database", Target: deps.Pinger})
	}

	billingHandler := handlers.NewBillingHandler(handlers.BillingDeps{
		Service:       deps.Billing,
		Customers:     profiles,
		Profiles:      profiles,
		Prices:        prices,
		Resyncer:      reconciler,
		Subscriptions: subs,
		Validator:     srv.Validator,
		DashboardURL:  cfg.Server.DashboardURL,
		Logger:        logger,
	})
	entitlementsHandler := handlers.NewEntitlementsHandler(subs, registry, prices, logger)
	usageHandler := handlers.NewUsageHandler(subs, usage, quota, registry, srv.Validator, logger)
	webhookHandler := handlers.NewStripeWebhookHandler(deps.Verifier, reconciler, logger.With("component", "stripe_webhook"))

	srv.PublicRoutes = append(srv.PublicRoutes, entitlementsHandler.RegisterPublicRoutes)
	srv.ProtectedRoutes = append(srv.ProtectedRoutes,
		billingHandler.RegisterRoutes,
		entitlementsHandler.RegisterRoutes,
		usageHandler.RegisterRoutes,
	)
	srv.RootRoutes = append(srv.RootRoutes, webhookHandler.RegisterRoutes)

	srv.MountRoutes()
	return srv, nil
}

func loadAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	return awsCfg, nil
}

// newLogger creates a JSON slog.Logger for the given level name.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
