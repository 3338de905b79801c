// Package main implements the job-runner CLI for executing scheduled
// maintenance tasks by hand or from a cron trigger.
//
// Usage:
//
//	go run ./cmd/tools/job-runner --task=sync_stripe
//	go run ./cmd/tools/job-runner --task=sync_stripe --staleness=6h --limit=200
//	go run ./cmd/tools/job-runner --task=sync_stripe --reference-time=2026-01-15T02:00:00Z
//	go run ./cmd/tools/job-runner --dry-run --task=migrate
//	go run ./cmd/tools/job-runner --list
//
// Configuration is read from the environment (or a .env file) exactly as the
// API server reads it. In --dry-run mode the resolved payload is printed as
// JSON and nothing is executed.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/google/uuid"

	"modelpass/internal/billing"
	"modelpass/internal/config"
	"modelpass/internal/db"
	"modelpass/internal/external"
	"modelpass/internal/scheduler"
	"modelpass/internal/telemetry"
)

var validTasks = map[scheduler.TaskType]string{
	scheduler.TaskSyncStripe: "Re-check at-risk subscriptions against Stripe and resync drift",
	scheduler.TaskMigrate:    "Apply pending database migrations",
}

// errUsage marks argument errors that should print usage.
var errUsage = errors.New("usage error")

// Payload is the resolved description of one run.
type Payload struct {
	Task          scheduler.TaskType `json:"task"`
	ReferenceTime time.Time          `json:"reference_time"`
	Staleness     string             `json:"staleness,omitempty"`
	Limit         int                `json:"limit,omitempty"`
}

type options struct {
	payload Payload
	list    bool
	dryRun  bool
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	if opts.list {
		printAvailableTasks(stdout)
		return nil
	}
	if opts.dryRun {
		return printPayload(stdout, opts.payload)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).
		With("run_id", uuid.NewString(), "task", string(opts.payload.Task))

	start := time.Now()
	result, err := executeTask(ctx, cfg, opts.payload, logger)
	if err != nil {
		logger.Error("task execution failed", "error", err, "duration", time.Since(start).String())
		return err
	}
	logger.Info("task execution succeeded", "result", result, "duration", time.Since(start).String())
	return nil
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("job-runner", flag.ContinueOnError)
	fs.SetOutput(stderr)

	taskFlag := fs.String("task", "", "Task type to execute (e.g., sync_stripe)")
	refTimeFlag := fs.String("reference-time", "", "Override reference time (RFC3339, e.g., 2026-01-15T02:00:00Z)")
	stalenessFlag := fs.Duration("staleness", scheduler.DefaultStripeSyncStaleness, "Re-check rows without a provider event for this long")
	limitFlag := fs.Int("limit", scheduler.DefaultStripeSyncBatchLimit, "Maximum users processed per sync run")
	listFlag := fs.Bool("list", false, "List all available task types and exit")
	dryRunFlag := fs.Bool("dry-run", false, "Print the JSON payload without executing")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: job-runner [flags]\n\nFlags:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nUse --list to see all available task types.\n")
	}

	if err := fs.Parse(args); err != nil {
		return options{}, errUsage
	}

	opts := options{list: *listFlag, dryRun: *dryRunFlag}
	if opts.list {
		return opts, nil
	}

	if *taskFlag == "" {
		fmt.Fprintf(stderr, "error: --task is required\n\n")
		fs.Usage()
		return options{}, errUsage
	}
	task := scheduler.TaskType(*taskFlag)
	if _, ok := validTasks[task]; !ok {
		fmt.Fprintf(stderr, "error: unknown task type %q\n\n", *taskFlag)
		printAvailableTasks(stderr)
		return options{}, errUsage
	}
	if *limitFlag <= 0 {
		return options{}, fmt.Errorf("--limit must be positive, got %d", *limitFlag)
	}
	if *stalenessFlag <= 0 {
		return options{}, fmt.Errorf("--staleness must be positive, got %s", *stalenessFlag)
	}

	refTime := time.Now().UTC()
	if *refTimeFlag != "" {
		t, err := time.Parse(time.RFC3339, *refTimeFlag)
		if err != nil {
			return options{}, fmt.Errorf("invalid --reference-time %q: %w", *refTimeFlag, err)
		}
		refTime = t.UTC()
	}

	opts.payload = Payload{Task: task, ReferenceTime: refTime}
	if task == scheduler.TaskSyncStripe {
		opts.payload.Staleness = stalenessFlag.String()
		opts.payload.Limit = *limitFlag
	}
	return opts, nil
}

func executeTask(ctx context.Context, cfg *config.Config, payload Payload, logger *slog.Logger) (string, error) {
	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:               cfg.Database.URL.Unmask(),
		MaxConns:          4,
		MinConns:          0,
		MaxConnLifetime:   cfg.Database.MaxConnLifetime,
		HealthCheckPeriod: cfg.Database.HealthCheckPeriod,
		AcquireTimeout:    cfg.Database.AcquireTimeout,
	})
	if err != nil {
		return "", fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	switch payload.Task {
	case scheduler.TaskMigrate:
		if err := db.Migrate(ctx, pool, logger); err != nil {
			return "", err
		}
		return "migrations applied", nil

	case scheduler.TaskSyncStripe:
		staleness, err := time.ParseDuration(payload.Staleness)
		if err != nil {
			return "", fmt.Errorf("parsing staleness: %w", err)
		}
		n, err := syncStripe(ctx, cfg, pool, payload.ReferenceTime, staleness, payload.Limit, logger)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("synced %d subscriptions", n), nil
	}
	return "", fmt.Errorf("no dispatcher for task %q", payload.Task)
}

func syncStripe(ctx context.Context, cfg *config.Config, conn db.DBTX, now time.Time, staleness time.Duration, limit int, logger *slog.Logger) (int, error) {
	prices, err := billing.NewPriceMapFromConfig(cfg.Prices.Billing())
	if err != nil {
		return 0, fmt.Errorf("building price map: %w", err)
	}

	var metrics telemetry.Recorder = telemetry.Noop{}
	if cfg.Observability.EnableMetrics {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return 0, fmt.Errorf("loading AWS config: %w", err)
		}
		client := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		cw := telemetry.NewCloudWatchMetrics(client, cfg.Observability.MetricNamespace, logger)
		defer cw.Flush(context.WithoutCancel(ctx))
		metrics = cw
	}

	subs := db.NewSubscriptionRepo(conn, logger)
	profiles := db.NewProfileRepo(conn)
	clients := external.NewClientRegistry(cfg, profiles, logger)
	reconciler := billing.NewReconciler(subs, profiles, prices, logger.With("component", "reconciler"),
		billing.WithReconcileMetrics(metrics),
	)

	syncer := scheduler.NewStripeSyncer(subs, clients.Billing, reconciler, prices, metrics, logger)
	return syncer.SyncAtRisk(ctx, now, staleness, limit)
}

func printAvailableTasks(w io.Writer) {
	names := make([]string, 0, len(validTasks))
	for t := range validTasks {
		names = append(names, string(t))
	}
	sort.Strings(names)

	fmt.Fprintf(w, "Available tasks:\n")
	for _, name := range names {
		fmt.Fprintf(w, "  %-14s %s\n", name, validTasks[scheduler.TaskType(name)])
	}
}

func printPayload(w io.Writer, payload Payload) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
