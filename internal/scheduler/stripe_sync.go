// Package scheduler holds the periodic jobs that keep stored billing state
// honest when webhooks are lost or delayed.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"modelpass/internal/billing"
	"modelpass/internal/types"
)

// TaskType identifies a job the runner can execute.
type TaskType string

const (
	TaskSyncStripe TaskType = "sync_stripe"
	TaskMigrate    TaskType = "migrate"
)

const (
	// DefaultStripeSyncBatchLimit caps the users processed per run.
	DefaultStripeSyncBatchLimit = 50
	// DefaultStripeSyncStaleness is how long a row may go without a provider
	// event before it is re-checked.
	DefaultStripeSyncStaleness = 24 * time.Hour
)

// StripeSyncerDB lists users whose subscription should be re-checked.
type StripeSyncerDB interface {
	ListBillingSyncCandidates(ctx context.Context, now time.Time, staleness time.Duration, limit int) ([]types.BillingSyncCandidate, error)
}

// SubscriptionFetcher reads the live subscription from the provider.
type SubscriptionFetcher interface {
	GetActiveSubscription(ctx context.Context, customerID string) (*types.ProviderSubscription, error)
}

// SubscriptionResyncer overwrites stored state with the provider's view.
type SubscriptionResyncer interface {
	Resync(ctx context.Context, userID string, provider *types.ProviderSubscription) (billing.Outcome, error)
}

// StripeSyncerMetrics records drift between stored and provider state.
type StripeSyncerMetrics interface {
	RecordBillingDrift(ctx context.Context)
}

// StripeSyncer re-checks at-risk subscriptions against the provider.
type StripeSyncer struct {
	db       StripeSyncerDB
	provider SubscriptionFetcher
	resync   SubscriptionResyncer
	prices   billing.PriceResolver
	metrics  StripeSyncerMetrics
	logger   *slog.Logger
}

// NewStripeSyncer creates a StripeSyncer. metrics may be nil.
func NewStripeSyncer(
	db StripeSyncerDB,
	provider SubscriptionFetcher,
	resync SubscriptionResyncer,
	prices billing.PriceResolver,
	metrics StripeSyncerMetrics,
	logger *slog.Logger,
) *StripeSyncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeSyncer{
		db:       db,
		provider: provider,
		resync:   resync,
		prices:   prices,
		metrics:  metrics,
		logger:   logger,
	}
}

// SyncAtRisk re-checks up to limit candidates and returns how many were
// synced. A failure on one user is logged and the run moves on; that user is
// picked up again next run.
func (s *StripeSyncer) SyncAtRisk(ctx context.Context, now time.Time, staleness time.Duration, limit int) (int, error) {
	candidates, err := s.db.ListBillingSyncCandidates(ctx, now, staleness, limit)
	if err != nil {
		return 0, fmt.Errorf("listing billing sync candidates: %w", err)
	}
	if len(candidates) == 0 {
		s.logger.InfoContext(ctx, "no subscriptions need billing sync")
		return 0, nil
	}

	s.logger.InfoContext(ctx, "syncing at-risk subscriptions",
		"count", len(candidates),
		"staleness_threshold", staleness.String(),
	)

	synced := 0
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return synced, err
		}
		if err := s.syncUser(ctx, c); err != nil {
			s.logger.ErrorContext(ctx, "failed to sync subscription",
				"user_id", c.UserID,
				"error", err,
			)
			continue
		}
		synced++
	}

	s.logger.InfoContext(ctx, "billing sync complete",
		"synced", synced,
		"total_candidates", len(candidates),
	)
	return synced, nil
}

func (s *StripeSyncer) syncUser(ctx context.Context, c types.BillingSyncCandidate) error {
	remote, err := s.provider.GetActiveSubscription(ctx, c.CustomerID)
	if err != nil {
		return fmt.Errorf("fetching provider subscription for user %s: %w", c.UserID, err)
	}

	remotePlan, remoteStatus := types.PlanFree, types.SubStatusCanceled
	if remote != nil {
		remotePlan, remoteStatus = s.prices.PriceToPlan(remote.PriceID), remote.Status
	}
	if remotePlan != c.PlanID || remoteStatus != c.Status {
		s.logger.WarnContext(ctx, "billing state drift detected",
			"user_id", c.UserID,
			"local_plan", c.PlanID.String(),
			"remote_plan", remotePlan.String(),
			"local_status", string(c.Status),
			"remote_status", string(remoteStatus),
		)
		if s.metrics != nil {
			s.metrics.RecordBillingDrift(ctx)
		}
	}

	// Resync even without drift so period dates and last_event_at advance.
	outcome, err := s.resync.Resync(ctx, c.UserID, remote)
	if err != nil {
		return fmt.Errorf("resyncing user %s: %w", c.UserID, err)
	}
	s.logger.DebugContext(ctx, "subscription resynced",
		"user_id", c.UserID,
		"outcome", string(outcome),
	)
	return nil
}
