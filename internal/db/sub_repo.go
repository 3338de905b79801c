package db

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"modelpass/internal/types"
)

const subscriptionColumns = `id, user_id, plan_id, status, start_date, end_date,
	current_period_start, current_period_end, subscription_id, canceled_at,
	cancel_at_period_end, last_event_at, created_at, updated_at, last_event_id`

// SubscriptionRepo stores one subscription row per user.
//
// Writes are compare-and-swap: an update applies only while the row still
// carries the updated_at the caller read and the incoming event is newer than
// last_event_at, or shares its second but has a different event ID.
// Out-of-order and replayed webhooks therefore never overwrite newer state.
type SubscriptionRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewSubscriptionRepo creates a SubscriptionRepo.
func NewSubscriptionRepo(db DBTX, logger *slog.Logger) *SubscriptionRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionRepo{db: db, logger: logger}
}

// GetByUserID returns the user's subscription, or nil when none exists.
func (r *SubscriptionRepo) GetByUserID(ctx context.Context, userID string) (*types.Subscription, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1`,
		userID,
	)
	sub, err := scanSubscription(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load subscription", err)
	}
	return sub, nil
}

// CompareAndSwap writes next if the stored row still matches expected. A nil
// expected means "no row yet" and inserts; a concurrent insert makes it
// report false.
func (r *SubscriptionRepo) CompareAndSwap(ctx context.Context, expected, next *types.Subscription) (bool, error) {
	if expected == nil {
		return r.insert(ctx, next)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		 SET plan_id = $2,
		     status = $3,
		     start_date = $4,
		     end_date = $5,
		     current_period_start = $6,
		     current_period_end = $7,
		     subscription_id = $8,
		     canceled_at = $9,
		     cancel_at_period_end = $10,
		     last_event_at = $11,
		     updated_at = $12,
		     last_event_id = $14
		 WHERE user_id = $1
		   AND updated_at = $13
		   AND (last_event_at IS NULL
		        OR last_event_at < $11
		        OR (last_event_at = $11 AND last_event_id IS DISTINCT FROM $14))`,
		next.UserID,
		int(next.PlanID),
		string(next.Status),
		next.StartDate,
		next.EndDate,
		next.CurrentPeriodStart,
		next.CurrentPeriodEnd,
		next.SubscriptionID,
		next.CanceledAt,
		next.CancelAtPeriodEnd,
		next.LastEventAt,
		next.UpdatedAt,
		expected.UpdatedAt,
		next.LastEventID,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to update subscription", err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.DebugContext(ctx, "subscription compare-and-swap missed", "user_id", next.UserID)
		return false, nil
	}
	return true, nil
}

func (r *SubscriptionRepo) insert(ctx context.Context, next *types.Subscription) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO subscriptions (
		     user_id, plan_id, status, start_date, end_date,
		     current_period_start, current_period_end, subscription_id, canceled_at,
		     cancel_at_period_end, last_event_at, created_at, updated_at, last_event_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12, $13)
		 ON CONFLICT (user_id) DO NOTHING`,
		next.UserID,
		int(next.PlanID),
		string(next.Status),
		next.StartDate,
		next.EndDate,
		next.CurrentPeriodStart,
		next.CurrentPeriodEnd,
		next.SubscriptionID,
		next.CanceledAt,
		next.CancelAtPeriodEnd,
		next.LastEventAt,
		next.UpdatedAt,
		next.LastEventID,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to insert subscription", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanSubscription(row pgx.Row) (*types.Subscription, error) {
	var (
		s      types.Subscription
		planID int16
		status string
	)
	if err := row.Scan(
		&s.ID,
		&s.UserID,
		&planID,
		&status,
		&s.StartDate,
		&s.EndDate,
		&s.CurrentPeriodStart,
		&s.CurrentPeriodEnd,
		&s.SubscriptionID,
		&s.CanceledAt,
		&s.CancelAtPeriodEnd,
		&s.LastEventAt,
		&s.CreatedAt,
		&s.UpdatedAt,
		&s.LastEventID,
	); err != nil {
		return nil, err
	}
	s.PlanID = types.PlanID(planID)
	s.Status = types.SubscriptionStatus(status)
	return &s, nil
}
