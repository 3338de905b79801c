package db

import (
	"context"
	"time"

	"modelpass/internal/types"
)

// ListBillingSyncCandidates returns linked users whose subscription is in a
// transitional status, whose period has lapsed, or who have not heard from
// the provider within staleness. Least recently synced rows come first.
func (r *SubscriptionRepo) ListBillingSyncCandidates(ctx context.Context, now time.Time, staleness time.Duration, limit int) ([]types.BillingSyncCandidate, error) {
	rows, err := r.db.Query(ctx,
		`SELECT s.user_id, p.stripe_customer_id, s.plan_id, s.status, s.last_event_at
		 FROM subscriptions s
		 JOIN profiles p ON p.user_id = s.user_id
		 WHERE p.stripe_customer_id IS NOT NULL
		   AND (s.status IN ('past_due', 'unpaid', 'incomplete', 'trialing')
		        OR (s.status <> 'canceled' AND s.current_period_end < $1)
		        OR s.last_event_at IS NULL
		        OR s.last_event_at < $2)
		 ORDER BY s.last_event_at ASC NULLS FIRST
		 LIMIT $3`,
		now,
		now.Add(-staleness),
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query billing sync candidates", err)
	}
	defer rows.Close()

	var out []types.BillingSyncCandidate
	for rows.Next() {
		var (
			c      types.BillingSyncCandidate
			planID int16
			status string
		)
		if err := rows.Scan(&c.UserID, &c.CustomerID, &planID, &status, &c.LastEventAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan billing sync candidate", err)
		}
		c.PlanID = types.PlanID(planID)
		c.Status = types.SubscriptionStatus(status)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating billing sync candidates", err)
	}
	return out, nil
}
