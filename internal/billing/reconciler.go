package billing

import (
	"context"
	"errors"
	"log/slog"

	"modelpass/internal/types"
)

const defaultMaxWriteAttempts = 3

// Outcome describes what the reconciler did with a change.
type Outcome string

const (
	OutcomeApplied    Outcome = "applied"
	OutcomeStale      Outcome = "stale"
	OutcomeNoUser     Outcome = "no_user"
	OutcomeSuperseded Outcome = "superseded"
	OutcomeRejected   Outcome = "rejected"
	OutcomeFailed     Outcome = "failed"
)

// SubscriptionStore persists subscription rows with compare-and-swap
// semantics.
type SubscriptionStore interface {
	// GetByUserID returns the user's row, or nil when none exists.
	GetByUserID(ctx context.Context, userID string) (*types.Subscription, error)

	// CompareAndSwap writes next only if the stored row still matches
	// expected (nil meaning "no row") and next is strictly newer. It reports
	// whether the write happened.
	CompareAndSwap(ctx context.Context, expected, next *types.Subscription) (bool, error)
}

// CustomerDirectory links provider customers to users.
type CustomerDirectory interface {
	// UserIDByCustomer returns the linked user, or "" when none.
	UserIDByCustomer(ctx context.Context, customerID string) (string, error)
	LinkCustomer(ctx context.Context, userID, customerID string) error
}

// ChangePublisher fans out subscription changes to downstream consumers.
type ChangePublisher interface {
	PublishSubscriptionChanged(ctx context.Context, msg types.SubscriptionChangedMessage) error
}

// ReconcileMetrics records reconciliation outcomes.
type ReconcileMetrics interface {
	RecordReconcile(ctx context.Context, eventType string, outcome Outcome)
}

// Reconciler turns provider events into persisted subscription state.
type Reconciler struct {
	store       SubscriptionStore
	customers   CustomerDirectory
	prices      PriceResolver
	publisher   ChangePublisher
	metrics     ReconcileMetrics
	clock       types.Clock
	logger      *slog.Logger
	maxAttempts int
}

// ReconcilerOption configures optional collaborators.
type ReconcilerOption func(*Reconciler)

// WithPublisher enables subscription.changed fan-out.
func WithPublisher(p ChangePublisher) ReconcilerOption {
	return func(r *Reconciler) { r.publisher = p }
}

// WithReconcileMetrics enables outcome metrics.
func WithReconcileMetrics(m ReconcileMetrics) ReconcilerOption {
	return func(r *Reconciler) { r.metrics = m }
}

// WithClock overrides the wall clock.
func WithClock(c types.Clock) ReconcilerOption {
	return func(r *Reconciler) { r.clock = c }
}

// NewReconciler creates a Reconciler. If logger is nil, slog.Default() is used.
func NewReconciler(
	store SubscriptionStore,
	customers CustomerDirectory,
	prices PriceResolver,
	logger *slog.Logger,
	opts ...ReconcilerOption,
) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reconciler{
		store:       store,
		customers:   customers,
		prices:      prices,
		clock:       types.RealClock{},
		logger:      logger,
		maxAttempts: defaultMaxWriteAttempts,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Apply reconciles one change. A missing user, a stale event and a deletion
// of a superseded subscription are reported through Outcome with a nil
// error. Transitions outside the lifecycle table fail with
// conflict_invalid_transition; storage failures fail with
// internal_database_error.
func (r *Reconciler) Apply(ctx context.Context, change SubscriptionChange) (Outcome, error) {
	outcome, err := r.apply(ctx, change)
	if r.metrics != nil {
		r.metrics.RecordReconcile(ctx, change.EventType, outcome)
	}
	return outcome, err
}

func (r *Reconciler) apply(ctx context.Context, change SubscriptionChange) (Outcome, error) {
	log := r.logger.With("event_id", change.EventID, "event_type", change.EventType)

	userID, err := r.resolveUser(ctx, change)
	if err != nil {
		return OutcomeFailed, err
	}
	if userID == "" {
		log.WarnContext(ctx, "no user linked to billing event", "customer_id", change.CustomerID)
		return OutcomeNoUser, nil
	}
	change.UserID = userID
	log = log.With("user_id", userID)

	if change.Kind == ChangeCheckoutCompleted && change.CustomerID != "" {
		if err := r.customers.LinkCustomer(ctx, userID, change.CustomerID); err != nil {
			return OutcomeFailed, err
		}
	}

	r.resolvePlan(ctx, log, &change)

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		current, err := r.store.GetByUserID(ctx, userID)
		if err != nil {
			return OutcomeFailed, err
		}

		next, err := NextSubscription(current, change, r.clock.Now())
		switch {
		case errors.Is(err, ErrStaleEvent):
			log.InfoContext(ctx, "ignoring stale billing event", "occurred_at", change.OccurredAt)
			return OutcomeStale, nil
		case errors.Is(err, ErrSupersededSubscription):
			log.InfoContext(ctx, "ignoring deletion of superseded subscription", "subscription_id", change.SubscriptionID)
			return OutcomeSuperseded, nil
		case err != nil:
			log.WarnContext(ctx, "rejected billing event", "error", err)
			return OutcomeRejected, err
		}

		swapped, err := r.store.CompareAndSwap(ctx, current, next)
		if err != nil {
			return OutcomeFailed, err
		}
		if swapped {
			log.InfoContext(ctx, "subscription reconciled",
				"plan_id", next.PlanID.String(),
				"status", string(next.Status),
			)
			r.publish(ctx, current, next, change)
			return OutcomeApplied, nil
		}
		log.DebugContext(ctx, "subscription write lost a race; retrying", "attempt", attempt)
	}

	return OutcomeFailed, types.NewAppErrorWithDetails(
		types.ErrCodeConflictConcurrent,
		"subscription was modified concurrently",
		nil,
		map[string]any{"user_id": userID, "event_id": change.EventID},
	)
}

// Resync overwrites the user's state with the provider's view. A nil provider
// subscription cancels the user back to Free.
func (r *Reconciler) Resync(ctx context.Context, userID string, provider *types.ProviderSubscription) (Outcome, error) {
	change := SubscriptionChange{
		Kind:       ChangeResync,
		EventID:    "resync",
		EventType:  "manual.resync",
		OccurredAt: r.clock.Now(),
		UserID:     userID,
		Status:     types.SubStatusCanceled,
	}
	if provider != nil {
		change.CustomerID = provider.CustomerID
		change.SubscriptionID = provider.ID
		change.PriceID = provider.PriceID
		change.Status = provider.Status
		change.CurrentPeriodStart = provider.CurrentPeriodStart
		change.CurrentPeriodEnd = provider.CurrentPeriodEnd
		change.CancelAtPeriodEnd = provider.CancelAtPeriodEnd
		change.CanceledAt = provider.CanceledAt
	}
	return r.Apply(ctx, change)
}

func (r *Reconciler) resolveUser(ctx context.Context, change SubscriptionChange) (string, error) {
	if change.UserID != "" {
		return change.UserID, nil
	}
	if change.CustomerID == "" {
		return "", nil
	}
	return r.customers.UserIDByCustomer(ctx, change.CustomerID)
}

// resolvePlan fills change.PlanID from change.PriceID. Unknown prices fall
// back to Free and are logged, since that downgrades the user.
func (r *Reconciler) resolvePlan(ctx context.Context, log *slog.Logger, change *SubscriptionChange) {
	if change.PlanID.Valid() || change.PriceID == "" || change.Kind == ChangeSubscriptionDeleted {
		return
	}
	plan, _, ok := r.prices.ResolvePrice(change.PriceID)
	if !ok {
		plan = r.prices.PriceToPlan(change.PriceID)
		log.WarnContext(ctx, "unknown price id; falling back to plan",
			"price_id", change.PriceID,
			"plan_id", plan.String(),
		)
	}
	change.PlanID = plan
}

func (r *Reconciler) publish(ctx context.Context, prev, next *types.Subscription, change SubscriptionChange) {
	if r.publisher == nil {
		return
	}
	msg := types.SubscriptionChangedMessage{
		Event:         types.SubscriptionChangedEvent,
		UserID:        next.UserID,
		PlanID:        next.PlanID,
		Status:        next.Status,
		SourceEventID: change.EventID,
		SourceType:    change.EventType,
		OccurredAt:    change.OccurredAt,
	}
	if prev != nil {
		msg.PreviousPlanID = prev.PlanID
	}
	if err := r.publisher.PublishSubscriptionChanged(ctx, msg); err != nil {
		r.logger.ErrorContext(ctx, "failed to publish subscription change",
			"error", err.Error(),
			"user_id", next.UserID,
			"event_id", change.EventID,
		)
	}
}
