package billing

import (
	"errors"
	"fmt"
	"time"

	"modelpass/internal/types"
)

// ChangeKind classifies a subscription change by the provider event that
// produced it.
type ChangeKind string

const (
	ChangeCheckoutCompleted   ChangeKind = "checkout_completed"
	ChangeSubscriptionUpsert  ChangeKind = "subscription_upsert"
	ChangeSubscriptionDeleted ChangeKind = "subscription_deleted"
	ChangePaymentSucceeded    ChangeKind = "payment_succeeded"
	ChangePaymentFailed       ChangeKind = "payment_failed"
	ChangeResync              ChangeKind = "resync"
)

// SubscriptionChange is a provider-neutral description of one billing event.
// OccurredAt is the event's own timestamp and orders writes.
type SubscriptionChange struct {
	Kind       ChangeKind
	EventID    string
	EventType  string
	OccurredAt time.Time

	UserID         string
	CustomerID     string
	SubscriptionID string

	// PriceID is the provider price carried by the event, if any. The
	// reconciler resolves it into PlanID.
	PriceID string

	// PlanID is the resolved plan when the event carries one; zero leaves the
	// stored plan untouched.
	PlanID types.PlanID

	Status             types.SubscriptionStatus
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	CanceledAt         *time.Time
}

var (
	// ErrStaleEvent marks a change older than the last applied one, or a
	// replay of it.
	ErrStaleEvent = errors.New("billing: stale subscription event")

	// ErrSupersededSubscription marks a deletion for a provider
	// subscription that is no longer the user's current one.
	ErrSupersededSubscription = errors.New("billing: event targets a superseded subscription")
)

// transitions lists the status moves the provider performs within a single
// subscription. Same-state moves and moves to canceled are always allowed and
// are not repeated here. canceled and incomplete_expired are terminal.
var transitions = map[types.SubscriptionStatus][]types.SubscriptionStatus{
	types.SubStatusIncomplete: {types.SubStatusActive, types.SubStatusTrialing, types.SubStatusIncompleteExpired},
	types.SubStatusTrialing:   {types.SubStatusActive, types.SubStatusPastDue, types.SubStatusUnpaid, types.SubStatusIncomplete},
	types.SubStatusActive:     {types.SubStatusPastDue, types.SubStatusUnpaid, types.SubStatusTrialing},
	types.SubStatusPastDue:    {types.SubStatusActive, types.SubStatusUnpaid},
	types.SubStatusUnpaid:     {types.SubStatusActive, types.SubStatusPastDue},
}

// CanTransition reports whether a subscription may move from one status to
// another without going through a new checkout.
func CanTransition(from, to types.SubscriptionStatus) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to || to == types.SubStatusCanceled {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// NextSubscription computes the record that results from applying change to
// current. current may be nil when the user has no row yet. It never mutates
// current. Errors:
//   - ErrStaleEvent when change is older than current or replays its last event
//   - ErrSupersededSubscription for deletions of an older subscription
//   - conflict_invalid_transition for moves outside the transition table
func NextSubscription(current *types.Subscription, change SubscriptionChange, now time.Time) (*types.Subscription, error) {
	if current != nil && !EventIsNewer(current.LastEventAt, current.LastEventID, change.OccurredAt, change.EventID) {
		return nil, ErrStaleEvent
	}

	var next types.Subscription
	if current != nil {
		next = *current
	} else {
		next = types.Subscription{
			UserID:    change.UserID,
			PlanID:    types.PlanFree,
			Status:    types.SubStatusActive,
			StartDate: now,
			CreatedAt: now,
		}
	}

	newLifecycle := change.SubscriptionID != "" &&
		(next.SubscriptionID == nil || *next.SubscriptionID != change.SubscriptionID)

	target, err := targetStatus(next.Status, change)
	if err != nil {
		return nil, err
	}

	switch change.Kind {
	case ChangeCheckoutCompleted, ChangeResync:
		// The provider's view is authoritative after a checkout or a resync.
	case ChangeSubscriptionDeleted:
		if newLifecycle && next.SubscriptionID != nil {
			return nil, ErrSupersededSubscription
		}
	default:
		if !newLifecycle && !CanTransition(next.Status, target) {
			return nil, invalidTransition(next.Status, target, change)
		}
	}

	next.Status = target
	if change.SubscriptionID != "" {
		id := change.SubscriptionID
		next.SubscriptionID = &id
	}

	switch change.Kind {
	case ChangeSubscriptionDeleted:
		next.PlanID = types.PlanFree
		next.CurrentPeriodEnd = nil
		next.CancelAtPeriodEnd = false
		next.CanceledAt = timeOr(change.CanceledAt, change.OccurredAt)
		next.EndDate = timeOr(change.CanceledAt, change.OccurredAt)

	case ChangeResync:
		if target == types.SubStatusCanceled {
			next.PlanID = types.PlanFree
			next.CurrentPeriodEnd = nil
			next.CancelAtPeriodEnd = false
			next.CanceledAt = timeOr(change.CanceledAt, now)
			next.EndDate = next.CanceledAt
			break
		}
		applyPlanAndPeriod(&next, change)

	case ChangeCheckoutCompleted:
		applyPlanAndPeriod(&next, change)
		next.CanceledAt = nil
		next.EndDate = nil
		if current == nil || current.Status == types.SubStatusCanceled || current.Status == types.SubStatusIncompleteExpired {
			next.StartDate = change.OccurredAt
		}

	case ChangeSubscriptionUpsert:
		applyPlanAndPeriod(&next, change)
		if target == types.SubStatusCanceled {
			next.PlanID = types.PlanFree
		}
		if newLifecycle {
			next.StartDate = change.OccurredAt
			next.EndDate = nil
		}

	case ChangePaymentSucceeded, ChangePaymentFailed:
		if change.PlanID.Valid() {
			next.PlanID = change.PlanID
		}
		if change.CurrentPeriodEnd != nil {
			applyPeriod(&next, change)
		}
	}

	occurred, eventID := change.OccurredAt, change.EventID
	next.LastEventAt = &occurred
	next.LastEventID = &eventID
	next.UpdatedAt = now
	return &next, nil
}

// EventIsNewer reports whether an event may be applied on top of the last
// one. Provider timestamps have one-second resolution, so a different event
// in the same second still applies; only older events and replays of the
// last event do not.
func EventIsNewer(lastAt *time.Time, lastID *string, at time.Time, id string) bool {
	if lastAt == nil || at.After(*lastAt) {
		return true
	}
	if at.Before(*lastAt) {
		return false
	}
	return lastID == nil || *lastID != id
}

func targetStatus(current types.SubscriptionStatus, change SubscriptionChange) (types.SubscriptionStatus, error) {
	switch change.Kind {
	case ChangeCheckoutCompleted:
		if change.Status == types.SubStatusTrialing {
			return types.SubStatusTrialing, nil
		}
		return types.SubStatusActive, nil
	case ChangeSubscriptionDeleted:
		return types.SubStatusCanceled, nil
	case ChangePaymentSucceeded:
		return types.SubStatusActive, nil
	case ChangePaymentFailed:
		return types.SubStatusPastDue, nil
	case ChangeSubscriptionUpsert, ChangeResync:
		if !change.Status.Valid() {
			return "", types.NewAppErrorWithDetails(
				types.ErrCodeValidationInvalidInput,
				fmt.Sprintf("unknown subscription status %q", change.Status),
				nil,
				map[string]any{"event_id": change.EventID},
			)
		}
		return change.Status, nil
	}
	return "", types.NewAppError(types.ErrCodeInternalUnexpected, fmt.Sprintf("unknown change kind %q", change.Kind), nil)
}

func applyPlanAndPeriod(next *types.Subscription, change SubscriptionChange) {
	if change.PlanID.Valid() {
		next.PlanID = change.PlanID
	}
	next.CancelAtPeriodEnd = change.CancelAtPeriodEnd
	if change.CanceledAt != nil {
		next.CanceledAt = change.CanceledAt
	}
	applyPeriod(next, change)
}

func applyPeriod(next *types.Subscription, change SubscriptionChange) {
	if change.CurrentPeriodStart != nil {
		next.CurrentPeriodStart = change.CurrentPeriodStart
	}
	next.CurrentPeriodEnd = change.CurrentPeriodEnd
}

func invalidTransition(from, to types.SubscriptionStatus, change SubscriptionChange) error {
	return types.NewAppErrorWithDetails(
		types.ErrCodeConflictTransition,
		fmt.Sprintf("cannot move subscription from %s to %s", from, to),
		nil,
		map[string]any{
			"from":       string(from),
			"to":         string(to),
			"event_id":   change.EventID,
			"event_type": change.EventType,
		},
	)
}

func timeOr(t *time.Time, fallback time.Time) *time.Time {
	if t != nil {
		v := *t
		return &v
	}
	return &fallback
}
