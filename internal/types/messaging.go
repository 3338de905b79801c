package types

import "time"

// SubscriptionChangedEvent is the event type carried by
// SubscriptionChangedMessage.
const SubscriptionChangedEvent = "subscription.changed"

// SubscriptionChangedMessage is the SQS payload published after a
// subscription row has been written. Consumers use it to invalidate cached
// entitlements. JSON tags use snake_case to match the persisted columns.
type SubscriptionChangedMessage struct {
	Event          string             `json:"event"`
	UserID         string             `json:"user_id"`
	PlanID         PlanID             `json:"plan_id"`
	PreviousPlanID PlanID             `json:"previous_plan_id,omitempty"`
	Status         SubscriptionStatus `json:"status"`
	SourceEventID  string             `json:"source_event_id"`
	SourceType     string             `json:"source_type"`
	OccurredAt     time.Time          `json:"occurred_at"`
}
