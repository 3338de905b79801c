package types

import "time"

// PlanFeatures is the fixed limit record attached to every plan.
// Storage is expressed in bytes.
type PlanFeatures struct {
	APICalls      int64        `json:"apiCalls"`
	Storage       int64        `json:"storage"`
	ModelLimit    int          `json:"modelLimit"`
	SupportLevel  SupportLevel `json:"supportLevel"`
	Customization bool         `json:"customization"`
	Analytics     bool         `json:"analytics"`
}

// Plan represents one subscription tier. Prices are in cents.
type Plan struct {
	ID           PlanID       `json:"id"`
	Name         string       `json:"name"`
	PriceMonthly int64        `json:"price_monthly_cents"`
	PriceYearly  int64        `json:"price_yearly_cents"`
	Features     PlanFeatures `json:"features"`
}

// Subscription is a user's current billing state as persisted in the
// subscriptions table. Rows are never hard-deleted; cancellation moves the
// status to canceled and resets the plan to Free.
type Subscription struct {
	ID                 string             `json:"id"`
	UserID             string             `json:"user_id"`
	PlanID             PlanID             `json:"plan_id"`
	Status             SubscriptionStatus `json:"status"`
	StartDate          time.Time          `json:"start_date"`
	EndDate            *time.Time         `json:"end_date,omitempty"`
	CurrentPeriodStart *time.Time         `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time         `json:"current_period_end"`
	SubscriptionID     *string            `json:"subscription_id,omitempty"`
	CanceledAt         *time.Time         `json:"canceled_at,omitempty"`
	CancelAtPeriodEnd  bool               `json:"cancel_at_period_end"`
	LastEventAt        *time.Time         `json:"-"`
	LastEventID        *string            `json:"-"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// UsageStats holds the metered counters for a user.
type UsageStats struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	APICalls    int64     `json:"api_calls"`
	StorageUsed int64     `json:"storage_used"`
	LastActive  time.Time `json:"last_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Profile is the billing-relevant slice of a user's identity record.
type Profile struct {
	UserID           string `json:"user_id"`
	Email            string `json:"email"`
	StripeCustomerID string `json:"stripe_customer_id,omitempty"`
}

// Model is an entry of the AI model catalog.
type Model struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Provider    string `json:"provider"`
	MinimumPlan PlanID `json:"minimum_plan"`
}

// RedirectURLs holds the provider redirect targets for a checkout flow.
type RedirectURLs struct {
	Success string
	Cancel  string
}

// CheckoutSession is the provider's answer to a checkout request.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// ProviderSubscription is the provider-side view of a subscription, used when
// re-synchronizing local state.
type ProviderSubscription struct {
	ID                 string
	CustomerID         string
	Status             SubscriptionStatus
	PriceID            string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	CanceledAt         *time.Time
}

// BillingSyncCandidate is a user whose stored subscription may have drifted
// from the provider.
type BillingSyncCandidate struct {
	UserID      string
	CustomerID  string
	PlanID      PlanID
	Status      SubscriptionStatus
	LastEventAt *time.Time
}
