package external

import (
	"context"

	stripe "github.com/stripe/stripe-go/v82"

	"modelpass/internal/types"
)

// BillingService abstracts interactions with the payment provider.
type BillingService interface {
	// EnsureCustomer retrieves or creates the provider customer for a user
	// and persists the link.
	EnsureCustomer(ctx context.Context, userID, email string) (string, error)

	// CreateCheckoutSession starts a hosted checkout for a plan change.
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*types.CheckoutSession, error)

	// CreatePortalSession returns a self-service billing portal URL.
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)

	// GetActiveSubscription returns the customer's live subscription, or nil.
	GetActiveSubscription(ctx context.Context, customerID string) (*types.ProviderSubscription, error)
}

// CheckoutParams describes one checkout request.
type CheckoutParams struct {
	PriceID    string
	CustomerID string
	SuccessURL string
	CancelURL  string
	UserID     string
	PlanID     types.PlanID
	// IdempotencyKey is forwarded to the provider; a random key is used
	// when empty.
	IdempotencyKey string
}

// WebhookVerifier authenticates and decodes provider webhooks.
type WebhookVerifier interface {
	// ConstructEvent validates payload against the signature header and
	// decodes the event envelope. Failures are webhook_signature_invalid
	// AppErrors.
	ConstructEvent(payload []byte, header string) (stripe.Event, error)
}

// Stripe event types the reconciler handles.
const (
	EventStripeCheckoutCompleted = "checkout.session.completed"
	EventStripeSubCreated        = "customer.subscription.created"
	EventStripeSubUpdated        = "customer.subscription.updated"
	EventStripeSubDeleted        = "customer.subscription.deleted"
	EventStripePaymentSucceeded  = "invoice.payment_succeeded"
	EventStripePaymentFailed     = "invoice.payment_failed"
)
