package external

import (
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"modelpass/internal/types"
)

// StripeVerifier implements WebhookVerifier with stripe-go's HMAC-SHA256
// signature check and timestamp tolerance.
type StripeVerifier struct {
	secret    types.SecretString
	tolerance time.Duration
}

var _ WebhookVerifier = (*StripeVerifier)(nil)

// NewStripeVerifier creates a verifier. A non-positive tolerance uses
// webhook.DefaultTolerance.
func NewStripeVerifier(secret types.SecretString, tolerance time.Duration) *StripeVerifier {
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &StripeVerifier{secret: secret, tolerance: tolerance}
}

// ConstructEvent verifies the Stripe-Signature header and decodes the event.
// API version mismatches are tolerated; only the fields the reconciler reads
// are decoded downstream.
func (v *StripeVerifier) ConstructEvent(payload []byte, header string) (stripe.Event, error) {
	if header == "" {
		return stripe.Event{}, types.NewAppError(types.ErrCodeWebhookSignature, "missing Stripe-Signature header", webhook.ErrNotSigned)
	}
	event, err := webhook.ConstructEventWithOptions(payload, header, v.secret.Unmask(), webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, types.NewAppError(types.ErrCodeWebhookSignature, err.Error(), err)
	}
	return event, nil
}
