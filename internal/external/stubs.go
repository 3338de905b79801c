package external

import (
	"context"
	"log/slog"

	"modelpass/internal/types"
)

// StubBillingService implements BillingService by logging calls and returning
// predictable values. Used in local mode without Stripe credentials.
type StubBillingService struct {
	customers CustomerStore
	logger    *slog.Logger
}

var _ BillingService = (*StubBillingService)(nil)

// NewStubBillingService creates a StubBillingService. customers may be nil.
func NewStubBillingService(customers CustomerStore, logger *slog.Logger) *StubBillingService {
	return &StubBillingService{customers: customers, logger: logger}
}

func (s *StubBillingService) EnsureCustomer(ctx context.Context, userID, email string) (string, error) {
	s.logger.InfoContext(ctx, "stub: EnsureCustomer called", "user_id", userID, "email", email)
	customerID := "cus_stub_" + userID
	if s.customers != nil {
		if err := s.customers.SetStripeCustomerID(ctx, userID, customerID); err != nil {
			return "", err
		}
	}
	return customerID, nil
}

func (s *StubBillingService) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*types.CheckoutSession, error) {
	s.logger.InfoContext(ctx, "stub: CreateCheckoutSession called", "user_id", p.UserID, "price_id", p.PriceID)
	return &types.CheckoutSession{
		ID:  "cs_stub_" + p.UserID,
		URL: p.SuccessURL,
	}, nil
}

func (s *StubBillingService) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	s.logger.InfoContext(ctx, "stub: CreatePortalSession called", "customer_id", customerID)
	return returnURL, nil
}

func (s *StubBillingService) GetActiveSubscription(ctx context.Context, customerID string) (*types.ProviderSubscription, error) {
	s.logger.InfoContext(ctx, "stub: GetActiveSubscription called", "customer_id", customerID)
	return nil, nil
}
