package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"modelpass/internal/billing"
	"modelpass/internal/external"
	"modelpass/internal/types"
)

// =============================================================================
// Mock Implementations
// =============================================================================

type mockBillingService struct {
	ensureCustomerFn        func(ctx context.Context, userID, email string) (string, error)
	createCheckoutSessionFn func(ctx context.Context, p external.CheckoutParams) (*types.CheckoutSession, error)
	createPortalSessionFn   func(ctx context.Context, customerID, returnURL string) (string, error)
	getActiveSubscriptionFn func(ctx context.Context, customerID string) (*types.ProviderSubscription, error)
}

func (m *mockBillingService) EnsureCustomer(ctx context.Context, userID, email string) (string, error) {
	if m.ensureCustomerFn != nil {
		return m.ensureCustomerFn(ctx, userID, email)
	}
	return "cus_test", nil
}

func (m *mockBillingService) CreateCheckoutSession(ctx context.Context, p external.CheckoutParams) (*types.CheckoutSession, error) {
	if m.createCheckoutSessionFn != nil {
		return m.createCheckoutSessionFn(ctx, p)
	}
	return &types.CheckoutSession{ID: "cs_test_123", URL: "https://checkout.stripe.com/c/cs_test_123"}, nil
}

func (m *mockBillingService) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	if m.createPortalSessionFn != nil {
		return m.createPortalSessionFn(ctx, customerID, returnURL)
	}
	return "https://billing.stripe.com/p/session/test", nil
}

func (m *mockBillingService) GetActiveSubscription(ctx context.Context, customerID string) (*types.ProviderSubscription, error) {
	if m.getActiveSubscriptionFn != nil {
		return m.getActiveSubscriptionFn(ctx, customerID)
	}
	return nil, nil
}

type mockCustomerReader struct {
	customerID string
	err        error
}

func (m *mockCustomerReader) GetStripeCustomerID(ctx context.Context, userID string) (string, error) {
	return m.customerID, m.err
}

type mockProfileWriter struct {
	emails map[string]string
	err    error
}

func (m *mockProfileWriter) UpsertEmail(ctx context.Context, userID, email string) error {
	if m.emails == nil {
		m.emails = make(map[string]string)
	}
	m.emails[userID] = email
	return m.err
}

type mockResyncer struct {
	resyncFn func(ctx context.Context, userID string, provider *types.ProviderSubscription) (billing.Outcome, error)
	calls    []*types.ProviderSubscription
}

func (m *mockResyncer) Resync(ctx context.Context, userID string, provider *types.ProviderSubscription) (billing.Outcome, error) {
	m.calls = append(m.calls, provider)
	if m.resyncFn != nil {
		return m.resyncFn(ctx, userID, provider)
	}
	return billing.OutcomeApplied, nil
}

type mockSubscriptionReader struct {
	sub *types.Subscription
	err error
}

func (m *mockSubscriptionReader) GetByUserID(ctx context.Context, userID string) (*types.Subscription, error) {
	return m.sub, m.err
}

type mockUsageReader struct {
	stats *types.UsageStats
	err   error
}

func (m *mockUsageReader) GetByUserID(ctx context.Context, userID string) (*types.UsageStats, error) {
	return m.stats, m.err
}

type mockQuotaConsumer struct {
	consumeFn func(ctx context.Context, userID string, resource types.QuotaResource, delta int64) (*types.UsageStats, error)
}

func (m *mockQuotaConsumer) Consume(ctx context.Context, userID string, resource types.QuotaResource, delta int64) (*types.UsageStats, error) {
	if m.consumeFn != nil {
		return m.consumeFn(ctx, userID, resource, delta)
	}
	return &types.UsageStats{UserID: userID}, nil
}

type mockChangeApplier struct {
	applyFn func(ctx context.Context, change billing.SubscriptionChange) (billing.Outcome, error)
	changes []billing.SubscriptionChange
}

func (m *mockChangeApplier) Apply(ctx context.Context, change billing.SubscriptionChange) (billing.Outcome, error) {
	m.changes = append(m.changes, change)
	if m.applyFn != nil {
		return m.applyFn(ctx, change)
	}
	return billing.OutcomeApplied, nil
}

// Compile-time interface assertions for mocks.
var (
	_ external.BillingService    = (*mockBillingService)(nil)
	_ CustomerReader             = (*mockCustomerReader)(nil)
	_ ProfileWriter              = (*mockProfileWriter)(nil)
	_ SubscriptionResyncer       = (*mockResyncer)(nil)
	_ billing.SubscriptionReader = (*mockSubscriptionReader)(nil)
	_ UsageReader                = (*mockUsageReader)(nil)
	_ QuotaConsumer              = (*mockQuotaConsumer)(nil)
	_ ChangeApplier              = (*mockChangeApplier)(nil)
)

// =============================================================================
// Test Helpers
// =============================================================================

const testUserID = "5f0c2c1e-8d4b-4c39-9a57-3f1f1b2a7c01"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPrices(t *testing.T) *billing.PriceMap {
	t.Helper()
	pm, err := billing.NewPriceMapFromConfig(billing.PriceConfig{
		StarterMonthly:    "price_starter_m",
		StarterYearly:     "price_starter_y",
		ProMonthly:        "price_pro_m",
		ProYearly:         "price_pro_y",
		EnterpriseMonthly: "price_ent_m",
		EnterpriseYearly:  "price_ent_y",
	})
	if err != nil {
		t.Fatalf("price map: %v", err)
	}
	return pm
}

func activeSub(plan types.PlanID) *types.Subscription {
	end := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	return &types.Subscription{
		ID:               "row-1",
		UserID:           testUserID,
		PlanID:           plan,
		Status:           types.SubStatusActive,
		CurrentPeriodEnd: &end,
	}
}

// contextWithActor returns a context carrying an authenticated user.
func contextWithActor() context.Context {
	ctx := types.WithRequestID(context.Background(), "req_test_123")
	return types.WithActor(ctx, types.Actor{UserID: testUserID, Email: "ada@example.com", Role: "authenticated"})
}

// makeRequest creates a request with a JSON body, or none when body is nil.
func makeRequest(method, path string, body any, ctx context.Context) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			_ = json.NewEncoder(&buf).Encode(body)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if ctx != nil {
		req = req.WithContext(ctx)
	}
	return req
}

// withURLParams attaches chi route parameters to req.
func withURLParams(req *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func parseJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse response body: %v\nbody: %s", err, rr.Body.String())
	}
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	parseJSONResponse(t, rr, &body)
	return body.Code
}
