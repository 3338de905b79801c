package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"modelpass/internal/billing"
	"modelpass/internal/external"
	"modelpass/internal/types"
)

type billingFixture struct {
	svc       *mockBillingService
	customers *mockCustomerReader
	profiles  *mockProfileWriter
	resyncer  *mockResyncer
	subs      *mockSubscriptionReader
}

func newBillingFixture() *billingFixture {
	return &billingFixture{
		svc:       &mockBillingService{},
		customers: &mockCustomerReader{},
		profiles:  &mockProfileWriter{},
		resyncer:  &mockResyncer{},
		subs:      &mockSubscriptionReader{},
	}
}

func (f *billingFixture) handler(t *testing.T) *BillingHandler {
	t.Helper()
	return NewBillingHandler(BillingDeps{
		Service:       f.svc,
		Customers:     f.customers,
		Profiles:      f.profiles,
		Prices:        testPrices(t),
		Resyncer:      f.resyncer,
		Subscriptions: f.subs,
		DashboardURL:  "https://app.modelpass.dev/",
		Logger:        discardLogger(),
	})
}

// =============================================================================
// CreateCheckoutSession Tests
// =============================================================================

func TestCreateCheckoutSession_Success(t *testing.T) {
	f := newBillingFixture()
	var captured external.CheckoutParams
	f.svc.createCheckoutSessionFn = func(ctx context.Context, p external.CheckoutParams) (*types.CheckoutSession, error) {
		captured = p
		return &types.CheckoutSession{ID: "cs_abc", URL: "https://checkout.stripe.com/c/cs_abc"}, nil
	}
	h := f.handler(t)

	req := makeRequest(http.MethodPost, "/v1/billing/checkout-session", CheckoutRequest{PriceID: "price_pro_y"}, contextWithActor())
	req.Header.Set("Idempotency-Key", "idem-1")
	rr := httptest.NewRecorder()
	h.CreateCheckoutSession(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp CheckoutResponse
	parseJSONResponse(t, rr, &resp)
	if resp.ID != "cs_abc" || resp.URL != "https://checkout.stripe.com/c/cs_abc" {
		t.Errorf("unexpected response %+v", resp)
	}

	if captured.PlanID != types.PlanPro {
		t.Errorf("expected plan Pro, got %v", captured.PlanID)
	}
	if captured.CustomerID != "cus_test" {
		t.Errorf("expected customer cus_test, got %q", captured.CustomerID)
	}
	if captured.UserID != testUserID {
		t.Errorf("expected user %q, got %q", testUserID, captured.UserID)
	}
	if captured.IdempotencyKey != "idem-1" {
		t.Errorf("expected idempotency key to be forwarded, got %q", captured.IdempotencyKey)
	}
	if captured.SuccessURL != "https://app.modelpass.dev/billing?checkout=success" {
		t.Errorf("unexpected success URL %q", captured.SuccessURL)
	}
	if captured.CancelURL != "https://app.modelpass.dev/billing?checkout=canceled" {
		t.Errorf("unexpected cancel URL %q", captured.CancelURL)
	}
	if f.profiles.emails[testUserID] != "ada@example.com" {
		t.Errorf("expected profile email to be recorded, got %v", f.profiles.emails)
	}
}

func TestCreateCheckoutSession_CustomRedirects(t *testing.T) {
	f := newBillingFixture()
	var captured external.CheckoutParams
	f.svc.createCheckoutSessionFn = func(ctx context.Context, p external.CheckoutParams) (*types.CheckoutSession, error) {
		captured = p
		return &types.CheckoutSession{ID: "cs_1", URL: "https://checkout.stripe.com/c/cs_1"}, nil
	}
	h := f.handler(t)

	body := CheckoutRequest{
		PriceID:    "price_starter_m",
		CustomerID: "cus_test",
		SuccessURL: "https://app.modelpass.dev/welcome",
		CancelURL:  "https://app.modelpass.dev/pricing",
	}
	rr := httptest.NewRecorder()
	h.CreateCheckoutSession(rr, makeRequest(http.MethodPost, "/v1/billing/checkout-session", body, contextWithActor()))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.SuccessURL != body.SuccessURL || captured.CancelURL != body.CancelURL {
		t.Errorf("expected caller redirects, got %q / %q", captured.SuccessURL, captured.CancelURL)
	}
	if captured.PlanID != types.PlanStarter {
		t.Errorf("expected plan Starter, got %v", captured.PlanID)
	}
}

func TestCreateCheckoutSession_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		body any
		code types.ErrorCode
	}{
		{"missing price", CheckoutRequest{}, types.ErrCodeValidationMissingField},
		{"unknown price", CheckoutRequest{PriceID: "price_nope"}, types.ErrCodeValidationPrice},
		{"malformed success url", CheckoutRequest{PriceID: "price_pro_m", SuccessURL: "not a url"}, types.ErrCodeValidationInvalidURL},
		{"foreign redirect", CheckoutRequest{PriceID: "price_pro_m", CancelURL: "https://evil.example.com/x"}, types.ErrCodeValidationInvalidURL},
		{"customer mismatch", CheckoutRequest{PriceID: "price_pro_m", CustomerID: "cus_other"}, types.ErrCodeValidationInvalidInput},
		{"invalid json", `{"priceId":`, "validation_invalid_json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBillingFixture()
			called := false
			f.svc.createCheckoutSessionFn = func(ctx context.Context, p external.CheckoutParams) (*types.CheckoutSession, error) {
				called = true
				return &types.CheckoutSession{}, nil
			}
			h := f.handler(t)

			rr := httptest.NewRecorder()
			h.CreateCheckoutSession(rr, makeRequest(http.MethodPost, "/v1/billing/checkout-session", tt.body, contextWithActor()))

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
			}
			if got := errorCode(t, rr); got != string(tt.code) {
				t.Errorf("expected code %q, got %q", tt.code, got)
			}
			if called {
				t.Error("provider must not be called for invalid requests")
			}
		})
	}
}

func TestCreateCheckoutSession_ProviderFailureIs500(t *testing.T) {
	f := newBillingFixture()
	f.svc.createCheckoutSessionFn = func(ctx context.Context, p external.CheckoutParams) (*types.CheckoutSession, error) {
		return nil, types.NewAppError(types.ErrCodeUpstreamStripe, "Stripe unavailable", nil)
	}
	h := f.handler(t)

	rr := httptest.NewRecorder()
	h.CreateCheckoutSession(rr, makeRequest(http.MethodPost, "/v1/billing/checkout-session", CheckoutRequest{PriceID: "price_pro_m"}, contextWithActor()))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		Error     string `json:"error"`
		Code      string `json:"code"`
		RequestID string `json:"request_id"`
	}
	parseJSONResponse(t, rr, &body)
	if body.Code != string(types.ErrCodeUpstreamStripe) || body.Error != "Stripe unavailable" {
		t.Errorf("unexpected error body %+v", body)
	}
	if body.RequestID != "req_test_123" {
		t.Errorf("expected request id in error body, got %q", body.RequestID)
	}
}

func TestCreateCheckoutSession_EnsureCustomerFailure(t *testing.T) {
	f := newBillingFixture()
	f.svc.ensureCustomerFn = func(ctx context.Context, userID, email string) (string, error) {
		return "", types.NewAppError(types.ErrCodeUpstreamTimeout, "Stripe timed out", nil)
	}
	h := f.handler(t)

	rr := httptest.NewRecorder()
	h.CreateCheckoutSession(rr, makeRequest(http.MethodPost, "/v1/billing/checkout-session", CheckoutRequest{PriceID: "price_pro_m"}, contextWithActor()))

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCreateCheckoutSession_NoActor(t *testing.T) {
	h := newBillingFixture().handler(t)

	rr := httptest.NewRecorder()
	h.CreateCheckoutSession(rr, makeRequest(http.MethodPost, "/v1/billing/checkout-session", CheckoutRequest{PriceID: "price_pro_m"}, context.Background()))

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rr.Code)
	}
}

// =============================================================================
// CreatePortalSession Tests
// =============================================================================

func TestCreatePortalSession(t *testing.T) {
	tests := []struct {
		name       string
		body       any
		wantReturn string
	}{
		{"no body uses dashboard", nil, "https://app.modelpass.dev/billing"},
		{"explicit return url", PortalRequest{ReturnURL: "https://app.modelpass.dev/settings"}, "https://app.modelpass.dev/settings"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBillingFixture()
			var gotCustomer, gotReturn string
			f.svc.createPortalSessionFn = func(ctx context.Context, customerID, returnURL string) (string, error) {
				gotCustomer, gotReturn = customerID, returnURL
				return "https://billing.stripe.com/p/session/abc", nil
			}
			h := f.handler(t)

			rr := httptest.NewRecorder()
			h.CreatePortalSession(rr, makeRequest(http.MethodPost, "/v1/billing/portal-session", tt.body, contextWithActor()))

			if rr.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
			}
			var resp PortalResponse
			parseJSONResponse(t, rr, &resp)
			if resp.URL != "https://billing.stripe.com/p/session/abc" {
				t.Errorf("unexpected url %q", resp.URL)
			}
			if gotCustomer != "cus_test" {
				t.Errorf("expected customer cus_test, got %q", gotCustomer)
			}
			if gotReturn != tt.wantReturn {
				t.Errorf("expected return url %q, got %q", tt.wantReturn, gotReturn)
			}
		})
	}
}

func TestCreatePortalSession_ProviderFailure(t *testing.T) {
	f := newBillingFixture()
	f.svc.createPortalSessionFn = func(ctx context.Context, customerID, returnURL string) (string, error) {
		return "", types.NewAppError(types.ErrCodeUpstreamRateLimited, "rate limited", nil)
	}
	h := f.handler(t)

	rr := httptest.NewRecorder()
	h.CreatePortalSession(rr, makeRequest(http.MethodPost, "/v1/billing/portal-session", nil, contextWithActor()))

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", rr.Code)
	}
}

// =============================================================================
// Reconcile Tests
// =============================================================================

func TestReconcile_NoCustomerCancels(t *testing.T) {
	f := newBillingFixture()
	f.svc.getActiveSubscriptionFn = func(ctx context.Context, customerID string) (*types.ProviderSubscription, error) {
		t.Error("provider must not be queried without a customer")
		return nil, nil
	}
	f.subs.sub = &types.Subscription{UserID: testUserID, PlanID: types.PlanFree, Status: types.SubStatusCanceled}
	h := f.handler(t)

	rr := httptest.NewRecorder()
	h.Reconcile(rr, makeRequest(http.MethodPost, "/v1/billing/reconcile", nil, contextWithActor()))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(f.resyncer.calls) != 1 || f.resyncer.calls[0] != nil {
		t.Fatalf("expected one resync with no provider subscription, got %v", f.resyncer.calls)
	}
	var resp ReconcileResponse
	parseJSONResponse(t, rr, &resp)
	if resp.PlanID != types.PlanFree || resp.Status != "canceled" || resp.Outcome != billing.OutcomeApplied {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestReconcile_UsesProviderSubscription(t *testing.T) {
	f := newBillingFixture()
	f.customers.customerID = "cus_42"
	provider := &types.ProviderSubscription{ID: "sub_1", CustomerID: "cus_42", Status: types.SubStatusActive, PriceID: "price_pro_m"}
	f.svc.getActiveSubscriptionFn = func(ctx context.Context, customerID string) (*types.ProviderSubscription, error) {
		if customerID != "cus_42" {
			t.Errorf("expected customer cus_42, got %q", customerID)
		}
		return provider, nil
	}
	f.subs.sub = activeSub(types.PlanPro)
	h := f.handler(t)

	rr := httptest.NewRecorder()
	h.Reconcile(rr, makeRequest(http.MethodPost, "/v1/billing/reconcile", nil, contextWithActor()))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(f.resyncer.calls) != 1 || f.resyncer.calls[0] != provider {
		t.Fatalf("expected resync with provider subscription")
	}
	var resp ReconcileResponse
	parseJSONResponse(t, rr, &resp)
	if resp.PlanID != types.PlanPro || resp.Status != "active" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestReconcile_Errors(t *testing.T) {
	t.Run("provider failure", func(t *testing.T) {
		f := newBillingFixture()
		f.customers.customerID = "cus_42"
		f.svc.getActiveSubscriptionFn = func(ctx context.Context, customerID string) (*types.ProviderSubscription, error) {
			return nil, types.NewAppError(types.ErrCodeUpstreamStripe, "down", nil)
		}
		h := f.handler(t)

		rr := httptest.NewRecorder()
		h.Reconcile(rr, makeRequest(http.MethodPost, "/v1/billing/reconcile", nil, contextWithActor()))
		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
		if len(f.resyncer.calls) != 0 {
			t.Error("resync must not run after a provider failure")
		}
	})

	t.Run("rejected transition", func(t *testing.T) {
		f := newBillingFixture()
		f.resyncer.resyncFn = func(ctx context.Context, userID string, provider *types.ProviderSubscription) (billing.Outcome, error) {
			return billing.OutcomeRejected, types.NewAppError(types.ErrCodeConflictTransition, "bad move", nil)
		}
		h := f.handler(t)

		rr := httptest.NewRecorder()
		h.Reconcile(rr, makeRequest(http.MethodPost, "/v1/billing/reconcile", nil, contextWithActor()))
		if rr.Code != http.StatusConflict {
			t.Errorf("expected status 409, got %d", rr.Code)
		}
	})
}

func TestBillingRegisterRoutes(t *testing.T) {
	h := newBillingFixture().handler(t)
	r := chi.NewRouter()
	h.RegisterRoutes(r)

	for _, path := range []string{"/billing/checkout-session", "/billing/portal-session", "/billing/reconcile"} {
		rctx := chi.NewRouteContext()
		if !r.Match(rctx, http.MethodPost, path) {
			t.Errorf("expected POST %s to be mounted", path)
		}
	}
}
