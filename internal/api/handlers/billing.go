// Package handlers contains the HTTP handlers of the ModelPass API.
//
// This file covers the billing actions a signed-in user starts: hosted
// checkout, the self-service portal and an on-demand resync of the local
// subscription from the payment provider.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"modelpass/internal/billing"
	"modelpass/internal/core"
	"modelpass/internal/external"
	"modelpass/internal/types"
)

// CustomerReader looks up the provider customer linked to a user.
type CustomerReader interface {
	// GetStripeCustomerID returns "" when the user has no customer yet.
	GetStripeCustomerID(ctx context.Context, userID string) (string, error)
}

// ProfileWriter records identity attributes the billing flow needs.
type ProfileWriter interface {
	UpsertEmail(ctx context.Context, userID, email string) error
}

// SubscriptionResyncer overwrites local state with the provider's view.
type SubscriptionResyncer interface {
	Resync(ctx context.Context, userID string, provider *types.ProviderSubscription) (billing.Outcome, error)
}

// CheckoutRequest is the body of POST /v1/billing/checkout-session. The
// redirect URLs are optional and default to the dashboard.
type CheckoutRequest struct {
	PriceID    string `json:"priceId" validate:"required"`
	CustomerID string `json:"customerId,omitempty"`
	SuccessURL string `json:"successUrl,omitempty" validate:"omitempty,url"`
	CancelURL  string `json:"cancelUrl,omitempty" validate:"omitempty,url"`
}

// CheckoutResponse is the answer to a checkout request.
type CheckoutResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// PortalRequest is the body of POST /v1/billing/portal-session.
type PortalRequest struct {
	ReturnURL string `json:"returnUrl,omitempty" validate:"omitempty,url"`
}

// PortalResponse is the answer to a portal request.
type PortalResponse struct {
	URL string `json:"url"`
}

// ReconcileResponse reports the result of a provider resync.
type ReconcileResponse struct {
	Outcome billing.Outcome `json:"outcome"`
	PlanID  types.PlanID    `json:"planId"`
	Status  string          `json:"status"`
}

// BillingHandler handles synchronous billing actions initiated by the user.
type BillingHandler struct {
	service      external.BillingService
	customers    CustomerReader
	profiles     ProfileWriter
	prices       billing.PriceResolver
	resyncer     SubscriptionResyncer
	subs         billing.SubscriptionReader
	validator    *core.Validator
	dashboardURL string
	logger       *slog.Logger
}

// BillingDeps groups the BillingHandler collaborators.
type BillingDeps struct {
	Service       external.BillingService
	Customers     CustomerReader
	Profiles      ProfileWriter
	Prices        billing.PriceResolver
	Resyncer      SubscriptionResyncer
	Subscriptions billing.SubscriptionReader
	Validator     *core.Validator
	DashboardURL  string
	Logger        *slog.Logger
}

// NewBillingHandler creates a BillingHandler.
func NewBillingHandler(d BillingDeps) *BillingHandler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Validator == nil {
		d.Validator = core.NewValidator(d.Logger)
	}
	return &BillingHandler{
		service:      d.Service,
		customers:    d.Customers,
		profiles:     d.Profiles,
		prices:       d.Prices,
		resyncer:     d.Resyncer,
		subs:         d.Subscriptions,
		validator:    d.Validator,
		dashboardURL: strings.TrimRight(d.DashboardURL, "/"),
		logger:       d.Logger,
	}
}

// RegisterRoutes mounts the billing endpoints. They require authentication.
func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	r.Post("/billing/checkout-session", h.CreateCheckoutSession)
	r.Post("/billing/portal-session", h.CreatePortalSession)
	r.Post("/billing/reconcile", h.Reconcile)
}

// CreateCheckoutSession handles POST /v1/billing/checkout-session.
//
//  1. Validate the body and resolve priceId to a paid plan (400 otherwise).
//  2. Ensure the caller has a provider customer; a customerId in the body
//     must match it.
//  3. Create the hosted checkout, forwarding Idempotency-Key.
//
// Provider failures are 500 responses carrying the upstream error code.
func (h *BillingHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := core.RequireActor(w, r)
	if !ok {
		return
	}

	var req CheckoutRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	plan, cycle, ok := h.prices.ResolvePrice(req.PriceID)
	if !ok || plan == types.PlanFree {
		core.Error(w, r, types.NewAppErrorWithDetails(
			types.ErrCodeValidationPrice,
			"priceId does not belong to a paid plan",
			nil,
			map[string]any{"priceId": req.PriceID},
		))
		return
	}

	successURL, err := h.redirectURL(req.SuccessURL, "/billing?checkout=success")
	if err != nil {
		core.Error(w, r, err)
		return
	}
	cancelURL, err := h.redirectURL(req.CancelURL, "/billing?checkout=canceled")
	if err != nil {
		core.Error(w, r, err)
		return
	}

	customerID, ok := h.ensureCustomer(w, r, actor)
	if !ok {
		return
	}
	if req.CustomerID != "" && req.CustomerID != customerID {
		h.logger.WarnContext(r.Context(), "checkout customer mismatch",
			"user_id", actor.UserID,
			"customer_id", req.CustomerID,
		)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidInput,
			"customerId does not belong to the caller",
			nil,
		))
		return
	}

	session, err := h.service.CreateCheckoutSession(r.Context(), external.CheckoutParams{
		PriceID:        req.PriceID,
		CustomerID:     customerID,
		SuccessURL:     successURL,
		CancelURL:      cancelURL,
		UserID:         actor.UserID,
		PlanID:         plan,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to create checkout session",
			"user_id", actor.UserID,
			"plan_id", plan.String(),
			"error", err,
		)
		providerError(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "checkout session created",
		"user_id", actor.UserID,
		"session_id", session.ID,
		"plan_id", plan.String(),
		"cycle", string(cycle),
	)
	core.JSON(w, r, http.StatusOK, CheckoutResponse{ID: session.ID, URL: session.URL})
}

// CreatePortalSession handles POST /v1/billing/portal-session. The body is
// optional.
func (h *BillingHandler) CreatePortalSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := core.RequireActor(w, r)
	if !ok {
		return
	}

	var req PortalRequest
	if r.ContentLength != 0 {
		if err := core.DecodeJSON(w, r, &req); err != nil {
			core.Error(w, r, err)
			return
		}
		if err := h.validator.ValidateStruct(req); err != nil {
			core.Error(w, r, err)
			return
		}
	}

	returnURL, err := h.redirectURL(req.ReturnURL, "/billing")
	if err != nil {
		core.Error(w, r, err)
		return
	}

	customerID, ok := h.ensureCustomer(w, r, actor)
	if !ok {
		return
	}

	portalURL, err := h.service.CreatePortalSession(r.Context(), customerID, returnURL)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to create portal session",
			"user_id", actor.UserID,
			"error", err,
		)
		providerError(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, PortalResponse{URL: portalURL})
}

// Reconcile handles POST /v1/billing/reconcile. It fetches the caller's live
// provider subscription and overwrites local state with it; without one the
// caller is moved to canceled on the Free plan.
func (h *BillingHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	actor, ok := core.RequireActor(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	customerID, err := h.customers.GetStripeCustomerID(ctx, actor.UserID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var provider *types.ProviderSubscription
	if customerID != "" {
		provider, err = h.service.GetActiveSubscription(ctx, customerID)
		if err != nil {
			h.logger.ErrorContext(ctx, "failed to fetch provider subscription",
				"user_id", actor.UserID,
				"customer_id", customerID,
				"error", err,
			)
			providerError(w, r, err)
			return
		}
	}

	outcome, err := h.resyncer.Resync(ctx, actor.UserID, provider)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	sub, err := h.subs.GetByUserID(ctx, actor.UserID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	resp := ReconcileResponse{Outcome: outcome, PlanID: billing.EffectivePlan(sub), Status: subscriptionStatusNone}
	if sub != nil {
		resp.Status = string(sub.Status)
	}

	h.logger.InfoContext(ctx, "subscription resynced",
		"user_id", actor.UserID,
		"outcome", string(outcome),
		"plan_id", resp.PlanID.String(),
	)
	core.JSON(w, r, http.StatusOK, resp)
}

// ensureCustomer records the caller's email and returns their provider
// customer, writing the error response itself on failure.
func (h *BillingHandler) ensureCustomer(w http.ResponseWriter, r *http.Request, actor types.Actor) (string, bool) {
	if actor.Email != "" && h.profiles != nil {
		if err := h.profiles.UpsertEmail(r.Context(), actor.UserID, actor.Email); err != nil {
			h.logger.WarnContext(r.Context(), "failed to record profile email",
				"user_id", actor.UserID,
				"error", err,
			)
		}
	}

	customerID, err := h.service.EnsureCustomer(r.Context(), actor.UserID, actor.Email)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to ensure billing customer",
			"user_id", actor.UserID,
			"error", err,
		)
		providerError(w, r, err)
		return "", false
	}
	return customerID, true
}

// redirectURL returns raw when it points at the dashboard origin, the
// dashboard URL plus fallbackPath when raw is empty, and a
// validation_invalid_url error otherwise.
func (h *BillingHandler) redirectURL(raw, fallbackPath string) (string, error) {
	if raw == "" {
		return h.dashboardURL + fallbackPath, nil
	}
	if h.dashboardURL == "" || sameOrigin(raw, h.dashboardURL) {
		return raw, nil
	}
	return "", types.NewAppErrorWithDetails(
		types.ErrCodeValidationInvalidURL,
		"redirect URLs must point at the dashboard",
		nil,
		map[string]any{"url": raw},
	)
}

func sameOrigin(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return strings.EqualFold(ua.Scheme, ub.Scheme) && strings.EqualFold(ua.Host, ub.Host)
}

// providerError renders payment provider failures as 500 while keeping the
// upstream error code in the body. Other errors use their normal status.
func providerError(w http.ResponseWriter, r *http.Request, err error) {
	code := types.CodeOf(err)
	if strings.HasPrefix(string(code), "upstream_") || code == types.ErrCodePaymentDeclined {
		core.ErrorWithStatus(w, r, http.StatusInternalServerError, err)
		return
	}
	core.Error(w, r, err)
}
