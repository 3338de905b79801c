package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v82"
	"golang.org/x/sync/singleflight"

	"modelpass/internal/types"
)

// stripeAPIBase is the default Stripe API base URL.
const stripeAPIBase = "https://api.stripe.com"

// CustomerStore persists the user -> Stripe customer link.
type CustomerStore interface {
	// GetStripeCustomerID returns "" when the user has no linked customer.
	GetStripeCustomerID(ctx context.Context, userID string) (string, error)
	SetStripeCustomerID(ctx context.Context, userID, customerID string) error
}

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey types.SecretString
	BaseURL   string // defaults to stripeAPIBase
	UserAgent string // defaults to "ModelPass/dev"
	Timeout   time.Duration
	Logger    *slog.Logger
}

// StripeClient implements BillingService with direct HTTP calls to the Stripe
// REST API through BaseClient.
type StripeClient struct {
	base      *BaseClient
	secretKey types.SecretString
	baseURL   string
	customers CustomerStore
	logger    *slog.Logger
	inflight  singleflight.Group
}

var _ BillingService = (*StripeClient)(nil)

// NewStripeClient creates a StripeClient. cfg.Timeout bounds every attempt;
// timed-out attempts are retried.
func NewStripeClient(httpClient *http.Client, customers CustomerStore, cfg StripeClientConfig) *StripeClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "ModelPass/dev"
	}
	base := NewBaseClient(
		httpClient,
		"stripe",
		RetryPolicy{
			MaxRetries:     2,
			MinWait:        500 * time.Millisecond,
			MaxWait:        5 * time.Second,
			AttemptTimeout: timeout,
		},
		userAgent,
	)
	return NewStripeClientWithBase(base, customers, cfg)
}

// NewStripeClientWithBase creates a StripeClient with a pre-configured
// BaseClient.
func NewStripeClientWithBase(base *BaseClient, customers CustomerStore, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		customers: customers,
		logger:    logger,
	}
}

// EnsureCustomer returns the user's Stripe customer, creating it if needed.
//  1. Use the stored customer ID if present.
//  2. Otherwise look the customer up by email.
//  3. Otherwise create one, with an idempotency key derived from the user.
//  4. Persist the link.
//
// Concurrent calls for the same user share one execution.
func (s *StripeClient) EnsureCustomer(ctx context.Context, userID, email string) (string, error) {
	v, err, _ := s.inflight.Do(userID, func() (any, error) {
		return s.ensureCustomer(ctx, userID, email)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *StripeClient) ensureCustomer(ctx context.Context, userID, email string) (string, error) {
	existing, err := s.customers.GetStripeCustomerID(ctx, userID)
	if err != nil {
		return "", err
	}
	if existing != "" {
		return existing, nil
	}

	customerID := ""
	if email != "" {
		params := url.Values{}
		params.Set("email", email)
		params.Set("limit", "1")

		var list stripeList[stripeCustomer]
		if err := s.getJSON(ctx, "EnsureCustomer.search", "/v1/customers", params, &list); err != nil {
			return "", err
		}
		if len(list.Data) > 0 {
			customerID = list.Data[0].ID
		}
	}

	if customerID == "" {
		params := url.Values{}
		if email != "" {
			params.Set("email", email)
		}
		params.Set("metadata[user_id]", userID)

		var customer stripeCustomer
		if err := s.postJSON(ctx, "EnsureCustomer.create", "/v1/customers", params, "customer-"+userID, &customer); err != nil {
			return "", err
		}
		customerID = customer.ID
	}

	if err := s.customers.SetStripeCustomerID(ctx, userID, customerID); err != nil {
		return "", err
	}
	s.logger.InfoContext(ctx, "linked stripe customer", "user_id", userID, "customer_id", customerID)
	return customerID, nil
}

// CreateCheckoutSession creates a subscription-mode Checkout Session. The
// user ID travels as client_reference_id and metadata so webhooks can be
// correlated without a customer lookup.
func (s *StripeClient) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*types.CheckoutSession, error) {
	params := url.Values{}
	params.Set("mode", "subscription")
	params.Set("customer", p.CustomerID)
	params.Set("success_url", p.SuccessURL)
	params.Set("cancel_url", p.CancelURL)
	params.Set("line_items[0][price]", p.PriceID)
	params.Set("line_items[0][quantity]", "1")
	if p.UserID != "" {
		params.Set("client_reference_id", p.UserID)
		params.Set("metadata[user_id]", p.UserID)
		params.Set("subscription_data[metadata][user_id]", p.UserID)
	}
	if p.PlanID.Valid() {
		params.Set("metadata[plan_id]", p.PlanID.String())
	}

	key := p.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}

	var session stripeCheckoutSession
	if err := s.postJSON(ctx, "CreateCheckoutSession", "/v1/checkout/sessions", params, key, &session); err != nil {
		return nil, err
	}
	return &types.CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

// CreatePortalSession creates a Billing Portal session and returns its URL.
func (s *StripeClient) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("return_url", returnURL)

	var session stripePortalSession
	if err := s.postJSON(ctx, "CreatePortalSession", "/v1/billing_portal/sessions", params, uuid.NewString(), &session); err != nil {
		return "", err
	}
	return session.URL, nil
}

// GetActiveSubscription returns the customer's live subscription, or nil when
// every subscription is canceled or expired.
func (s *StripeClient) GetActiveSubscription(ctx context.Context, customerID string) (*types.ProviderSubscription, error) {
	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("status", "all")
	params.Set("limit", "10")

	var list stripeList[StripeSubscription]
	if err := s.getJSON(ctx, "GetActiveSubscription", "/v1/subscriptions", params, &list); err != nil {
		return nil, err
	}
	for i := range list.Data {
		sub := &list.Data[i]
		switch types.SubscriptionStatus(sub.Status) {
		case types.SubStatusCanceled, types.SubStatusIncompleteExpired:
			continue
		}
		return sub.ToProvider(), nil
	}
	return nil, nil
}

// ---------------------------------------------------------------------------
// HTTP Helpers
// ---------------------------------------------------------------------------

func (s *StripeClient) getJSON(ctx context.Context, op, path string, params url.Values, out any) error {
	reqURL := s.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, op+": failed to build request", err)
	}
	s.setAuthHeaders(req)
	return s.send(req, op, out)
}

func (s *StripeClient) postJSON(ctx context.Context, op, path string, params url.Values, idempotencyKey string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, op+": failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	s.setAuthHeaders(req)
	return s.send(req, op, out)
}

func (s *StripeClient) send(req *http.Request, op string, out any) error {
	resp, err := s.base.Do(req)
	if err != nil {
		return s.wrapStripeError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return s.handleErrorResponse(resp, op)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: failed to decode Stripe response", op),
			err,
		)
	}
	return nil
}

func (s *StripeClient) setAuthHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.secretKey.Unmask())
	req.Header.Set("Stripe-Version", stripe.APIVersion)
}

// ---------------------------------------------------------------------------
// Error Handling
// ---------------------------------------------------------------------------

type stripeErrorResponse struct {
	Error stripeErrorBody `json:"error"`
}

type stripeErrorBody struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
	Param       string `json:"param"`
}

func (s *StripeClient) handleErrorResponse(resp *http.Response, op string) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d and response body was unreadable", op, resp.StatusCode),
			readErr,
		)
	}

	var stripeErr stripeErrorResponse
	if jsonErr := json.Unmarshal(body, &stripeErr); jsonErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d with non-JSON body", op, resp.StatusCode),
			jsonErr,
		)
	}
	return mapStripeError(op, resp.StatusCode, &stripeErr.Error)
}

func mapStripeError(op string, statusCode int, stripeErr *stripeErrorBody) error {
	if stripeErr.Code == "card_declined" || stripeErr.DeclineCode != "" {
		return types.NewAppErrorWithDetails(
			types.ErrCodePaymentDeclined,
			fmt.Sprintf("%s: payment declined: %s", op, stripeErr.Message),
			nil,
			map[string]any{
				"decline_code": stripeErr.DeclineCode,
				"stripe_code":  stripeErr.Code,
			},
		)
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, op+": Stripe rate limit exceeded", nil)
	case statusCode >= 500:
		return types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("%s: Stripe server error: %s", op, stripeErr.Message),
			nil,
		)
	case statusCode == http.StatusNotFound && stripeErr.Param == "customer":
		return types.NewAppError(
			types.ErrCodeNotFoundCustomer,
			fmt.Sprintf("%s: Stripe customer not found: %s", op, stripeErr.Message),
			nil,
		)
	case statusCode == http.StatusBadRequest && stripeErr.Param != "":
		return types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe rejected %s: %s", op, stripeErr.Param, stripeErr.Message),
			nil,
			map[string]any{"param": stripeErr.Param},
		)
	default:
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe error (%d): %s", op, statusCode, stripeErr.Message),
			nil,
		)
	}
}

// wrapStripeError keeps BaseClient AppErrors and wraps anything else.
func (s *StripeClient) wrapStripeError(op string, err error) error {
	if types.CodeOf(err) != "" {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamStripe,
		fmt.Sprintf("%s: Stripe request failed: %v", op, err),
		err,
	)
}

// ---------------------------------------------------------------------------
// Stripe Response Types
// ---------------------------------------------------------------------------

type stripeList[T any] struct {
	Data    []T  `json:"data"`
	HasMore bool `json:"has_more"`
}

type stripeCustomer struct {
	ID       string            `json:"id"`
	Email    string            `json:"email"`
	Metadata map[string]string `json:"metadata"`
}

type stripeCheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type stripePortalSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// StripeSubscription is the subset of the Stripe subscription object the
// service reads. Recent API versions report billing periods on the items;
// older ones on the subscription itself. Both are decoded.
type StripeSubscription struct {
	ID                 string                  `json:"id"`
	Customer           string                  `json:"customer"`
	Status             string                  `json:"status"`
	CancelAtPeriodEnd  bool                    `json:"cancel_at_period_end"`
	CanceledAt         int64                   `json:"canceled_at"`
	CurrentPeriodStart int64                   `json:"current_period_start"`
	CurrentPeriodEnd   int64                   `json:"current_period_end"`
	Metadata           map[string]string       `json:"metadata"`
	Items              stripeSubscriptionItems `json:"items"`
}

type stripeSubscriptionItems struct {
	Data []stripeSubscriptionItem `json:"data"`
}

type stripeSubscriptionItem struct {
	Price              stripePrice `json:"price"`
	CurrentPeriodStart int64       `json:"current_period_start"`
	CurrentPeriodEnd   int64       `json:"current_period_end"`
}

type stripePrice struct {
	ID string `json:"id"`
}

// PriceID returns the first item's price.
func (s *StripeSubscription) PriceID() string {
	if len(s.Items.Data) > 0 {
		return s.Items.Data[0].Price.ID
	}
	return ""
}

// PeriodStart returns the current period start, preferring the top-level
// field and falling back to the first item.
func (s *StripeSubscription) PeriodStart() *time.Time {
	if s.CurrentPeriodStart > 0 {
		return unixPtr(s.CurrentPeriodStart)
	}
	if len(s.Items.Data) > 0 {
		return unixPtr(s.Items.Data[0].CurrentPeriodStart)
	}
	return nil
}

// PeriodEnd returns the current period end, preferring the top-level field
// and falling back to the first item.
func (s *StripeSubscription) PeriodEnd() *time.Time {
	if s.CurrentPeriodEnd > 0 {
		return unixPtr(s.CurrentPeriodEnd)
	}
	if len(s.Items.Data) > 0 {
		return unixPtr(s.Items.Data[0].CurrentPeriodEnd)
	}
	return nil
}

// ToProvider converts the Stripe object into the provider-neutral view.
func (s *StripeSubscription) ToProvider() *types.ProviderSubscription {
	return &types.ProviderSubscription{
		ID:                 s.ID,
		CustomerID:         s.Customer,
		Status:             types.SubscriptionStatus(s.Status),
		PriceID:            s.PriceID(),
		CurrentPeriodStart: s.PeriodStart(),
		CurrentPeriodEnd:   s.PeriodEnd(),
		CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
		CanceledAt:         unixPtr(s.CanceledAt),
	}
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
