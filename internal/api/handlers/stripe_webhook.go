package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	stripe "github.com/stripe/stripe-go/v82"

	"modelpass/internal/billing"
	"modelpass/internal/core"
	"modelpass/internal/external"
	"modelpass/internal/types"
)

// maxWebhookBodySize caps Stripe webhook payloads (64 KB).
const maxWebhookBodySize = 64 * 1024

// ChangeApplier reconciles one provider-neutral subscription change.
type ChangeApplier interface {
	Apply(ctx context.Context, change billing.SubscriptionChange) (billing.Outcome, error)
}

// WebhookResponse acknowledges a verified webhook.
type WebhookResponse struct {
	Success bool `json:"success"`
}

// StripeWebhookHandler handles asynchronous events from Stripe. It is not
// behind bearer auth; the Stripe-Signature header authenticates the caller.
type StripeWebhookHandler struct {
	verifier   external.WebhookVerifier
	reconciler ChangeApplier
	logger     *slog.Logger
}

// NewStripeWebhookHandler creates a StripeWebhookHandler.
func NewStripeWebhookHandler(verifier external.WebhookVerifier, reconciler ChangeApplier, logger *slog.Logger) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{
		verifier:   verifier,
		reconciler: reconciler,
		logger:     logger,
	}
}

// RegisterRoutes mounts the webhook endpoint. It is mounted at the root,
// outside /v1 and its auth group.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Handle)
}

// Handle processes POST /webhooks/stripe.
//
// Signature failures and unreadable payloads answer 400 with a plain-text
// "Webhook Error: <reason>" body, which Stripe shows in its dashboard.
// Verified events answer 200 {"success": bool}; success is false when the
// change was rejected by the lifecycle guard. Storage failures answer 500 so
// Stripe redelivers the event.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to read webhook body", "error", err)
		webhookError(w, "unable to read payload")
		return
	}

	event, err := h.verifier.ConstructEvent(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.WarnContext(ctx, "webhook signature verification failed", "error", err)
		reason := err.Error()
		var appErr *types.AppError
		if errors.As(err, &appErr) {
			reason = appErr.Message
		}
		webhookError(w, reason)
		return
	}

	log := h.logger.With("event_id", event.ID, "event_type", string(event.Type))
	log.InfoContext(ctx, "processing stripe webhook event")

	change, handled, err := changeFromEvent(event)
	if err != nil {
		log.WarnContext(ctx, "failed to decode webhook event", "error", err)
		webhookError(w, "invalid event payload")
		return
	}
	if !handled {
		log.DebugContext(ctx, "ignoring unhandled webhook event")
		core.JSON(w, r, http.StatusOK, WebhookResponse{Success: true})
		return
	}

	outcome, err := h.reconciler.Apply(ctx, change)
	switch {
	case outcome == billing.OutcomeRejected:
		log.WarnContext(ctx, "webhook change rejected", "error", err)
		core.JSON(w, r, http.StatusOK, WebhookResponse{Success: false})
	case err != nil:
		log.ErrorContext(ctx, "webhook processing failed", "error", err)
		core.ErrorWithStatus(w, r, http.StatusInternalServerError, err)
	default:
		log.InfoContext(ctx, "webhook processed", "outcome", string(outcome))
		core.JSON(w, r, http.StatusOK, WebhookResponse{Success: true})
	}
}

func webhookError(w http.ResponseWriter, reason string) {
	http.Error(w, "Webhook Error: "+reason, http.StatusBadRequest)
}

// changeFromEvent maps a verified Stripe event onto a SubscriptionChange.
// handled is false for event types the service does not act on and for
// invoices that do not belong to a subscription.
func changeFromEvent(event stripe.Event) (change billing.SubscriptionChange, handled bool, err error) {
	if event.Data == nil {
		return change, false, errors.New("event has no data object")
	}
	raw := event.Data.Raw

	change = billing.SubscriptionChange{
		EventID:    event.ID,
		EventType:  string(event.Type),
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}

	switch string(event.Type) {
	case external.EventStripeCheckoutCompleted:
		var s checkoutSessionObject
		if err := json.Unmarshal(raw, &s); err != nil {
			return change, false, fmt.Errorf("decode checkout session: %w", err)
		}
		change.Kind = billing.ChangeCheckoutCompleted
		change.UserID = firstNonEmpty(s.ClientReferenceID, s.Metadata["user_id"])
		change.CustomerID = string(s.Customer)
		change.SubscriptionID = string(s.Subscription)
		change.Status = types.SubStatusActive
		if id := s.Metadata["plan_id"]; id != "" {
			if plan, err := types.ParsePlanID(id); err == nil {
				change.PlanID = plan
			}
		}
		return change, true, nil

	case external.EventStripeSubCreated, external.EventStripeSubUpdated, external.EventStripeSubDeleted:
		var s external.StripeSubscription
		if err := json.Unmarshal(raw, &s); err != nil {
			return change, false, fmt.Errorf("decode subscription: %w", err)
		}
		change.Kind = billing.ChangeSubscriptionUpsert
		if string(event.Type) == external.EventStripeSubDeleted {
			change.Kind = billing.ChangeSubscriptionDeleted
		}
		p := s.ToProvider()
		change.UserID = s.Metadata["user_id"]
		change.CustomerID = p.CustomerID
		change.SubscriptionID = p.ID
		change.PriceID = p.PriceID
		change.Status = p.Status
		change.CurrentPeriodStart = p.CurrentPeriodStart
		change.CurrentPeriodEnd = p.CurrentPeriodEnd
		change.CancelAtPeriodEnd = p.CancelAtPeriodEnd
		change.CanceledAt = p.CanceledAt
		return change, true, nil

	case external.EventStripePaymentSucceeded, external.EventStripePaymentFailed:
		var inv invoiceObject
		if err := json.Unmarshal(raw, &inv); err != nil {
			return change, false, fmt.Errorf("decode invoice: %w", err)
		}
		subID := inv.subscriptionID()
		if subID == "" {
			return change, false, nil
		}
		change.Kind = billing.ChangePaymentSucceeded
		change.Status = types.SubStatusActive
		if string(event.Type) == external.EventStripePaymentFailed {
			change.Kind = billing.ChangePaymentFailed
			change.Status = types.SubStatusPastDue
		}
		change.UserID = inv.userID()
		change.CustomerID = string(inv.Customer)
		change.SubscriptionID = subID
		if len(inv.Lines.Data) > 0 {
			line := inv.Lines.Data[0]
			change.PriceID = line.priceID()
			change.CurrentPeriodStart = unixTime(line.Period.Start)
			change.CurrentPeriodEnd = unixTime(line.Period.End)
		}
		return change, true, nil
	}

	return change, false, nil
}

// expandableID decodes a Stripe reference that is either an ID string or an
// expanded object carrying an id.
type expandableID string

func (e *expandableID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*e = ""
		return nil
	}
	var id string
	if err := json.Unmarshal(b, &id); err == nil {
		*e = expandableID(id)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*e = expandableID(obj.ID)
	return nil
}

type checkoutSessionObject struct {
	ClientReferenceID string            `json:"client_reference_id"`
	Customer          expandableID      `json:"customer"`
	Subscription      expandableID      `json:"subscription"`
	Metadata          map[string]string `json:"metadata"`
}

// invoiceObject covers both invoice layouts: older API versions carry
// subscription and subscription_details at the top level, newer ones nest
// them under parent.
type invoiceObject struct {
	Customer            expandableID         `json:"customer"`
	Subscription        expandableID         `json:"subscription"`
	Metadata            map[string]string    `json:"metadata"`
	SubscriptionDetails *subscriptionDetails `json:"subscription_details"`
	Parent              *struct {
		SubscriptionDetails *subscriptionDetails `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []invoiceLine `json:"data"`
	} `json:"lines"`
}

type subscriptionDetails struct {
	Subscription expandableID      `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

type invoiceLine struct {
	Price *struct {
		ID string `json:"id"`
	} `json:"price"`
	Pricing *struct {
		PriceDetails *struct {
			Price string `json:"price"`
		} `json:"price_details"`
	} `json:"pricing"`
	Period struct {
		Start int64 `json:"start"`
		End   int64 `json:"end"`
	} `json:"period"`
}

func (inv *invoiceObject) details() *subscriptionDetails {
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		return inv.Parent.SubscriptionDetails
	}
	return inv.SubscriptionDetails
}

func (inv *invoiceObject) subscriptionID() string {
	if inv.Subscription != "" {
		return string(inv.Subscription)
	}
	if d := inv.details(); d != nil {
		return string(d.Subscription)
	}
	return ""
}

func (inv *invoiceObject) userID() string {
	if d := inv.details(); d != nil && d.Metadata["user_id"] != "" {
		return d.Metadata["user_id"]
	}
	return inv.Metadata["user_id"]
}

func (l invoiceLine) priceID() string {
	if l.Pricing != nil && l.Pricing.PriceDetails != nil && l.Pricing.PriceDetails.Price != "" {
		return l.Pricing.PriceDetails.Price
	}
	if l.Price != nil {
		return l.Price.ID
	}
	return ""
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
