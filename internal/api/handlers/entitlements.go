package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"modelpass/internal/billing"
	"modelpass/internal/core"
	"modelpass/internal/types"
)

// subscriptionStatusNone is reported for users without a subscription row.
const subscriptionStatusNone = "none"

// EntitlementsResponse describes what the caller's plan unlocks.
type EntitlementsResponse struct {
	PlanID            types.PlanID       `json:"planId"`
	PlanName          string             `json:"planName"`
	Status            string             `json:"status"`
	Features          types.PlanFeatures `json:"features"`
	NextPlanID        *types.PlanID      `json:"nextPlanId"`
	CurrentPeriodEnd  *time.Time         `json:"currentPeriodEnd,omitempty"`
	CancelAtPeriodEnd bool               `json:"cancelAtPeriodEnd"`
}

// FeatureResponse is one feature value of the caller's plan.
type FeatureResponse struct {
	Feature types.Feature        `json:"feature"`
	PlanID  types.PlanID         `json:"planId"`
	Value   billing.FeatureValue `json:"value"`
}

// AccessResponse reports whether the caller's plan covers a required plan.
type AccessResponse struct {
	PlanID   types.PlanID `json:"planId"`
	Required types.PlanID `json:"required"`
	Allowed  bool         `json:"allowed"`
}

// ModelEntry is a catalog model annotated for the caller.
type ModelEntry struct {
	types.Model
	Allowed bool `json:"allowed"`
}

// ModelsResponse lists the catalog for the caller.
type ModelsResponse struct {
	PlanID     types.PlanID `json:"planId"`
	ModelLimit int          `json:"modelLimit"`
	Models     []ModelEntry `json:"models"`
}

// PlanPrices holds the provider price IDs of a plan; empty for Free.
type PlanPrices struct {
	Monthly string `json:"monthly,omitempty"`
	Yearly  string `json:"yearly,omitempty"`
}

// PlanEntry is one row of the public plan table.
type PlanEntry struct {
	types.Plan
	Prices PlanPrices `json:"prices"`
}

// PlansResponse is the public plan table.
type PlansResponse struct {
	Plans []PlanEntry `json:"plans"`
}

// EntitlementsHandler answers entitlement questions for the signed-in user
// and serves the public plan table.
type EntitlementsHandler struct {
	subs     billing.SubscriptionReader
	registry billing.PlanRegistry
	prices   billing.PriceResolver
	logger   *slog.Logger
}

// NewEntitlementsHandler creates an EntitlementsHandler.
func NewEntitlementsHandler(
	subs billing.SubscriptionReader,
	registry billing.PlanRegistry,
	prices billing.PriceResolver,
	logger *slog.Logger,
) *EntitlementsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EntitlementsHandler{
		subs:     subs,
		registry: registry,
		prices:   prices,
		logger:   logger,
	}
}

// RegisterRoutes mounts the authenticated entitlement endpoints.
func (h *EntitlementsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/entitlements", h.GetEntitlements)
	r.Get("/entitlements/features/{feature}", h.GetFeature)
	r.Get("/entitlements/access/{planId}", h.CheckAccess)
	r.Get("/models", h.ListModels)
}

// RegisterPublicRoutes mounts the endpoints that need no bearer token.
func (h *EntitlementsHandler) RegisterPublicRoutes(r chi.Router) {
	r.Get("/plans", h.ListPlans)
}

// GetEntitlements handles GET /v1/entitlements.
func (h *EntitlementsHandler) GetEntitlements(w http.ResponseWriter, r *http.Request) {
	actor, ok := core.RequireActor(w, r)
	if !ok {
		return
	}
	sub, plan, err := currentPlan(r.Context(), h.subs, actor.UserID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	record := h.registry.Plan(plan)
	resp := EntitlementsResponse{
		PlanID:   plan,
		PlanName: record.Name,
		Status:   subscriptionStatusNone,
		Features: record.Features,
	}
	if next, ok := billing.NextPlan(plan.String()); ok {
		resp.NextPlanID = &next
	}
	if sub != nil {
		resp.Status = string(sub.Status)
		resp.CurrentPeriodEnd = sub.CurrentPeriodEnd
		resp.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
	}
	core.JSON(w, r, http.StatusOK, resp)
}

// GetFeature handles GET /v1/entitlements/features/{feature}.
func (h *EntitlementsHandler) GetFeature(w http.ResponseWriter, r *http.Request) {
	actor, ok := core.RequireActor(w, r)
	if !ok {
		return
	}
	feature, err := types.ParseFeature(chi.URLParam(r, "feature"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	_, plan, err := currentPlan(r.Context(), h.subs, actor.UserID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	value, err := h.registry.GetFeatureLimit(&plan, feature)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, FeatureResponse{Feature: feature, PlanID: plan, Value: value})
}

// CheckAccess handles GET /v1/entitlements/access/{planId}.
func (h *EntitlementsHandler) CheckAccess(w http.ResponseWriter, r *http.Request) {
	actor, ok := core.RequireActor(w, r)
	if !ok {
		return
	}
	required, err := types.ParsePlanID(chi.URLParam(r, "planId"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	_, plan, err := currentPlan(r.Context(), h.subs, actor.UserID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, AccessResponse{
		PlanID:   plan,
		Required: required,
		Allowed:  billing.HasAccess(&plan, required),
	})
}

// ListModels handles GET /v1/models.
func (h *EntitlementsHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	actor, ok := core.RequireActor(w, r)
	if !ok {
		return
	}
	_, plan, err := currentPlan(r.Context(), h.subs, actor.UserID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	catalog := billing.Catalog()
	resp := ModelsResponse{
		PlanID:     plan,
		ModelLimit: h.registry.Plan(plan).Features.ModelLimit,
		Models:     make([]ModelEntry, 0, len(catalog)),
	}
	for _, m := range catalog {
		resp.Models = append(resp.Models, ModelEntry{
			Model:   m,
			Allowed: billing.HasModelAccess(&plan, m.ID),
		})
	}
	core.JSON(w, r, http.StatusOK, resp)
}

// ListPlans handles GET /v1/plans.
func (h *EntitlementsHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans := h.registry.Plans()
	resp := PlansResponse{Plans: make([]PlanEntry, 0, len(plans))}
	for _, p := range plans {
		entry := PlanEntry{Plan: p}
		if h.prices != nil {
			entry.Prices = PlanPrices{
				Monthly: h.prices.PlanToPrice(p.ID, types.CycleMonthly),
				Yearly:  h.prices.PlanToPrice(p.ID, types.CycleYearly),
			}
		}
		resp.Plans = append(resp.Plans, entry)
	}
	core.JSON(w, r, http.StatusOK, resp)
}

// currentPlan loads the user's subscription and the plan it grants. Users
// without a row are on Free.
func currentPlan(ctx context.Context, subs billing.SubscriptionReader, userID string) (*types.Subscription, types.PlanID, error) {
	sub, err := subs.GetByUserID(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	return sub, billing.EffectivePlan(sub), nil
}
