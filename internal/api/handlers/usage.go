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

// UsageReader reads the caller's usage counters.
type UsageReader interface {
	// GetByUserID returns nil when nothing was recorded yet.
	GetByUserID(ctx context.Context, userID string) (*types.UsageStats, error)
}

// QuotaConsumer records plan-gated usage.
type QuotaConsumer interface {
	Consume(ctx context.Context, userID string, resource types.QuotaResource, delta int64) (*types.UsageStats, error)
}

// APICallsRequest is the body of POST /v1/usage/api-calls.
type APICallsRequest struct {
	Count int64 `json:"count" validate:"required,min=1,max=100000"`
}

// StorageRequest is the body of POST /v1/usage/storage. Bytes is capped at
// the largest plan's storage limit.
type StorageRequest struct {
	Bytes int64 `json:"bytes" validate:"required,min=1,max=10737418240"`
}

// CounterUsage is one metered counter against its plan limit.
type CounterUsage struct {
	Used       int64   `json:"used"`
	Limit      int64   `json:"limit"`
	Percentage float64 `json:"percentage"`
}

// StorageUsage adds display strings to the storage counter.
type StorageUsage struct {
	CounterUsage
	UsedFormatted  string `json:"usedFormatted"`
	LimitFormatted string `json:"limitFormatted"`
}

// UsageResponse reports the caller's usage against their plan.
type UsageResponse struct {
	PlanID     types.PlanID `json:"planId"`
	APICalls   CounterUsage `json:"apiCalls"`
	Storage    StorageUsage `json:"storage"`
	LastActive *time.Time   `json:"lastActive,omitempty"`
}

// UsageHandler serves usage reads and quota-gated usage recording.
type UsageHandler struct {
	subs      billing.SubscriptionReader
	usage     UsageReader
	quota     QuotaConsumer
	registry  billing.PlanRegistry
	validator *core.Validator
	logger    *slog.Logger
}

// NewUsageHandler creates a UsageHandler.
func NewUsageHandler(
	subs billing.SubscriptionReader,
	usage UsageReader,
	quota QuotaConsumer,
	registry billing.PlanRegistry,
	validator *core.Validator,
	logger *slog.Logger,
) *UsageHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if validator == nil {
		validator = core.NewValidator(logger)
	}
	return &UsageHandler{
		subs:      subs,
		usage:     usage,
		quota:     quota,
		registry:  registry,
		validator: validator,
		logger:    logger,
	}
}

// RegisterRoutes mounts the usage endpoints. They require authentication.
func (h *UsageHandler) RegisterRoutes(r chi.Router) {
	r.Get("/usage", h.GetUsage)
	r.Post("/usage/api-calls", h.RecordAPICalls)
	r.Post("/usage/storage", h.RecordStorage)
}

// GetUsage handles GET /v1/usage.
func (h *UsageHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	actor, ok := core.RequireActor(w, r)
	if !ok {
		return
	}
	_, plan, err := currentPlan(r.Context(), h.subs, actor.UserID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	stats, err := h.usage.GetByUserID(r.Context(), actor.UserID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	resp, err := h.buildUsage(plan, stats)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, resp)
}

// RecordAPICalls handles POST /v1/usage/api-calls. Exceeding the plan's
// quota answers 429 limit_api_calls_exceeded and records nothing.
func (h *UsageHandler) RecordAPICalls(w http.ResponseWriter, r *http.Request) {
	var req APICallsRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.consume(w, r, types.QuotaAPICalls, req.Count)
}

// RecordStorage handles POST /v1/usage/storage. Exceeding the plan's
// storage answers 403 limit_storage_exceeded and records nothing.
func (h *UsageHandler) RecordStorage(w http.ResponseWriter, r *http.Request) {
	var req StorageRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.consume(w, r, types.QuotaStorage, req.Bytes)
}

func (h *UsageHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := core.DecodeJSON(w, r, dst); err != nil {
		core.Error(w, r, err)
		return false
	}
	if err := h.validator.ValidateStruct(dst); err != nil {
		core.Error(w, r, err)
		return false
	}
	return true
}

func (h *UsageHandler) consume(w http.ResponseWriter, r *http.Request, resource types.QuotaResource, delta int64) {
	actor, ok := core.RequireActor(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	stats, err := h.quota.Consume(ctx, actor.UserID, resource, delta)
	if err != nil {
		switch types.CodeOf(err) {
		case types.ErrCodeLimitAPICalls, types.ErrCodeLimitStorage:
			h.logger.InfoContext(ctx, "usage rejected by quota",
				"user_id", actor.UserID,
				"resource", string(resource),
				"delta", delta,
			)
		default:
			h.logger.ErrorContext(ctx, "failed to record usage",
				"user_id", actor.UserID,
				"resource", string(resource),
				"error", err,
			)
		}
		core.Error(w, r, err)
		return
	}

	_, plan, err := currentPlan(ctx, h.subs, actor.UserID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	resp, err := h.buildUsage(plan, stats)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, resp)
}

func (h *UsageHandler) buildUsage(plan types.PlanID, stats *types.UsageStats) (UsageResponse, error) {
	limits := h.registry.Plan(plan).Features
	var current types.UsageStats
	if stats != nil {
		current = *stats
	}

	usedFmt, err := billing.FormatStorageSize(current.StorageUsed)
	if err != nil {
		return UsageResponse{}, err
	}
	limitFmt, err := billing.FormatStorageSize(limits.Storage)
	if err != nil {
		return UsageResponse{}, err
	}

	resp := UsageResponse{
		PlanID: plan,
		APICalls: CounterUsage{
			Used:       current.APICalls,
			Limit:      limits.APICalls,
			Percentage: billing.UsagePercentage(current.APICalls, limits.APICalls),
		},
		Storage: StorageUsage{
			CounterUsage: CounterUsage{
				Used:       current.StorageUsed,
				Limit:      limits.Storage,
				Percentage: billing.UsagePercentage(current.StorageUsed, limits.Storage),
			},
			UsedFormatted:  usedFmt,
			LimitFormatted: limitFmt,
		},
	}
	if stats != nil && !stats.LastActive.IsZero() {
		t := stats.LastActive
		resp.LastActive = &t
	}
	return resp, nil
}
