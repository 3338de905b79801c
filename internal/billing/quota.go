package billing

import (
	"context"
	"fmt"

	"modelpass/internal/types"
)

// UsageStore persists usage counters. The Try* methods apply delta only when
// the result stays within limit, in a single statement, and report whether
// they did.
type UsageStore interface {
	GetByUserID(ctx context.Context, userID string) (*types.UsageStats, error)
	TryAddAPICalls(ctx context.Context, userID string, delta, limit int64) (*types.UsageStats, bool, error)
	TryAddStorage(ctx context.Context, userID string, delta, limit int64) (*types.UsageStats, bool, error)
}

// SubscriptionReader is the read side of SubscriptionStore.
type SubscriptionReader interface {
	GetByUserID(ctx context.Context, userID string) (*types.Subscription, error)
}

// QuotaMetrics records rejected usage.
type QuotaMetrics interface {
	RecordQuotaExceeded(ctx context.Context, resource types.QuotaResource)
}

// CheckQuota reports whether adding delta of resource to usage stays within
// plan's limits. It returns limit_api_calls_exceeded or
// limit_storage_exceeded otherwise.
func CheckQuota(plan types.Plan, usage types.UsageStats, resource types.QuotaResource, delta int64) error {
	if delta <= 0 {
		return types.NewAppError(types.ErrCodeValidationInvalidInput, "usage delta must be positive", nil)
	}
	switch resource {
	case types.QuotaAPICalls:
		if delta > plan.Features.APICalls-usage.APICalls {
			return quotaExceeded(types.ErrCodeLimitAPICalls, plan, usage.APICalls, plan.Features.APICalls)
		}
	case types.QuotaStorage:
		if delta > plan.Features.Storage-usage.StorageUsed {
			return quotaExceeded(types.ErrCodeLimitStorage, plan, usage.StorageUsed, plan.Features.Storage)
		}
	default:
		return types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"unknown resource type for quota check: "+string(resource),
			nil,
		)
	}
	return nil
}

// QuotaEnforcer records usage server-side, gated by the user's plan.
type QuotaEnforcer struct {
	subs     SubscriptionReader
	usage    UsageStore
	registry PlanRegistry
	metrics  QuotaMetrics
}

// NewQuotaEnforcer creates a QuotaEnforcer. metrics may be nil.
func NewQuotaEnforcer(subs SubscriptionReader, usage UsageStore, registry PlanRegistry, metrics QuotaMetrics) *QuotaEnforcer {
	return &QuotaEnforcer{subs: subs, usage: usage, registry: registry, metrics: metrics}
}

// Consume adds delta to the user's counter for resource if the plan allows
// it. The pre-check gives a precise error; the conditional write closes the
// race between concurrent requests.
func (q *QuotaEnforcer) Consume(ctx context.Context, userID string, resource types.QuotaResource, delta int64) (*types.UsageStats, error) {
	sub, err := q.subs.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	plan := q.registry.Plan(EffectivePlan(sub))

	current, err := q.usage.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	var snapshot types.UsageStats
	if current != nil {
		snapshot = *current
	}
	if err := CheckQuota(plan, snapshot, resource, delta); err != nil {
		q.recordExceeded(ctx, err, resource)
		return nil, err
	}

	var (
		stats   *types.UsageStats
		applied bool
	)
	switch resource {
	case types.QuotaAPICalls:
		stats, applied, err = q.usage.TryAddAPICalls(ctx, userID, delta, plan.Features.APICalls)
	case types.QuotaStorage:
		stats, applied, err = q.usage.TryAddStorage(ctx, userID, delta, plan.Features.Storage)
	}
	if err != nil {
		return nil, err
	}
	if !applied {
		// Another request consumed the remaining quota in between.
		err := quotaExceeded(limitCode(resource), plan, usedOf(snapshot, resource), limitOf(plan, resource))
		q.recordExceeded(ctx, err, resource)
		return nil, err
	}
	return stats, nil
}

func (q *QuotaEnforcer) recordExceeded(ctx context.Context, err error, resource types.QuotaResource) {
	if q.metrics == nil {
		return
	}
	switch types.CodeOf(err) {
	case types.ErrCodeLimitAPICalls, types.ErrCodeLimitStorage:
		q.metrics.RecordQuotaExceeded(ctx, resource)
	}
}

func usedOf(u types.UsageStats, resource types.QuotaResource) int64 {
	if resource == types.QuotaStorage {
		return u.StorageUsed
	}
	return u.APICalls
}

func limitOf(p types.Plan, resource types.QuotaResource) int64 {
	if resource == types.QuotaStorage {
		return p.Features.Storage
	}
	return p.Features.APICalls
}

func limitCode(resource types.QuotaResource) types.ErrorCode {
	if resource == types.QuotaStorage {
		return types.ErrCodeLimitStorage
	}
	return types.ErrCodeLimitAPICalls
}

func quotaExceeded(code types.ErrorCode, plan types.Plan, used, limit int64) error {
	return types.NewAppErrorWithDetails(
		code,
		fmt.Sprintf("%s plan limit exceeded", plan.Name),
		nil,
		map[string]any{
			"current": used,
			"limit":   limit,
			"plan_id": plan.ID.String(),
		},
	)
}
