package billing

import (
	"fmt"

	"modelpass/internal/types"
)

var storageUnits = []string{"B", "KB", "MB", "GB", "TB"}

// HasAccess reports whether a user on plan user may use something gated at
// plan required. A nil user has no subscription and only reaches Free.
func HasAccess(user *types.PlanID, required types.PlanID) bool {
	if user == nil {
		return required == types.PlanFree
	}
	return user.Rank() >= required.Rank()
}

// HasAccessRaw is the string-facing form of HasAccess. An empty user string
// means no subscription; any other value must be a registered plan.
func HasAccessRaw(user, required string) (bool, error) {
	req, err := types.ParsePlanID(required)
	if err != nil {
		return false, err
	}
	if user == "" {
		return HasAccess(nil, req), nil
	}
	u, err := types.ParsePlanID(user)
	if err != nil {
		return false, err
	}
	return HasAccess(&u, req), nil
}

// EffectivePlan returns the plan whose entitlements apply to sub. No record
// means Free. Subscriptions that never completed payment, or were canceled
// or left unpaid, are entitled to Free only; past_due keeps the paid plan
// while the provider retries payment.
func EffectivePlan(sub *types.Subscription) types.PlanID {
	if sub == nil || !sub.PlanID.Valid() {
		return types.PlanFree
	}
	switch sub.Status {
	case types.SubStatusActive, types.SubStatusTrialing, types.SubStatusPastDue:
		return sub.PlanID
	}
	return types.PlanFree
}

// NextPlan returns the next-higher plan. ok is false at the top tier and for
// unrecognized IDs.
func NextPlan(current string) (next types.PlanID, ok bool) {
	id, err := types.ParsePlanID(current)
	if err != nil || id == types.PlanEnterprise {
		return 0, false
	}
	return id + 1, true
}

// FormatStorageSize renders a byte count with two decimals in the largest
// unit up to TB that keeps the value at or above 1.
func FormatStorageSize(bytes int64) (string, error) {
	if bytes < 0 {
		return "", types.NewAppErrorWithDetails(
			types.ErrCodeValidationSize,
			"storage size cannot be negative",
			nil,
			map[string]any{"bytes": bytes},
		)
	}
	size := float64(bytes)
	unit := 0
	for size >= 1024 && unit < len(storageUnits)-1 {
		size /= 1024
		unit++
	}
	return fmt.Sprintf("%.2f %s", size, storageUnits[unit]), nil
}

// UsagePercentage returns used/limit as a percentage clamped to [0, 100].
func UsagePercentage(used, limit int64) float64 {
	if limit <= 0 || used <= 0 {
		return 0
	}
	pct := float64(used) / float64(limit) * 100
	if pct > 100 {
		return 100
	}
	return pct
}
