package billing

import (
	"fmt"
	"strings"

	"modelpass/internal/types"
)

const yearlySuffix = "_yearly"

// PriceConfig carries the provider price IDs per paid plan and cycle, as
// loaded from configuration.
type PriceConfig struct {
	StarterMonthly    string
	StarterYearly     string
	ProMonthly        string
	ProYearly         string
	EnterpriseMonthly string
	EnterpriseYearly  string
}

// PriceResolver translates between plans and provider price IDs.
type PriceResolver interface {
	PlanToPrice(plan types.PlanID, cycle types.BillingCycle) string
	PriceToPlan(priceID string) types.PlanID
	ResolvePrice(priceID string) (types.PlanID, types.BillingCycle, bool)
}

type priceTarget struct {
	plan  types.PlanID
	cycle types.BillingCycle
}

// PriceMap is the immutable bidirectional price table. The forward side is
// keyed by plan ID with an optional "_yearly" suffix; the reverse side is
// derived from it.
type PriceMap struct {
	forward map[string]string
	reverse map[string]priceTarget
}

var _ PriceResolver = (*PriceMap)(nil)

// NewPriceMapFromConfig builds the table from configured price IDs.
func NewPriceMapFromConfig(cfg PriceConfig) (*PriceMap, error) {
	return NewPriceMap(map[string]string{
		priceKey(types.PlanFree, types.CycleMonthly):       "",
		priceKey(types.PlanStarter, types.CycleMonthly):    cfg.StarterMonthly,
		priceKey(types.PlanStarter, types.CycleYearly):     cfg.StarterYearly,
		priceKey(types.PlanPro, types.CycleMonthly):        cfg.ProMonthly,
		priceKey(types.PlanPro, types.CycleYearly):         cfg.ProYearly,
		priceKey(types.PlanEnterprise, types.CycleMonthly): cfg.EnterpriseMonthly,
		priceKey(types.PlanEnterprise, types.CycleYearly):  cfg.EnterpriseYearly,
	})
}

// NewPriceMap validates a forward table and derives its reverse. Keys must
// name a registered plan; Free must not carry a price; a price ID may appear
// only once.
func NewPriceMap(forward map[string]string) (*PriceMap, error) {
	pm := &PriceMap{
		forward: make(map[string]string, len(forward)),
		reverse: make(map[string]priceTarget, len(forward)),
	}
	for key, priceID := range forward {
		cycle := types.CycleMonthly
		rawPlan := key
		if strings.HasSuffix(key, yearlySuffix) {
			cycle = types.CycleYearly
			rawPlan = strings.TrimSuffix(key, yearlySuffix)
		}
		plan, err := types.ParsePlanID(rawPlan)
		if err != nil {
			return nil, fmt.Errorf("price map key %q: %w", key, err)
		}
		if plan == types.PlanFree && priceID != "" {
			return nil, fmt.Errorf("price map key %q: free plan cannot carry a price", key)
		}

		pm.forward[key] = priceID
		if priceID == "" {
			continue
		}
		if prev, dup := pm.reverse[priceID]; dup {
			return nil, fmt.Errorf("price %q mapped to both %s and %s",
				priceID, priceKey(prev.plan, prev.cycle), key)
		}
		pm.reverse[priceID] = priceTarget{plan: plan, cycle: cycle}
	}
	return pm, nil
}

// PlanToPrice returns the provider price for a plan and cycle. Free, and any
// unconfigured combination, yields the empty string.
func (m *PriceMap) PlanToPrice(plan types.PlanID, cycle types.BillingCycle) string {
	if plan == types.PlanFree {
		return ""
	}
	return m.forward[priceKey(plan, cycle)]
}

// PriceToPlan maps a provider price to its plan. Unknown prices resolve to
// Free; callers should log the fallback since it downgrades the user.
func (m *PriceMap) PriceToPlan(priceID string) types.PlanID {
	if t, ok := m.reverse[priceID]; ok {
		return t.plan
	}
	return types.PlanFree
}

// ResolvePrice is the strict form of PriceToPlan.
func (m *PriceMap) ResolvePrice(priceID string) (types.PlanID, types.BillingCycle, bool) {
	t, ok := m.reverse[priceID]
	if !ok {
		return 0, "", false
	}
	return t.plan, t.cycle, true
}

// Forward returns a copy of the forward table.
func (m *PriceMap) Forward() map[string]string {
	out := make(map[string]string, len(m.forward))
	for k, v := range m.forward {
		out[k] = v
	}
	return out
}

func priceKey(plan types.PlanID, cycle types.BillingCycle) string {
	if cycle == types.CycleYearly {
		return plan.String() + yearlySuffix
	}
	return plan.String()
}
