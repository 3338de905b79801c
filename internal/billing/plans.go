// Package billing holds the subscription entitlement model: the plan
// registry, the price mapping, the entitlement resolver, the subscription
// lifecycle and the webhook reconciler built on top of them.
package billing

import (
	"modelpass/internal/types"
)

// UnknownPlanName is returned by GetPlanName for IDs outside the registry.
const UnknownPlanName = "Unknown Plan"

const (
	kb int64 = 1024
	mb       = 1024 * kb
	gb       = 1024 * mb
)

// PlanRegistry defines the authoritative limits and prices for each tier.
type PlanRegistry interface {
	// Plan returns the plan record. Unknown IDs yield the Free plan.
	Plan(id types.PlanID) types.Plan

	// Plans returns every plan in ascending rank order.
	Plans() []types.Plan

	// GetFeatureLimit returns one feature value for the plan. A nil plan
	// means the user has no subscription yet and resolves to Free.
	GetFeatureLimit(plan *types.PlanID, feature types.Feature) (FeatureValue, error)

	// LookupFeatureLimit is the string-facing form of GetFeatureLimit.
	LookupFeatureLimit(rawPlanID, rawFeature string) (FeatureValue, error)

	// GetPlanName returns the display name, or UnknownPlanName.
	GetPlanName(rawPlanID string) string
}

// staticPlanRegistry is a compile-time plan registry backed by an in-memory map.
type staticPlanRegistry struct {
	plans map[types.PlanID]types.Plan
}

// planDefaults is the product's tier table. Prices are in cents.
//
//	| Plan       | $/mo   | $/yr    | API calls | Storage | Models | Support   |
//	|------------|--------|---------|-----------|---------|--------|-----------|
//	| Free       | 0      | 0       | 100       | 100 MB  | 1      | community |
//	| Starter    | 19.99  | 199.99  | 1,000     | 1 GB    | 3      | email     |
//	| Pro        | 49.99  | 499.99  | 10,000    | 5 GB    | 10     | priority  |
//	| Enterprise | 199.99 | 1999.99 | 100,000   | 10 GB   | 100    | dedicated |
var planDefaults = map[types.PlanID]types.Plan{
	types.PlanFree: {
		ID:   types.PlanFree,
		Name: "Free",
		Features: types.PlanFeatures{
			APICalls:     100,
			Storage:      100 * mb,
			ModelLimit:   1,
			SupportLevel: types.SupportCommunity,
		},
	},
	types.PlanStarter: {
		ID:           types.PlanStarter,
		Name:         "Starter",
		PriceMonthly: 1999,
		PriceYearly:  19999,
		Features: types.PlanFeatures{
			APICalls:     1000,
			Storage:      1 * gb,
			ModelLimit:   3,
			SupportLevel: types.SupportEmail,
			Analytics:    true,
		},
	},
	types.PlanPro: {
		ID:           types.PlanPro,
		Name:         "Pro",
		PriceMonthly: 4999,
		PriceYearly:  49999,
		Features: types.PlanFeatures{
			APICalls:      10000,
			Storage:       5 * gb,
			ModelLimit:    10,
			SupportLevel:  types.SupportPriority,
			Customization: true,
			Analytics:     true,
		},
	},
	types.PlanEnterprise: {
		ID:           types.PlanEnterprise,
		Name:         "Enterprise",
		PriceMonthly: 19999,
		PriceYearly:  199999,
		Features: types.PlanFeatures{
			APICalls:      100000,
			Storage:       10 * gb,
			ModelLimit:    100,
			SupportLevel:  types.SupportDedicated,
			Customization: true,
			Analytics:     true,
		},
	},
}

// NewStaticPlanRegistry returns a PlanRegistry backed by the hardcoded tier
// table. No database or external service is required.
func NewStaticPlanRegistry() PlanRegistry {
	// Copy the defaults so callers cannot mutate the package-level table.
	m := make(map[types.PlanID]types.Plan, len(planDefaults))
	for k, v := range planDefaults {
		m[k] = v
	}
	return &staticPlanRegistry{plans: m}
}

func (r *staticPlanRegistry) Plan(id types.PlanID) types.Plan {
	if p, ok := r.plans[id]; ok {
		return p
	}
	return r.plans[types.PlanFree]
}

func (r *staticPlanRegistry) Plans() []types.Plan {
	out := make([]types.Plan, 0, len(types.AllPlanIDs))
	for _, id := range types.AllPlanIDs {
		out = append(out, r.plans[id])
	}
	return out
}

func (r *staticPlanRegistry) GetFeatureLimit(plan *types.PlanID, feature types.Feature) (FeatureValue, error) {
	id := types.PlanFree
	if plan != nil {
		id = *plan
	}
	return featureOf(r.Plan(id).Features, feature)
}

func (r *staticPlanRegistry) LookupFeatureLimit(rawPlanID, rawFeature string) (FeatureValue, error) {
	feature, err := types.ParseFeature(rawFeature)
	if err != nil {
		return FeatureValue{}, err
	}
	if rawPlanID == "" {
		return r.GetFeatureLimit(nil, feature)
	}
	id, err := types.ParsePlanID(rawPlanID)
	if err != nil {
		return FeatureValue{}, err
	}
	return r.GetFeatureLimit(&id, feature)
}

func (r *staticPlanRegistry) GetPlanName(rawPlanID string) string {
	id, err := types.ParsePlanID(rawPlanID)
	if err != nil {
		return UnknownPlanName
	}
	return r.plans[id].Name
}

func featureOf(f types.PlanFeatures, feature types.Feature) (FeatureValue, error) {
	switch feature {
	case types.FeatureAPICalls:
		return IntValue(f.APICalls), nil
	case types.FeatureStorage:
		return IntValue(f.Storage), nil
	case types.FeatureModelLimit:
		return IntValue(int64(f.ModelLimit)), nil
	case types.FeatureSupportLevel:
		return StringValue(string(f.SupportLevel)), nil
	case types.FeatureCustomization:
		return BoolValue(f.Customization), nil
	case types.FeatureAnalytics:
		return BoolValue(f.Analytics), nil
	}
	_, err := types.ParseFeature(string(feature))
	return FeatureValue{}, err
}
