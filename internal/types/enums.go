package types

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// PlanID identifies a subscription tier. The underlying value is the tier's
// rank: a higher rank carries strictly more entitlements. The zero value is
// not a valid plan.
type PlanID int

const (
	PlanFree       PlanID = 1
	PlanStarter    PlanID = 2
	PlanPro        PlanID = 3
	PlanEnterprise PlanID = 4
)

// AllPlanIDs lists every plan in ascending rank order.
var AllPlanIDs = []PlanID{PlanFree, PlanStarter, PlanPro, PlanEnterprise}

// ParsePlanID converts the wire form ("1".."4") into a PlanID.
// Anything outside the closed set yields validation_invalid_plan_id.
func ParsePlanID(s string) (PlanID, error) {
	n, err := strconv.Atoi(s)
	if err != nil || !PlanID(n).Valid() || PlanID(n).String() != s {
		return 0, NewAppErrorWithDetails(
			ErrCodeValidationInvalidPlan,
			fmt.Sprintf("unknown plan id %q", s),
			err,
			map[string]any{"plan_id": s},
		)
	}
	return PlanID(n), nil
}

// Valid reports whether p is one of the known plans.
func (p PlanID) Valid() bool {
	return p >= PlanFree && p <= PlanEnterprise
}

// Rank returns the ordering value used for entitlement comparisons.
func (p PlanID) Rank() int {
	return int(p)
}

// String returns the wire form of the plan ID.
func (p PlanID) String() string {
	return strconv.Itoa(int(p))
}

// MarshalJSON encodes the plan as its string wire form.
func (p PlanID) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON accepts only the string wire form of a known plan.
func (p *PlanID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParsePlanID(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Feature names one entry of a plan's limit record.
type Feature string

const (
	FeatureAPICalls      Feature = "apiCalls"
	FeatureStorage       Feature = "storage"
	FeatureModelLimit    Feature = "modelLimit"
	FeatureSupportLevel  Feature = "supportLevel"
	FeatureCustomization Feature = "customization"
	FeatureAnalytics     Feature = "analytics"
)

// AllFeatures lists every feature in display order.
var AllFeatures = []Feature{
	FeatureAPICalls,
	FeatureStorage,
	FeatureModelLimit,
	FeatureSupportLevel,
	FeatureCustomization,
	FeatureAnalytics,
}

// ParseFeature converts a feature name into a Feature, failing with
// validation_invalid_feature for names outside the closed set.
func ParseFeature(s string) (Feature, error) {
	for _, f := range AllFeatures {
		if string(f) == s {
			return f, nil
		}
	}
	return "", NewAppErrorWithDetails(
		ErrCodeValidationFeature,
		fmt.Sprintf("unknown feature %q", s),
		nil,
		map[string]any{"feature": s},
	)
}

// SupportLevel is the support tier bundled with a plan.
type SupportLevel string

const (
	SupportCommunity SupportLevel = "community"
	SupportEmail     SupportLevel = "email"
	SupportPriority  SupportLevel = "priority"
	SupportDedicated SupportLevel = "dedicated"
)

// BillingCycle is the payment interval of a paid plan.
type BillingCycle string

const (
	CycleMonthly BillingCycle = "monthly"
	CycleYearly  BillingCycle = "yearly"
)

// ParseBillingCycle accepts "monthly" or "yearly". The empty string defaults
// to monthly.
func ParseBillingCycle(s string) (BillingCycle, error) {
	switch BillingCycle(s) {
	case "", CycleMonthly:
		return CycleMonthly, nil
	case CycleYearly:
		return CycleYearly, nil
	}
	return "", NewAppError(ErrCodeValidationInvalidInput, fmt.Sprintf("unknown billing cycle %q", s), nil)
}

// SubscriptionStatus represents the state of a billing subscription.
type SubscriptionStatus string

const (
	SubStatusActive            SubscriptionStatus = "active"
	SubStatusPastDue           SubscriptionStatus = "past_due"
	SubStatusCanceled          SubscriptionStatus = "canceled"
	SubStatusIncomplete        SubscriptionStatus = "incomplete"
	SubStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubStatusTrialing          SubscriptionStatus = "trialing"
	SubStatusUnpaid            SubscriptionStatus = "unpaid"
)

// Valid reports whether s is one of the provider lifecycle states.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubStatusActive, SubStatusPastDue, SubStatusCanceled, SubStatusIncomplete,
		SubStatusIncompleteExpired, SubStatusTrialing, SubStatusUnpaid:
		return true
	}
	return false
}

// QuotaResource names a metered usage counter.
type QuotaResource string

const (
	QuotaAPICalls QuotaResource = "api_calls"
	QuotaStorage  QuotaResource = "storage"
)
