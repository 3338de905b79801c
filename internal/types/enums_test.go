package types

import (
	"encoding/json"
	"testing"
)

func TestParsePlanID(t *testing.T) {
	valid := map[string]PlanID{"1": PlanFree, "2": PlanStarter, "3": PlanPro, "4": PlanEnterprise}
	for in, want := range valid {
		got, err := ParsePlanID(in)
		if err != nil {
			t.Fatalf("ParsePlanID(%q) error: %v", in, err)
		}
		if got != want {
			t.Errorf("ParsePlanID(%q) = %v, want %v", in, got, want)
		}
	}

	for _, in := range []string{"", "0", "5", "-1", "pro", "2.0", " 2", "02", "+3", "004"} {
		_, err := ParsePlanID(in)
		if CodeOf(err) != ErrCodeValidationInvalidPlan {
			t.Errorf("ParsePlanID(%q) code = %q, want %q", in, CodeOf(err), ErrCodeValidationInvalidPlan)
		}
	}
}

func TestPlanIDRankOrder(t *testing.T) {
	for i := 1; i < len(AllPlanIDs); i++ {
		if AllPlanIDs[i].Rank() <= AllPlanIDs[i-1].Rank() {
			t.Fatalf("AllPlanIDs not strictly ascending at %d", i)
		}
	}
	if PlanID(0).Valid() {
		t.Error("zero PlanID must not be valid")
	}
}

func TestPlanIDJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		Plan PlanID `json:"plan"`
	}{PlanPro})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `{"plan":"3"}` {
		t.Errorf("Marshal = %s, want {\"plan\":\"3\"}", b)
	}

	var out struct {
		Plan PlanID `json:"plan"`
	}
	if err := json.Unmarshal([]byte(`{"plan":"4"}`), &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.Plan != PlanEnterprise {
		t.Errorf("Unmarshal plan = %v, want %v", out.Plan, PlanEnterprise)
	}

	if err := json.Unmarshal([]byte(`{"plan":"7"}`), &out); err == nil {
		t.Error("expected error for unknown plan in JSON")
	}
	if err := json.Unmarshal([]byte(`{"plan":3}`), &out); err == nil {
		t.Error("expected error for numeric plan in JSON")
	}
}

func TestParseFeature(t *testing.T) {
	for _, f := range AllFeatures {
		got, err := ParseFeature(string(f))
		if err != nil || got != f {
			t.Errorf("ParseFeature(%q) = %q, %v", f, got, err)
		}
	}
	_, err := ParseFeature("maxUsers")
	if CodeOf(err) != ErrCodeValidationFeature {
		t.Errorf("ParseFeature(unknown) code = %q, want %q", CodeOf(err), ErrCodeValidationFeature)
	}
}

func TestParseBillingCycle(t *testing.T) {
	tests := []struct {
		in      string
		want    BillingCycle
		wantErr bool
	}{
		{"", CycleMonthly, false},
		{"monthly", CycleMonthly, false},
		{"yearly", CycleYearly, false},
		{"weekly", "", true},
	}
	for _, tt := range tests {
		got, err := ParseBillingCycle(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseBillingCycle(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseBillingCycle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSubscriptionStatusValid(t *testing.T) {
	for _, s := range []SubscriptionStatus{
		SubStatusActive, SubStatusPastDue, SubStatusCanceled, SubStatusIncomplete,
		SubStatusIncompleteExpired, SubStatusTrialing, SubStatusUnpaid,
	} {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	if SubscriptionStatus("paused").Valid() {
		t.Error("paused is not a known status")
	}
}
