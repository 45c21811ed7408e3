package signals

import (
	"encoding/json"
	"testing"

	"github.com/matthewbaird/canalworks/internal/types"
)

func entry(eventType string, payload map[string]any) types.ActivityEntry {
	raw, _ := json.Marshal(payload)
	return types.ActivityEntry{EventType: eventType, Payload: raw}
}

func TestClassify_ConditionWinsOverFallback(t *testing.T) {
	reg, ok := Classify(entry("submission_failed", map[string]any{"persisted": true, "step": "creating_villages"}))
	if !ok {
		t.Fatal("expected a registration")
	}
	if reg.ID != "submission_partial" {
		t.Errorf("id = %q, want submission_partial", reg.ID)
	}

	reg, ok = Classify(entry("submission_failed", map[string]any{"persisted": false}))
	if !ok || reg.ID != "submission_failed" {
		t.Errorf("id = %q (ok=%v), want submission_failed", reg.ID, ok)
	}
}

func TestClassify_Unknown(t *testing.T) {
	if _, ok := Classify(entry("rainfall_recorded", nil)); ok {
		t.Error("unregistered event type classified")
	}
	if got := PolarityOf(entry("rainfall_recorded", nil)); got != PolarityNeutral {
		t.Errorf("polarity = %q, want neutral", got)
	}
}

func TestPolarityOf(t *testing.T) {
	cases := map[string]string{
		"work_package_created":   PolarityPositive,
		"villages_recorded":      PolarityPositive,
		"submission_compensated": PolarityNegative,
	}
	for eventType, want := range cases {
		if got := PolarityOf(entry(eventType, map[string]any{})); got != want {
			t.Errorf("%s: polarity = %q, want %q", eventType, got, want)
		}
	}
}

func TestMatchCondition(t *testing.T) {
	payload := map[string]any{"count": float64(3), "step": "creating_work", "persisted": false}
	tests := []struct {
		cond string
		want bool
	}{
		{"count == 3", true},
		{"count > 2", true},
		{"count >= 4", false},
		{"count < 3", false},
		{"count <= 3", true},
		{"step == creating_work", true},
		{"persisted == false", true},
		{"persisted == true", false},
		{"missing == 1", false},
	}
	for _, tt := range tests {
		if got := matchCondition(tt.cond, payload); got != tt.want {
			t.Errorf("matchCondition(%q) = %v, want %v", tt.cond, got, tt.want)
		}
	}
	if matchCondition("count == 3", nil) {
		t.Error("nil payload matched")
	}
}
