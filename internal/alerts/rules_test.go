package alerts_test

import (
	"testing"

	"github.com/tidewatch/tidewatch/internal/alerts"
	"github.com/tidewatch/tidewatch/internal/config"
)

func TestCompileRules_Defaults(t *testing.T) {
	rules, err := alerts.CompileRules([]config.AlertRule{{
		Name:  "high-waves",
		Raise: "wave_height > 5.0",
		Clear: "wave_height < 4.0",
	}})
	if err != nil {
		t.Fatalf("CompileRules: %v", err)
	}
	r := rules[0]
	if r.Station != "*" {
		t.Errorf("station: got %q, want *", r.Station)
	}
	if r.Kind != alerts.KindThreshold {
		t.Errorf("kind: got %q, want threshold", r.Kind)
	}
	if r.Severity != "warning" {
		t.Errorf("severity: got %q, want warning", r.Severity)
	}
	if r.Channel != "wave_height" {
		t.Errorf("channel: got %q, want wave_height", r.Channel)
	}
}

func TestCompileRules_RejectsEqualThresholds(t *testing.T) {
	_, err := alerts.CompileRules([]config.AlertRule{{
		Name:  "flappy",
		Raise: "wave_height > 5.0",
		Clear: "wave_height < 5.0",
	}})
	if err == nil {
		t.Error("equal raise/clear thresholds accepted")
	}
}

func TestCompileRules_RejectsInvertedThresholds(t *testing.T) {
	_, err := alerts.CompileRules([]config.AlertRule{{
		Name:  "inverted",
		Raise: "wave_height > 4.0",
		Clear: "wave_height < 5.0",
	}})
	if err == nil {
		t.Error("clear threshold above raise accepted")
	}
}

func TestCompileRules_RejectsMixedChannels(t *testing.T) {
	_, err := alerts.CompileRules([]config.AlertRule{{
		Name:  "mixed",
		Raise: "wave_height > 5.0",
		Clear: "wind_speed < 4.0",
	}})
	if err == nil {
		t.Error("raise/clear on different channels accepted")
	}
}

func TestCompileRules_RejectsSameDirectionOps(t *testing.T) {
	_, err := alerts.CompileRules([]config.AlertRule{{
		Name:  "one-sided",
		Raise: "wave_height > 5.0",
		Clear: "wave_height > 4.0",
	}})
	if err == nil {
		t.Error("same comparison direction for raise and clear accepted")
	}
}

func TestCompileRules_RejectsUnknownChannel(t *testing.T) {
	for name, rule := range map[string]config.AlertRule{
		"threshold": {Name: "typo", Raise: "wav_height > 5.0", Clear: "wav_height < 4.0"},
		"trend":     {Name: "typo", Kind: "trend", Channel: "wav_height", Direction: "increasing"},
	} {
		if _, err := alerts.CompileRules([]config.AlertRule{rule}); err == nil {
			t.Errorf("%s: unknown channel accepted", name)
		}
	}
}

func TestCompileRules_TrendNeedsDirection(t *testing.T) {
	_, err := alerts.CompileRules([]config.AlertRule{{
		Name: "drift", Kind: "trend", Channel: "wave_height", Direction: "sideways",
	}})
	if err == nil {
		t.Error("invalid trend direction accepted")
	}
}

func TestCompileRules_EscalateNeedsTarget(t *testing.T) {
	_, err := alerts.CompileRules([]config.AlertRule{{
		Name:       "half-escalation",
		Raise:      "wave_height > 5.0",
		Clear:      "wave_height < 4.0",
		EscalateAt: 8.0,
	}})
	if err == nil {
		t.Error("escalate_at without escalate_to accepted")
	}
}

func TestCompileRules_LowerBoundRule(t *testing.T) {
	// Rules can watch a falling value: raise below, clear above.
	rules, err := alerts.CompileRules([]config.AlertRule{{
		Name:  "pressure-drop",
		Raise: "atmospheric_pressure < 980",
		Clear: "atmospheric_pressure > 990",
	}})
	if err != nil {
		t.Fatalf("CompileRules: %v", err)
	}
	if rules[0].Raise.Op != "<" {
		t.Errorf("raise op: got %q, want <", rules[0].Raise.Op)
	}
}
