package alerts

import (
	"fmt"

	"github.com/tidewatch/tidewatch/internal/config"
	"github.com/tidewatch/tidewatch/internal/model"
)

// Rule kinds.
const (
	KindThreshold = "threshold"
	KindTrend     = "trend"
	KindOffline   = "offline"
)

// Rule is a compiled, validated alert rule.
type Rule struct {
	Name     string
	Station  string // station ID or "*"
	Kind     string
	Severity string

	// Threshold rules.
	Raise Condition
	Clear Condition

	// Trend rules.
	Channel   string
	Direction model.Direction
	MinAvg    float64

	// Optional severity escalation within the triggered state.
	EscalateAt float64
	EscalateTo string
}

// Matches reports whether the rule scopes the given station.
func (r *Rule) Matches(stationID string) bool {
	return r.Station == "*" || r.Station == stationID
}

// CompileRules turns configured rules into compiled ones, enforcing the
// hysteresis constraint: the clear threshold must be strictly less severe
// than the raise threshold. Equal thresholds are a configuration error, not a
// silently allowed flapping risk.
func CompileRules(cfgRules []config.AlertRule) ([]Rule, error) {
	out := make([]Rule, 0, len(cfgRules))
	for _, cr := range cfgRules {
		r := Rule{
			Name:       cr.Name,
			Station:    cr.Station,
			Kind:       cr.Kind,
			Severity:   cr.Severity,
			EscalateAt: cr.EscalateAt,
			EscalateTo: cr.EscalateTo,
		}
		if r.Station == "" {
			r.Station = "*"
		}
		if r.Kind == "" {
			r.Kind = KindThreshold
		}
		if r.Severity == "" {
			r.Severity = "warning"
		}

		switch r.Kind {
		case KindThreshold:
			raise, err := ParseCondition(cr.Raise)
			if err != nil {
				return nil, fmt.Errorf("rule %q: raise: %w", cr.Name, err)
			}
			clear, err := ParseCondition(cr.Clear)
			if err != nil {
				return nil, fmt.Errorf("rule %q: clear: %w", cr.Name, err)
			}
			if err := checkHysteresis(raise, clear); err != nil {
				return nil, fmt.Errorf("rule %q: %w", cr.Name, err)
			}
			if !model.KnownChannel(raise.Channel) {
				return nil, fmt.Errorf("rule %q: unknown channel %q", cr.Name, raise.Channel)
			}
			r.Raise = raise
			r.Clear = clear
			r.Channel = raise.Channel

		case KindTrend:
			if cr.Channel == "" {
				return nil, fmt.Errorf("rule %q: trend rule needs a channel", cr.Name)
			}
			if !model.KnownChannel(cr.Channel) {
				return nil, fmt.Errorf("rule %q: unknown channel %q", cr.Name, cr.Channel)
			}
			if cr.MinAvg < 0 {
				return nil, fmt.Errorf("rule %q: min_avg must not be negative", cr.Name)
			}
			r.MinAvg = cr.MinAvg
			switch model.Direction(cr.Direction) {
			case model.DirectionIncreasing, model.DirectionDecreasing:
				r.Direction = model.Direction(cr.Direction)
			default:
				return nil, fmt.Errorf("rule %q: direction %q: want increasing|decreasing", cr.Name, cr.Direction)
			}
			r.Channel = cr.Channel

		case KindOffline:
			// No conditions: raised by missed intervals, cleared by the next
			// committed reading.

		default:
			return nil, fmt.Errorf("rule %q: kind %q unknown: want threshold|trend|offline", cr.Name, cr.Kind)
		}

		if r.EscalateAt != 0 && r.EscalateTo == "" {
			return nil, fmt.Errorf("rule %q: escalate_at without escalate_to", cr.Name)
		}

		out = append(out, r)
	}
	return out, nil
}

// checkHysteresis validates the raise/clear threshold pair.
func checkHysteresis(raise, clear Condition) error {
	if raise.Channel != clear.Channel {
		return fmt.Errorf("raise and clear must watch the same channel (%s vs %s)",
			raise.Channel, clear.Channel)
	}
	if raise.Op == clear.Op {
		return fmt.Errorf("raise and clear must compare in opposite directions")
	}
	switch raise.Op {
	case ">":
		if clear.Threshold >= raise.Threshold {
			return fmt.Errorf("clear threshold %v must be strictly below raise threshold %v",
				clear.Threshold, raise.Threshold)
		}
	case "<":
		if clear.Threshold <= raise.Threshold {
			return fmt.Errorf("clear threshold %v must be strictly above raise threshold %v",
				clear.Threshold, raise.Threshold)
		}
	}
	return nil
}
