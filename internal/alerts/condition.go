package alerts

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tidewatch/tidewatch/internal/model"
)

// Condition is a compiled threshold expression over one channel.
// Only strict comparisons are allowed: hysteresis needs an unambiguous gap
// between the raise and clear thresholds.
type Condition struct {
	Channel   string
	Op        string // ">" | "<"
	Threshold float64
}

// ParseCondition compiles an expression of the form "channel op value",
// e.g. "wave_height > 4.0".
func ParseCondition(expr string) (Condition, error) {
	parts := strings.Fields(expr)
	if len(parts) != 3 {
		return Condition{}, fmt.Errorf("condition %q: want \"channel op value\"", expr)
	}
	channel, op, rhs := parts[0], parts[1], parts[2]

	switch op {
	case ">", "<":
	default:
		return Condition{}, fmt.Errorf("condition %q: operator %q not supported: want > or <", expr, op)
	}

	threshold, err := strconv.ParseFloat(rhs, 64)
	if err != nil {
		return Condition{}, fmt.Errorf("condition %q: bad threshold %q", expr, rhs)
	}

	return Condition{Channel: channel, Op: op, Threshold: threshold}, nil
}

// Eval tests the condition against a reading. Returns (matched, value); a
// reading without the channel never matches.
func (c Condition) Eval(r *model.Reading) (bool, float64) {
	v, ok := r.Channels[c.Channel]
	if !ok {
		return false, 0
	}
	return compareFloat(v, c.Op, c.Threshold), v
}

// compareFloat applies a strict comparison operator.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case "<":
		return v < threshold
	default:
		return false
	}
}
