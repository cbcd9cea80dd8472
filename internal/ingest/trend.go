package ingest

import (
	"github.com/tidewatch/tidewatch/internal/model"
)

// Analyze computes per-channel trend fields from the trailing window.
//
// window holds the station's most recent accepted valid readings, oldest
// first, already bounded to the configured size by the caller. The current
// reading is included in window only when it is valid — suspect readings are
// excluded from trend inputs but still receive the trend computed from the
// surviving history.
//
// The direction classifier compares the average per-step slope against
// slopeThreshold so sensor noise does not flip the direction on every cycle.
func Analyze(r *model.Reading, window []*model.Reading, slopeThreshold float64) map[string]model.Trend {
	trends := make(map[string]model.Trend, len(r.Channels))
	for ch := range r.Channels {
		values := channelSeries(window, ch)
		if len(values) == 0 {
			continue
		}
		trends[ch] = model.Trend{
			Avg:       mean(values),
			Direction: classify(values, slopeThreshold),
		}
	}
	return trends
}

// channelSeries extracts the channel's values from the window, skipping
// readings where the sensor did not report.
func channelSeries(window []*model.Reading, channel string) []float64 {
	out := make([]float64, 0, len(window))
	for _, r := range window {
		if v, ok := r.Channels[channel]; ok {
			out = append(out, v)
		}
	}
	return out
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// classify returns the three-state direction for a value series. With fewer
// than two points there is no slope and the direction is stable.
func classify(values []float64, slopeThreshold float64) model.Direction {
	if len(values) < 2 {
		return model.DirectionStable
	}
	slope := (values[len(values)-1] - values[0]) / float64(len(values)-1)
	switch {
	case slope > slopeThreshold:
		return model.DirectionIncreasing
	case slope < -slopeThreshold:
		return model.DirectionDecreasing
	default:
		return model.DirectionStable
	}
}
