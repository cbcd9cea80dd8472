package ingest

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/tidewatch/tidewatch/internal/config"
	"github.com/tidewatch/tidewatch/internal/model"
	"github.com/tidewatch/tidewatch/internal/upstream"
)

// Validation rejection reasons, matchable with errors.Is.
var (
	// ErrShape rejects payloads missing a timestamp or carrying no channel values.
	ErrShape = errors.New("ingest: malformed shape")

	// ErrOutOfRange rejects a channel value outside its physical bounds.
	ErrOutOfRange = errors.New("ingest: value out of physical bounds")

	// ErrStale rejects a source timestamp not newer than the previous accepted
	// reading. Out-of-order readings are rejected, never reordered.
	ErrStale = errors.New("ingest: stale or out-of-order timestamp")
)

// Validate turns a raw payload into a Reading or rejects it with a reason.
// prev is the station's previous accepted reading (nil for the first).
// Checks run in a fixed order and the first failure wins.
func Validate(p *upstream.RawPayload, prev *model.Reading, bounds map[string]config.ChannelBounds, now time.Time) (*model.Reading, error) {
	// (a) shape: a timestamp and at least one channel value.
	if p.Timestamp.IsZero() {
		return nil, fmt.Errorf("%w: missing timestamp (station %s)", ErrShape, p.StationID)
	}
	if len(p.Channels) == 0 {
		return nil, fmt.Errorf("%w: no channel values (station %s)", ErrShape, p.StationID)
	}

	// (b) physical bounds per channel.
	for ch, v := range p.Channels {
		b, ok := bounds[ch]
		if !ok {
			continue // unconfigured channels pass through unchecked
		}
		if v < b.Min || v > b.Max {
			return nil, fmt.Errorf("%w: %s=%v outside [%v, %v] (station %s)",
				ErrOutOfRange, ch, v, b.Min, b.Max, p.StationID)
		}
	}

	// (c) staleness: strictly newer than the previous accepted reading.
	if prev != nil && !p.Timestamp.After(prev.Timestamp) {
		return nil, fmt.Errorf("%w: %s not after %s (station %s)",
			ErrStale, p.Timestamp.Format(time.RFC3339), prev.Timestamp.Format(time.RFC3339), p.StationID)
	}

	// (d) jump: an implausible single-step delta flags the reading suspect.
	// The observation is kept; trend windows and alert evaluation skip it.
	status := model.StatusValid
	if prev != nil {
		for ch, v := range p.Channels {
			b, ok := bounds[ch]
			if !ok || b.MaxJump <= 0 {
				continue
			}
			pv, had := prev.Channels[ch]
			if had && math.Abs(v-pv) > b.MaxJump {
				status = model.StatusSuspect
				break
			}
		}
	}

	channels := make(map[string]float64, len(p.Channels))
	for ch, v := range p.Channels {
		channels[ch] = v
	}

	return &model.Reading{
		StationID:  p.StationID,
		Timestamp:  p.Timestamp,
		IngestedAt: now,
		Channels:   channels,
		Status:     status,
	}, nil
}
