package ingest_test

import (
	"errors"
	"testing"
	"time"

	"github.com/tidewatch/tidewatch/internal/config"
	"github.com/tidewatch/tidewatch/internal/ingest"
	"github.com/tidewatch/tidewatch/internal/model"
	"github.com/tidewatch/tidewatch/internal/upstream"
)

var testBounds = map[string]config.ChannelBounds{
	"wave_height":       {Min: 0, Max: 30, MaxJump: 5},
	"water_temperature": {Min: -5, Max: 45},
}

// --- helpers ----------------------------------------------------------------

func payload(ts time.Time, channels map[string]float64) *upstream.RawPayload {
	return &upstream.RawPayload{
		StationID: "44025",
		Timestamp: ts,
		Channels:  channels,
		FetchedAt: ts.Add(time.Minute),
	}
}

func reading(ts time.Time, channels map[string]float64) *model.Reading {
	return &model.Reading{
		StationID: "44025",
		Timestamp: ts,
		Channels:  channels,
		Status:    model.StatusValid,
	}
}

// --- tests ------------------------------------------------------------------

func TestValidate_AcceptsWellFormedPayload(t *testing.T) {
	now := time.Now().UTC()
	p := payload(now, map[string]float64{"wave_height": 2.1, "water_temperature": 18.4})

	r, err := ingest.Validate(p, nil, testBounds, now)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if r.Status != model.StatusValid {
		t.Errorf("status: got %s, want %s", r.Status, model.StatusValid)
	}
	if r.Channels["wave_height"] != 2.1 {
		t.Errorf("wave_height: got %v, want 2.1", r.Channels["wave_height"])
	}
	if !r.IngestedAt.Equal(now) {
		t.Errorf("IngestedAt: got %v, want %v", r.IngestedAt, now)
	}
}

func TestValidate_RejectsMissingTimestamp(t *testing.T) {
	p := payload(time.Time{}, map[string]float64{"wave_height": 2.1})

	_, err := ingest.Validate(p, nil, testBounds, time.Now())
	if !errors.Is(err, ingest.ErrShape) {
		t.Errorf("err: got %v, want ErrShape", err)
	}
}

func TestValidate_RejectsEmptyChannels(t *testing.T) {
	p := payload(time.Now(), map[string]float64{})

	_, err := ingest.Validate(p, nil, testBounds, time.Now())
	if !errors.Is(err, ingest.ErrShape) {
		t.Errorf("err: got %v, want ErrShape", err)
	}
}

func TestValidate_RejectsOutOfBoundsValue(t *testing.T) {
	p := payload(time.Now(), map[string]float64{"wave_height": 45.0})

	_, err := ingest.Validate(p, nil, testBounds, time.Now())
	if !errors.Is(err, ingest.ErrOutOfRange) {
		t.Errorf("err: got %v, want ErrOutOfRange", err)
	}
}

func TestValidate_UnconfiguredChannelPassesUnchecked(t *testing.T) {
	p := payload(time.Now(), map[string]float64{"wind_speed": 999})

	if _, err := ingest.Validate(p, nil, testBounds, time.Now()); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidate_RejectsStaleTimestamp(t *testing.T) {
	now := time.Now().UTC()
	prev := reading(now, map[string]float64{"wave_height": 2.0})

	for _, ts := range []time.Time{now, now.Add(-time.Minute)} {
		p := payload(ts, map[string]float64{"wave_height": 2.1})
		_, err := ingest.Validate(p, prev, testBounds, now)
		if !errors.Is(err, ingest.ErrStale) {
			t.Errorf("ts=%v: got %v, want ErrStale", ts, err)
		}
	}
}

func TestValidate_JumpFlagsSuspectButKeeps(t *testing.T) {
	now := time.Now().UTC()
	prev := reading(now.Add(-6*time.Minute), map[string]float64{"wave_height": 2.0})
	p := payload(now, map[string]float64{"wave_height": 9.0}) // delta 7 > max_jump 5

	r, err := ingest.Validate(p, prev, testBounds, now)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if r.Status != model.StatusSuspect {
		t.Errorf("status: got %s, want %s", r.Status, model.StatusSuspect)
	}
	if r.Channels["wave_height"] != 9.0 {
		t.Errorf("value: got %v, want 9.0 (suspect readings are kept)", r.Channels["wave_height"])
	}
}

func TestValidate_JumpWithinLimitStaysValid(t *testing.T) {
	now := time.Now().UTC()
	prev := reading(now.Add(-6*time.Minute), map[string]float64{"wave_height": 2.0})
	p := payload(now, map[string]float64{"wave_height": 6.5}) // delta 4.5 <= 5

	r, err := ingest.Validate(p, prev, testBounds, now)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if r.Status != model.StatusValid {
		t.Errorf("status: got %s, want %s", r.Status, model.StatusValid)
	}
}

func TestValidate_BoundsBeforeStaleness(t *testing.T) {
	// Same payload violates both bounds and staleness; bounds must win.
	now := time.Now().UTC()
	prev := reading(now, map[string]float64{"wave_height": 2.0})
	p := payload(now.Add(-time.Minute), map[string]float64{"wave_height": 45.0})

	_, err := ingest.Validate(p, prev, testBounds, now)
	if !errors.Is(err, ingest.ErrOutOfRange) {
		t.Errorf("err: got %v, want ErrOutOfRange (fixed check order)", err)
	}
}
