package store_test

import (
	"testing"
	"time"

	"github.com/tidewatch/tidewatch/internal/store"
)

func TestCache_SetAndGetLatest(t *testing.T) {
	c := store.NewCache(30 * time.Minute)
	r := reading("44025", t0, 2.0)

	c.SetLatest(r, 1)
	e, ok := c.GetLatest("44025")
	if !ok {
		t.Fatal("GetLatest: entry missing")
	}
	if e.Seq != 1 {
		t.Errorf("seq: got %d, want 1", e.Seq)
	}
	if e.Reading != r {
		t.Error("reading: entry does not hold the published reading")
	}
}

func TestCache_OlderReadingDoesNotSupersede(t *testing.T) {
	c := store.NewCache(30 * time.Minute)
	c.SetLatest(reading("44025", t0, 2.0), 5)

	// A resync republishing older data must not roll the cache back.
	c.SetLatest(reading("44025", t0.Add(-6*time.Minute), 1.5), 4)

	e, _ := c.GetLatest("44025")
	if !e.Reading.Timestamp.Equal(t0) {
		t.Errorf("timestamp: got %v, want %v", e.Reading.Timestamp, t0)
	}
	if e.Seq != 5 {
		t.Errorf("seq: got %d, want 5", e.Seq)
	}
}

func TestCache_ListExcludesStaleEntries(t *testing.T) {
	c := store.NewCache(30 * time.Minute)
	c.SetLatest(reading("44025", t0, 2.0), 1)

	if got := len(c.List()); got != 1 {
		t.Fatalf("List: got %d entries, want 1", got)
	}

	// Evict everything older than TTL relative to a far-future now.
	if n := c.Evict(time.Now().Add(24 * time.Hour)); n != 1 {
		t.Errorf("Evict: got %d, want 1", n)
	}
	if got := len(c.List()); got != 0 {
		t.Errorf("List after evict: got %d entries, want 0", got)
	}
}

func TestCache_EvictKeepsFreshEntries(t *testing.T) {
	c := store.NewCache(30 * time.Minute)
	c.SetLatest(reading("44025", t0, 2.0), 1)

	if n := c.Evict(time.Now()); n != 0 {
		t.Errorf("Evict: got %d, want 0", n)
	}
	if _, ok := c.GetLatest("44025"); !ok {
		t.Error("fresh entry evicted")
	}
}
