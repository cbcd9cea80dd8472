package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tidewatch/tidewatch/internal/model"
)

// Entry is a latest snapshot together with its commit sequence and the time
// it was published.
type Entry struct {
	Reading   *model.Reading
	Seq       uint64
	UpdatedAt time.Time
}

// Cache is the thread-safe latest-snapshot store, keyed by station ID.
// Entries are superseded whole, never merged. A background goroutine (Run)
// periodically evicts entries that have not been updated within the TTL.
type Cache struct {
	mu   sync.RWMutex
	data map[string]*Entry
	ttl  time.Duration
	now  func() time.Time // injectable for deterministic tests
}

// NewCache creates a Cache with the given TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		data: make(map[string]*Entry),
		ttl:  ttl,
		now:  time.Now,
	}
}

// SetLatest publishes r as the station's latest snapshot. A reading that is
// not newer than the current entry is ignored, which keeps scheduled resyncs
// from rolling the cache backwards. Callers must not modify r afterwards.
func (c *Cache) SetLatest(r *model.Reading, seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.data[r.StationID]; ok && !r.Timestamp.After(cur.Reading.Timestamp) {
		return
	}
	c.data[r.StationID] = &Entry{
		Reading:   r,
		Seq:       seq,
		UpdatedAt: c.now(),
	}
}

// GetLatest returns the station's entry and whether one was found.
// The entry may be stale if TTL has elapsed without a new commit.
func (c *Cache) GetLatest(stationID string) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.data[stationID]
	return e, ok
}

// List returns all entries whose UpdatedAt is within the TTL.
func (c *Cache) List() []*Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cutoff := c.now().Add(-c.ttl)
	out := make([]*Entry, 0, len(c.data))
	for _, e := range c.data {
		if e.UpdatedAt.After(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// TTL returns the configured staleness horizon.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Evict removes entries older than now minus TTL and returns the count removed.
func (c *Cache) Evict(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := now.Add(-c.ttl)
	removed := 0
	for id, e := range c.data {
		if !e.UpdatedAt.After(cutoff) {
			delete(c.data, id)
			removed++
		}
	}
	return removed
}

// Run starts the background TTL eviction loop. It ticks at half the TTL
// interval (minimum 1 second). Run blocks until ctx is cancelled.
func (c *Cache) Run(ctx context.Context) {
	interval := c.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := c.Evict(now); n > 0 {
				slog.Debug("cache: evicted stale snapshots", "count", n)
			}
		}
	}
}
