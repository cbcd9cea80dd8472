package catalog

import (
	"sync/atomic"

	"github.com/tidewatch/tidewatch/internal/config"
)

// Station statuses.
const (
	StatusActive  = "active"
	StatusRetired = "retired"
)

// Station is one monitored sensor location. Immutable during a run; status
// transitions arrive as whole-catalog refreshes.
type Station struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Channels  []string `json:"channels"`
	Status    string   `json:"status"`
}

// Active reports whether the station should be fetched.
func (s *Station) Active() bool { return s.Status == StatusActive }

// Snapshot is an immutable catalog view. Do not mutate after construction.
type Snapshot struct {
	byID  map[string]*Station
	order []*Station // config order, for stable listings
}

// FromConfig builds a Snapshot from the stations section of the config file.
func FromConfig(stations []config.StationConfig) *Snapshot {
	snap := &Snapshot{byID: make(map[string]*Station, len(stations))}
	for _, sc := range stations {
		status := sc.Status
		if status == "" {
			status = StatusActive
		}
		st := &Station{
			ID:        sc.ID,
			Name:      sc.Name,
			Latitude:  sc.Latitude,
			Longitude: sc.Longitude,
			Channels:  append([]string(nil), sc.Channels...),
			Status:    status,
		}
		snap.byID[st.ID] = st
		snap.order = append(snap.order, st)
	}
	return snap
}

// Get returns the station with the given ID, or nil.
func (s *Snapshot) Get(id string) *Station { return s.byID[id] }

// All returns every station in config order.
func (s *Snapshot) All() []*Station { return s.order }

// Active returns the stations the fetcher should poll, in config order.
func (s *Snapshot) Active() []*Station {
	out := make([]*Station, 0, len(s.order))
	for _, st := range s.order {
		if st.Active() {
			out = append(out, st)
		}
	}
	return out
}

// Registry publishes the current catalog Snapshot to concurrent readers.
type Registry struct {
	current atomic.Pointer[Snapshot]
}

// NewRegistry creates a Registry holding snap.
func NewRegistry(snap *Snapshot) *Registry {
	r := &Registry{}
	r.current.Store(snap)
	return r
}

// Current returns the live Snapshot. The returned value is immutable.
func (r *Registry) Current() *Snapshot { return r.current.Load() }

// Swap replaces the live Snapshot (copy-on-refresh).
func (r *Registry) Swap(snap *Snapshot) { r.current.Store(snap) }
