package hub

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tidewatch/tidewatch/internal/model"
	"github.com/tidewatch/tidewatch/internal/store"
)

var subscriptionsDropped = promauto.NewCounter(prometheus.CounterOpts{
	Name: "tidewatch_subscriptions_dropped_total",
	Help: "Subscriptions forcibly closed after exceeding their backlog limit.",
})

// Subscription is one live consumer's delivery state. Created by Subscribe,
// destroyed on Unsubscribe or when its backlog overflows.
type Subscription struct {
	ID string

	interest map[string]struct{} // nil means all stations
	send     chan []byte
	lastSeq  map[string]uint64 // guarded by the hub mutex

	closeOnce sync.Once
}

// Updates is the subscription's outbound queue. The channel is closed when
// the subscription ends; transports must drain it promptly.
func (s *Subscription) Updates() <-chan []byte { return s.send }

// wants reports whether the subscription's interest set covers the station.
func (s *Subscription) wants(stationID string) bool {
	if s.interest == nil {
		return true
	}
	_, ok := s.interest[stationID]
	return ok
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() { close(s.send) })
}

// Hub maintains the subscription registry and delivers committed updates.
// Registry mutations happen under a narrow lock; the actual byte delivery is
// performed by transport goroutines draining each subscription's queue, so a
// slow network write never blocks registry operations.
type Hub struct {
	cache   *store.Cache
	backlog int

	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// New creates a Hub reading catch-up snapshots from cache. backlog is the
// per-subscription queue depth.
func New(cache *store.Cache, backlog int) *Hub {
	return &Hub{
		cache:   cache,
		backlog: backlog,
		subs:    make(map[*Subscription]struct{}),
	}
}

// Subscribe registers a new subscription. stations filters the interest set;
// empty means all stations. The current latest snapshot for every station in
// the interest set is enqueued as a catch-up burst before the subscription
// goes live, and its sequence numbers are recorded so the same commits are
// not delivered twice.
func (h *Hub) Subscribe(stations []string) *Subscription {
	sub := &Subscription{
		ID:      uuid.NewString(),
		lastSeq: make(map[string]uint64),
	}
	if len(stations) > 0 {
		sub.interest = make(map[string]struct{}, len(stations))
		for _, id := range stations {
			sub.interest[id] = struct{}{}
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// Catch-up burst inside the registry lock: publishes also hold it, so a
	// commit is either in the burst or delivered live — never both, never
	// neither.
	var burst [][]byte
	for _, e := range h.cache.List() {
		if !sub.wants(e.Reading.StationID) {
			continue
		}
		data, err := marshalUpdate(&model.Update{
			Type:      model.UpdateReading,
			StationID: e.Reading.StationID,
			Seq:       e.Seq,
			Reading:   e.Reading,
		})
		if err != nil {
			continue
		}
		burst = append(burst, data)
		sub.lastSeq[e.Reading.StationID] = e.Seq
	}

	// Every station in the interest set gets its snapshot: when the burst is
	// larger than the backlog, the queue is sized up to hold it. The backlog
	// limit governs live delivery on top of whatever remains undrained.
	depth := h.backlog
	if len(burst) > depth {
		depth = len(burst)
	}
	sub.send = make(chan []byte, depth)
	for _, data := range burst {
		sub.send <- data
	}

	h.subs[sub] = struct{}{}
	slog.Debug("hub: subscription opened", "id", sub.ID, "stations", len(stations))
	return sub
}

// Unsubscribe removes the subscription and closes its queue. Safe to call for
// an already-removed subscription.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub, "disconnect")
}

// Publish delivers a committed update to every interested subscription.
// Callers invoke Publish in per-station commit order; the hub preserves that
// order per queue. A subscription whose backlog is full is forcibly closed.
// Publishing to an already-closed subscription is a no-op.
func (h *Hub) Publish(u *model.Update) {
	data, err := marshalUpdate(u)
	if err != nil {
		slog.Error("hub: encode update", "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs {
		if !sub.wants(u.StationID) {
			continue
		}
		// Reading updates carry the per-station commit sequence; skip what
		// the catch-up burst already covered. Alert transitions share the
		// triggering commit's sequence and must not be skipped.
		if u.Type == model.UpdateReading && u.Seq <= sub.lastSeq[u.StationID] {
			continue
		}

		select {
		case sub.send <- data:
			if u.Type == model.UpdateReading {
				sub.lastSeq[u.StationID] = u.Seq
			}
		default:
			// Slow consumer: its backlog limit is exceeded. Close it rather
			// than let the queue grow without bound.
			subscriptionsDropped.Inc()
			slog.Warn("hub: backlog exceeded — dropping subscription", "id", sub.ID)
			h.removeLocked(sub, "backlog overflow")
		}
	}
}

// Count returns the number of live subscriptions.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription (shutdown path).
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		h.removeLocked(sub, "hub shutdown")
	}
}

// removeLocked drops the subscription from the registry and closes its queue.
// Caller holds h.mu.
func (h *Hub) removeLocked(sub *Subscription, reason string) {
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	sub.close()
	slog.Debug("hub: subscription closed", "id", sub.ID, "reason", reason)
}

func marshalUpdate(u *model.Update) ([]byte, error) {
	return json.Marshal(u)
}
