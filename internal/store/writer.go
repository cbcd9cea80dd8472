package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tidewatch/tidewatch/internal/model"
)

var (
	commitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tidewatch_commits_total",
		Help: "Readings committed to the durable log, per station.",
	}, []string{"station"})

	writeRejectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tidewatch_write_rejects_total",
		Help: "Writes rejected by the writer, per station and reason.",
	}, []string{"station", "reason"})

	rejectedIngestionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tidewatch_rejected_ingestions_total",
		Help: "Payloads rejected before the durable log, per station.",
	}, []string{"station"})
)

// rejectionHistoryLen bounds the in-memory rejected-ingestion audit trail.
const rejectionHistoryLen = 200

// Rejection is one audited rejected-ingestion event. Rejected payloads never
// reach the durable log or the cache.
type Rejection struct {
	StationID string    `json:"station_id"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
	At        time.Time `json:"at"`
}

// Writer commits validated readings to the durable log and then publishes
// them to the latest-snapshot cache.
//
// Writes for different stations proceed concurrently; writes for one station
// are serialized through its entry in the keyed lock table and accepted only
// in strictly increasing source-timestamp order. A nil error from Commit means
// the durable append succeeded before the cache was touched.
type Writer struct {
	log   ReadingLog
	cache *Cache

	mu       sync.Mutex
	stations map[string]*stationState

	rejMu      sync.Mutex
	rejections []Rejection
}

// stationState is the per-station serialization point.
type stationState struct {
	mu        sync.Mutex
	lastTS    time.Time
	seq       uint64
	recovered bool
}

// NewWriter creates a Writer over the given log and cache.
func NewWriter(log ReadingLog, cache *Cache) *Writer {
	return &Writer{
		log:      log,
		cache:    cache,
		stations: make(map[string]*stationState),
	}
}

// Commit appends r to the durable log and, only after the append succeeds,
// publishes it to the cache. Duplicate and out-of-order timestamps are
// rejected with ErrDuplicate / ErrOutOfOrder. Once initiated, a commit runs to
// completion; callers must not cancel ctx mid-append to abort it.
func (w *Writer) Commit(ctx context.Context, r *model.Reading) (CommitToken, error) {
	st := w.state(r.StationID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.recovered {
		if err := w.recover(ctx, r.StationID, st); err != nil {
			return CommitToken{}, err
		}
	}

	if !st.lastTS.IsZero() {
		if r.Timestamp.Equal(st.lastTS) {
			writeRejectsTotal.WithLabelValues(r.StationID, "duplicate").Inc()
			return CommitToken{}, fmt.Errorf("%w: station %s at %s",
				ErrDuplicate, r.StationID, r.Timestamp.Format(time.RFC3339))
		}
		if r.Timestamp.Before(st.lastTS) {
			writeRejectsTotal.WithLabelValues(r.StationID, "out_of_order").Inc()
			return CommitToken{}, fmt.Errorf("%w: station %s: %s before %s",
				ErrOutOfOrder, r.StationID, r.Timestamp.Format(time.RFC3339), st.lastTS.Format(time.RFC3339))
		}
	}

	// Durable append first. If it fails the cache stays untouched and the
	// station's last committed timestamp does not advance.
	if err := w.log.Append(ctx, r); err != nil {
		return CommitToken{}, fmt.Errorf("durable append: %w", err)
	}

	st.lastTS = r.Timestamp
	st.seq++
	commitsTotal.WithLabelValues(r.StationID).Inc()

	// The durable log is the source of truth: a cache publish cannot fail the
	// commit, and Resync repairs any divergence.
	w.cache.SetLatest(r, st.seq)

	return CommitToken{StationID: r.StationID, Seq: st.seq}, nil
}

// LastTimestamp returns the station's last committed source timestamp,
// recovering it from the durable log on first use.
func (w *Writer) LastTimestamp(ctx context.Context, stationID string) (time.Time, error) {
	st := w.state(stationID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.recovered {
		if err := w.recover(ctx, stationID, st); err != nil {
			return time.Time{}, err
		}
	}
	return st.lastTS, nil
}

// RecordRejection audits a payload that failed validation or parsing.
// Rejected events never reach the durable log or the cache.
func (w *Writer) RecordRejection(stationID string, ts time.Time, reason string) {
	rejectedIngestionsTotal.WithLabelValues(stationID).Inc()
	slog.Warn("writer: rejected ingestion",
		"station", stationID,
		"timestamp", ts,
		"reason", reason,
	)

	w.rejMu.Lock()
	defer w.rejMu.Unlock()
	w.rejections = append(w.rejections, Rejection{
		StationID: stationID,
		Timestamp: ts,
		Reason:    reason,
		At:        time.Now().UTC(),
	})
	if len(w.rejections) > rejectionHistoryLen {
		w.rejections = w.rejections[len(w.rejections)-rejectionHistoryLen:]
	}
}

// Rejections returns a copy of the recent rejected-ingestion audit trail,
// oldest first.
func (w *Writer) Rejections() []Rejection {
	w.rejMu.Lock()
	defer w.rejMu.Unlock()
	out := make([]Rejection, len(w.rejections))
	copy(out, w.rejections)
	return out
}

// Resync republishes each station's durable tail to the cache. The cache
// ignores entries that are not newer than what it already holds, so a resync
// never rolls the cache backwards.
func (w *Writer) Resync(ctx context.Context, stationIDs []string) error {
	var firstErr error
	for _, id := range stationIDs {
		r, err := w.log.Latest(ctx, id)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("resync %s: %w", id, err)
			}
			continue
		}
		if r == nil {
			continue
		}
		st := w.state(id)
		st.mu.Lock()
		w.cache.SetLatest(r, st.seq)
		st.mu.Unlock()
	}
	return firstErr
}

func (w *Writer) state(stationID string) *stationState {
	w.mu.Lock()
	defer w.mu.Unlock()
	st, ok := w.stations[stationID]
	if !ok {
		st = &stationState{}
		w.stations[stationID] = st
	}
	return st
}

// recover initializes the station's last committed timestamp from the durable
// log tail. Caller holds st.mu.
func (w *Writer) recover(ctx context.Context, stationID string, st *stationState) error {
	r, err := w.log.Latest(ctx, stationID)
	if err != nil {
		return fmt.Errorf("recover %s: %w", stationID, err)
	}
	if r != nil {
		st.lastTS = r.Timestamp
	}
	st.recovered = true
	return nil
}
