package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tidewatch/tidewatch/internal/model"
)

// Write rejection sentinels, matchable with errors.Is.
var (
	// ErrDuplicate rejects a write whose source timestamp equals the station's
	// last committed timestamp.
	ErrDuplicate = errors.New("store: duplicate reading for interval")

	// ErrOutOfOrder rejects a write older than the last committed timestamp.
	ErrOutOfOrder = errors.New("store: out-of-order reading")
)

// CommitToken identifies a committed write. Seq is the per-station commit
// sequence for this run; fanout delivers a station's updates in Seq order.
type CommitToken struct {
	StationID string
	Seq       uint64
}

// ReadingLog is the durable append-only store, ordered by source timestamp
// per station. Implementations must not reorder or overwrite entries.
type ReadingLog interface {
	// Append durably commits r. An Append that returns nil must survive a
	// process restart before the caller publishes any derived state.
	Append(ctx context.Context, r *model.Reading) error

	// ReadRange returns the station's readings with from <= Timestamp <= to,
	// in ascending timestamp order.
	ReadRange(ctx context.Context, stationID string, from, to time.Time) ([]*model.Reading, error)

	// Latest returns the newest committed reading for the station, or nil
	// when the station has no history.
	Latest(ctx context.Context, stationID string) (*model.Reading, error)
}

// memLogCapacity bounds the per-station ring kept by MemLog.
const memLogCapacity = 4096

// MemLog is an in-memory ReadingLog holding a bounded per-station ring.
// It backs tests and data_dir-less ephemeral runs.
type MemLog struct {
	mu   sync.RWMutex
	data map[string][]*model.Reading
}

// NewMemLog creates an empty MemLog.
func NewMemLog() *MemLog {
	return &MemLog{data: make(map[string][]*model.Reading)}
}

func (l *MemLog) Append(_ context.Context, r *model.Reading) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	buf := l.data[r.StationID]
	if len(buf) >= memLogCapacity {
		buf = buf[1:]
	}
	l.data[r.StationID] = append(buf, r)
	return nil
}

func (l *MemLog) ReadRange(_ context.Context, stationID string, from, to time.Time) ([]*model.Reading, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*model.Reading
	for _, r := range l.data[stationID] {
		if !r.Timestamp.Before(from) && !r.Timestamp.After(to) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (l *MemLog) Latest(_ context.Context, stationID string) (*model.Reading, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	buf := l.data[stationID]
	if len(buf) == 0 {
		return nil, nil
	}
	return buf[len(buf)-1], nil
}
