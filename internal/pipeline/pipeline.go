package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tidewatch/tidewatch/internal/alerts"
	"github.com/tidewatch/tidewatch/internal/config"
	"github.com/tidewatch/tidewatch/internal/fetcher"
	"github.com/tidewatch/tidewatch/internal/hub"
	"github.com/tidewatch/tidewatch/internal/ingest"
	"github.com/tidewatch/tidewatch/internal/model"
	"github.com/tidewatch/tidewatch/internal/store"
	"github.com/tidewatch/tidewatch/internal/upstream"
)

// Pipeline implements fetcher.Handler: it validates raw payloads, computes
// trends over a per-station trailing window, commits through the writer and
// fans the results out. One instance serves all stations; per-station state is
// kept in the window table.
type Pipeline struct {
	writer *store.Writer
	engine *alerts.Engine
	hub    *hub.Hub

	bounds         map[string]config.ChannelBounds
	trendWindow    int
	slopeThreshold float64

	mu      sync.Mutex
	windows map[string][]*model.Reading // recent valid readings, oldest first
}

// New wires a Pipeline over the writer, alert engine and fanout hub.
func New(writer *store.Writer, engine *alerts.Engine, h *hub.Hub, cfg *config.Config) *Pipeline {
	return &Pipeline{
		writer:         writer,
		engine:         engine,
		hub:            h,
		bounds:         cfg.Validation.Bounds,
		trendWindow:    cfg.Trend.Window,
		slopeThreshold: cfg.Trend.SlopeThreshold,
		windows:        make(map[string][]*model.Reading),
	}
}

// Since returns the station's last committed source timestamp as the fetch
// cursor. A recovery failure yields the zero time; the writer will reject any
// replayed duplicates at commit.
func (p *Pipeline) Since(ctx context.Context, stationID string) time.Time {
	ts, err := p.writer.LastTimestamp(ctx, stationID)
	if err != nil {
		slog.Warn("pipeline: last timestamp unavailable", "station", stationID, "err", err)
		return time.Time{}
	}
	return ts
}

// HandlePayload runs one payload through the full path. Validation failures
// and write rejections are audited and end processing; a durable append
// failure is logged and nothing is published for it.
func (p *Pipeline) HandlePayload(ctx context.Context, payload *upstream.RawPayload) {
	prev := p.lastInWindow(payload.StationID)

	r, err := ingest.Validate(payload, prev, p.bounds, time.Now().UTC())
	if err != nil {
		p.writer.RecordRejection(payload.StationID, payload.Timestamp, err.Error())
		return
	}

	r.Trends = ingest.Analyze(r, p.trendSeries(r), p.slopeThreshold)

	tok, err := p.writer.Commit(ctx, r)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) || errors.Is(err, store.ErrOutOfOrder) {
			p.writer.RecordRejection(r.StationID, r.Timestamp, err.Error())
			return
		}
		slog.Error("pipeline: commit failed", "station", r.StationID, "err", err)
		return
	}

	if r.Status == model.StatusValid {
		p.pushWindow(r)
	}

	p.hub.Publish(&model.Update{
		Type:      model.UpdateReading,
		StationID: r.StationID,
		Seq:       tok.Seq,
		Reading:   r,
	})
	p.publishEvents(p.engine.Evaluate(r), tok.Seq)
}

// HandleMalformed audits a payload the source could fetch but not parse.
func (p *Pipeline) HandleMalformed(_ context.Context, stationID string, err error) {
	p.writer.RecordRejection(stationID, time.Time{}, err.Error())
}

// HandleMissed evaluates offline alert rules for a station that produced no
// reading this interval.
func (p *Pipeline) HandleMissed(_ context.Context, m fetcher.Missed) {
	reason := "no data"
	if m.Err != nil {
		reason = m.Err.Error()
	}
	p.publishEvents(p.engine.EvaluateMissed(m.StationID, time.Now().UTC(), reason), 0)
}

func (p *Pipeline) publishEvents(events []alerts.Event, seq uint64) {
	for i := range events {
		ev := &events[i]
		p.hub.Publish(&model.Update{
			Type:      ev.Type,
			StationID: ev.Alert.StationID,
			Seq:       seq,
			Alert:     &ev.Alert,
		})
	}
}

// lastInWindow returns the station's most recent accepted valid reading, used
// as the previous reading for validation. Stations start cold after a restart;
// the writer still enforces timestamp ordering against the durable log.
func (p *Pipeline) lastInWindow(stationID string) *model.Reading {
	p.mu.Lock()
	defer p.mu.Unlock()
	win := p.windows[stationID]
	if len(win) == 0 {
		return nil
	}
	return win[len(win)-1]
}

// trendSeries builds the trend input for r: the station's window plus r itself
// when r is valid. Suspect readings receive trends but never contribute to them.
func (p *Pipeline) trendSeries(r *model.Reading) []*model.Reading {
	p.mu.Lock()
	defer p.mu.Unlock()
	win := p.windows[r.StationID]
	if r.Status != model.StatusValid {
		return win
	}
	out := make([]*model.Reading, len(win), len(win)+1)
	copy(out, win)
	return append(out, r)
}

// pushWindow appends a valid reading to the station's trailing window, bounded
// to the configured size.
func (p *Pipeline) pushWindow(r *model.Reading) {
	p.mu.Lock()
	defer p.mu.Unlock()
	win := append(p.windows[r.StationID], r)
	if len(win) > p.trendWindow {
		win = win[len(win)-p.trendWindow:]
	}
	p.windows[r.StationID] = win
}
