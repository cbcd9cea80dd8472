package fetcher

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tidewatch/tidewatch/internal/catalog"
	"github.com/tidewatch/tidewatch/internal/config"
	"github.com/tidewatch/tidewatch/internal/upstream"
)

var (
	fetchAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tidewatch_fetch_attempts_total",
		Help: "Upstream fetch attempts, per station.",
	}, []string{"station"})

	fetchFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tidewatch_fetch_failures_total",
		Help: "Failed upstream fetch attempts, per station.",
	}, []string{"station"})

	missedIntervalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tidewatch_missed_intervals_total",
		Help: "Intervals with no reading after exhausting retries, per station.",
	}, []string{"station"})
)

// Missed signals that a station produced no reading for one interval.
type Missed struct {
	StationID     string
	IntervalStart time.Time
	Err           error
}

// Handler consumes fetch outcomes. Implementations process each call
// synchronously in the calling goroutine, which keeps per-station ordering.
type Handler interface {
	// Since returns the station's last accepted source timestamp, used as the
	// fetch cursor. The zero time means no history.
	Since(ctx context.Context, stationID string) time.Time

	// HandlePayload processes a successfully fetched raw payload.
	HandlePayload(ctx context.Context, p *upstream.RawPayload)

	// HandleMalformed records a non-retryable parse failure.
	HandleMalformed(ctx context.Context, stationID string, err error)

	// HandleMissed records a missed-interval signal.
	HandleMissed(ctx context.Context, m Missed)
}

// Fetcher drives the per-interval fetch cycle over the active station catalog.
type Fetcher struct {
	src      upstream.Source
	registry *catalog.Registry
	handler  Handler
	cfg      config.FetchConfig

	sem chan struct{} // bounds concurrent upstream requests

	mu       sync.Mutex
	inFlight map[string]bool
}

// New creates a Fetcher. handler receives every outcome.
func New(src upstream.Source, registry *catalog.Registry, handler Handler, cfg config.FetchConfig) *Fetcher {
	return &Fetcher{
		src:      src,
		registry: registry,
		handler:  handler,
		cfg:      cfg,
		sem:      make(chan struct{}, cfg.Concurrency),
		inFlight: make(map[string]bool),
	}
}

// Run executes fetch cycles until ctx is cancelled. The first cycle starts
// immediately; subsequent cycles follow the configured interval.
func (f *Fetcher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()

	f.cycle(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			f.cycle(ctx, t)
		}
	}
}

// cycle launches one fetch task per active station. Tasks share a deadline at
// the next interval boundary so retries cannot bleed into the next cycle.
func (f *Fetcher) cycle(ctx context.Context, start time.Time) {
	cctx, cancel := context.WithDeadline(ctx, start.Add(f.cfg.Interval))
	stations := f.registry.Current().Active()

	var wg sync.WaitGroup
	for _, st := range stations {
		if !f.claim(st.ID) {
			// The previous cycle's task has not finished (should not happen
			// given the deadline, but never double-fetch a station).
			slog.Warn("fetcher: station still in flight — skipping cycle", "station", st.ID)
			continue
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer f.release(id)
			f.fetchStation(cctx, id, start)
		}(st.ID)
	}

	go func() {
		wg.Wait()
		cancel()
	}()
}

// fetchStation runs the attempt/retry sequence for one station within the
// interval budget. The concurrency slot is held only while a request is in
// flight, so a station backing off never starves the others.
func (f *Fetcher) fetchStation(ctx context.Context, stationID string, intervalStart time.Time) {
	since := f.handler.Since(ctx, stationID)
	bo := newBackoff(f.cfg.BackoffBase, f.cfg.BackoffCap)

	var lastErr error
	for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
		if err := f.acquire(ctx); err != nil {
			f.missed(ctx, stationID, intervalStart, lastErr)
			return
		}
		fetchAttemptsTotal.WithLabelValues(stationID).Inc()
		payload, err := f.src.Fetch(ctx, stationID, since)
		<-f.sem

		if err == nil {
			f.handler.HandlePayload(ctx, payload)
			return
		}
		lastErr = err

		if upstream.IsMalformed(err) {
			// Retrying cannot fix a malformed payload.
			fetchFailuresTotal.WithLabelValues(stationID).Inc()
			f.handler.HandleMalformed(ctx, stationID, err)
			return
		}

		if !errors.Is(err, upstream.ErrNoNewData) {
			fetchFailuresTotal.WithLabelValues(stationID).Inc()
		}

		wait := bo.next()
		var rl *upstream.RateLimitError
		if errors.As(err, &rl) && rl.RetryAfter > wait {
			wait = rl.RetryAfter
		}

		slog.Debug("fetcher: attempt failed",
			"station", stationID, "attempt", attempt+1, "retry_in", wait, "err", err)

		select {
		case <-ctx.Done():
			f.missed(ctx, stationID, intervalStart, lastErr)
			return
		case <-time.After(wait):
		}
	}

	f.missed(ctx, stationID, intervalStart, lastErr)
}

func (f *Fetcher) missed(ctx context.Context, stationID string, intervalStart time.Time, err error) {
	missedIntervalsTotal.WithLabelValues(stationID).Inc()
	f.handler.HandleMissed(ctx, Missed{
		StationID:     stationID,
		IntervalStart: intervalStart,
		Err:           err,
	})
}

func (f *Fetcher) acquire(ctx context.Context) error {
	select {
	case f.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Fetcher) claim(stationID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inFlight[stationID] {
		return false
	}
	f.inFlight[stationID] = true
	return true
}

func (f *Fetcher) release(stationID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.inFlight, stationID)
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	current time.Duration
	cap     time.Duration
}

func newBackoff(base, cap time.Duration) *backoff {
	return &backoff{current: base, cap: cap}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// Apply ±25% jitter.
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current *= 2
	if b.current > b.cap {
		b.current = b.cap
	}
	return d
}
