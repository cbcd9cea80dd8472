package alerts_test

import (
	"sync"
	"testing"
	"time"

	"github.com/tidewatch/tidewatch/internal/alerts"
	"github.com/tidewatch/tidewatch/internal/config"
	"github.com/tidewatch/tidewatch/internal/model"
)

var t0 = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

// --- helpers ----------------------------------------------------------------

func highWaves() config.AlertRule {
	return config.AlertRule{
		Name:     "high-waves",
		Station:  "*",
		Kind:     "threshold",
		Raise:    "wave_height > 5.0",
		Clear:    "wave_height < 4.0",
		Severity: "warning",
	}
}

func newEngine(t *testing.T, rules ...config.AlertRule) *alerts.Engine {
	t.Helper()
	e, err := alerts.New(config.AlertsConfig{Rules: rules})
	if err != nil {
		t.Fatalf("alerts.New: %v", err)
	}
	return e
}

func wave(station string, step int, height float64) *model.Reading {
	return &model.Reading{
		StationID: station,
		Timestamp: t0.Add(time.Duration(step) * 6 * time.Minute),
		Channels:  map[string]float64{"wave_height": height},
		Status:    model.StatusValid,
	}
}

func openCount(e *alerts.Engine) int {
	n := 0
	for _, a := range e.Active() {
		if a.State == model.AlertOpen {
			n++
		}
	}
	return n
}

// recordSink collects transitions for assertions.
type recordSink struct {
	mu     sync.Mutex
	opened []model.Alert
	closed []model.Alert
}

func (s *recordSink) OnAlertOpened(a *model.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = append(s.opened, *a)
}

func (s *recordSink) OnAlertClosed(a *model.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = append(s.closed, *a)
}

// slowOpenSink records transition order while taking its time on opens.
type slowOpenSink struct {
	mu  sync.Mutex
	seq []model.AlertState
}

func (s *slowOpenSink) OnAlertOpened(a *model.Alert) {
	time.Sleep(20 * time.Millisecond)
	s.record(a.State)
}

func (s *slowOpenSink) OnAlertClosed(a *model.Alert) { s.record(a.State) }

func (s *slowOpenSink) record(st model.AlertState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq = append(s.seq, st)
}

// --- tests ------------------------------------------------------------------

func TestEngine_HysteresisLifecycle(t *testing.T) {
	e := newEngine(t, highWaves())

	// 4.5: below raise, nothing opens.
	if evs := e.Evaluate(wave("44025", 0, 4.5)); len(evs) != 0 {
		t.Fatalf("4.5: got %d events, want 0", len(evs))
	}

	// 5.5: crosses raise, exactly one open event.
	evs := e.Evaluate(wave("44025", 1, 5.5))
	if len(evs) != 1 || evs[0].Type != model.UpdateAlertOpened {
		t.Fatalf("5.5: got %+v, want one alert_opened", evs)
	}
	alertID := evs[0].Alert.ID

	// 4.8: inside the hysteresis band — no transition, still one open alert.
	if evs := e.Evaluate(wave("44025", 2, 4.8)); len(evs) != 0 {
		t.Fatalf("4.8: got %d events, want 0 (hysteresis band)", len(evs))
	}
	if n := openCount(e); n != 1 {
		t.Fatalf("open after 4.8: got %d, want 1", n)
	}

	// 3.5: crosses clear, the same alert closes.
	evs = e.Evaluate(wave("44025", 3, 3.5))
	if len(evs) != 1 || evs[0].Type != model.UpdateAlertClosed {
		t.Fatalf("3.5: got %+v, want one alert_closed", evs)
	}
	if evs[0].Alert.ID != alertID {
		t.Errorf("closed alert ID: got %s, want %s", evs[0].Alert.ID, alertID)
	}
	if n := openCount(e); n != 0 {
		t.Errorf("open after clear: got %d, want 0", n)
	}
}

func TestEngine_SingleOpenAlertPerRuleAndStation(t *testing.T) {
	e := newEngine(t, highWaves())

	e.Evaluate(wave("44025", 0, 5.5))
	// Repeated triggering readings re-affirm, never duplicate.
	for step := 1; step < 4; step++ {
		if evs := e.Evaluate(wave("44025", step, 6.0)); len(evs) != 0 {
			t.Fatalf("step %d: got %d events, want 0 (re-affirm)", step, len(evs))
		}
	}
	if n := openCount(e); n != 1 {
		t.Errorf("open: got %d, want 1", n)
	}
}

func TestEngine_StationsTrackedIndependently(t *testing.T) {
	e := newEngine(t, highWaves())

	e.Evaluate(wave("44025", 0, 5.5))
	e.Evaluate(wave("41002", 0, 6.0))
	if n := openCount(e); n != 2 {
		t.Fatalf("open: got %d, want 2", n)
	}

	e.Evaluate(wave("44025", 1, 3.0))
	if n := openCount(e); n != 1 {
		t.Errorf("open after one station cleared: got %d, want 1", n)
	}
}

func TestEngine_EscalationKeepsAlertID(t *testing.T) {
	rule := highWaves()
	rule.EscalateAt = 8.0
	rule.EscalateTo = "critical"
	e := newEngine(t, rule)

	evs := e.Evaluate(wave("44025", 0, 5.5))
	if len(evs) != 1 {
		t.Fatalf("open: got %d events, want 1", len(evs))
	}
	id := evs[0].Alert.ID
	if evs[0].Alert.Severity != "warning" {
		t.Fatalf("severity at open: got %s, want warning", evs[0].Alert.Severity)
	}

	evs = e.Evaluate(wave("44025", 1, 8.5))
	if len(evs) != 1 || evs[0].Type != model.UpdateAlertOpened {
		t.Fatalf("escalation: got %+v, want one alert_opened re-notification", evs)
	}
	if evs[0].Alert.ID != id {
		t.Errorf("escalated ID: got %s, want %s (same alert)", evs[0].Alert.ID, id)
	}
	if evs[0].Alert.Severity != "critical" {
		t.Errorf("escalated severity: got %s, want critical", evs[0].Alert.Severity)
	}
	if n := openCount(e); n != 1 {
		t.Errorf("open after escalation: got %d, want 1", n)
	}
}

func TestEngine_SuspectReadingsSkipped(t *testing.T) {
	e := newEngine(t, highWaves())

	r := wave("44025", 0, 9.9)
	r.Status = model.StatusSuspect
	if evs := e.Evaluate(r); len(evs) != 0 {
		t.Errorf("suspect: got %d events, want 0", len(evs))
	}
}

func TestEngine_OfflineLifecycle(t *testing.T) {
	e := newEngine(t, config.AlertRule{
		Name: "buoy-offline", Kind: "offline", Severity: "critical",
	})

	evs := e.EvaluateMissed("44025", t0, "retries exhausted")
	if len(evs) != 1 || evs[0].Type != model.UpdateAlertOpened {
		t.Fatalf("missed: got %+v, want one alert_opened", evs)
	}

	// A second missed interval re-affirms silently.
	if evs := e.EvaluateMissed("44025", t0.Add(6*time.Minute), "retries exhausted"); len(evs) != 0 {
		t.Fatalf("second miss: got %d events, want 0", len(evs))
	}

	// Any committed reading clears the offline alert, suspect included.
	r := wave("44025", 2, 2.0)
	r.Status = model.StatusSuspect
	evs = e.Evaluate(r)
	if len(evs) != 1 || evs[0].Type != model.UpdateAlertClosed {
		t.Fatalf("recovery: got %+v, want one alert_closed", evs)
	}
}

func TestEngine_TrendRuleLifecycle(t *testing.T) {
	e := newEngine(t, config.AlertRule{
		Name: "waves-building", Kind: "trend",
		Channel: "wave_height", Direction: "increasing",
	})

	r := wave("44025", 0, 2.0)
	r.Trends = map[string]model.Trend{
		"wave_height": {Avg: 1.8, Direction: model.DirectionIncreasing},
	}
	evs := e.Evaluate(r)
	if len(evs) != 1 || evs[0].Type != model.UpdateAlertOpened {
		t.Fatalf("increasing: got %+v, want one alert_opened", evs)
	}

	r2 := wave("44025", 1, 2.0)
	r2.Trends = map[string]model.Trend{
		"wave_height": {Avg: 2.0, Direction: model.DirectionStable},
	}
	evs = e.Evaluate(r2)
	if len(evs) != 1 || evs[0].Type != model.UpdateAlertClosed {
		t.Fatalf("stable: got %+v, want one alert_closed", evs)
	}
}

func TestEngine_TrendRuleMinAvgFloor(t *testing.T) {
	e := newEngine(t, config.AlertRule{
		Name: "swell-building", Kind: "trend",
		Channel: "wave_height", Direction: "increasing", MinAvg: 2.5,
	})

	// Increasing but still small: below the floor, no alert.
	r := wave("44025", 0, 1.2)
	r.Trends = map[string]model.Trend{
		"wave_height": {Avg: 1.0, Direction: model.DirectionIncreasing},
	}
	if evs := e.Evaluate(r); len(evs) != 0 {
		t.Fatalf("below floor: got %d events, want 0", len(evs))
	}

	r2 := wave("44025", 1, 3.0)
	r2.Trends = map[string]model.Trend{
		"wave_height": {Avg: 2.8, Direction: model.DirectionIncreasing},
	}
	if evs := e.Evaluate(r2); len(evs) != 1 || evs[0].Type != model.UpdateAlertOpened {
		t.Fatalf("above floor: got %+v, want one alert_opened", evs)
	}
}

func TestEngine_StationScopedRule(t *testing.T) {
	rule := highWaves()
	rule.Station = "44025"
	e := newEngine(t, rule)

	if evs := e.Evaluate(wave("41002", 0, 9.0)); len(evs) != 0 {
		t.Errorf("out-of-scope station: got %d events, want 0", len(evs))
	}
	if evs := e.Evaluate(wave("44025", 0, 9.0)); len(evs) != 1 {
		t.Errorf("in-scope station: got %d events, want 1", len(evs))
	}
}

func TestEngine_SinksReceiveTransitions(t *testing.T) {
	sink := &recordSink{}
	e, err := alerts.New(config.AlertsConfig{Rules: []config.AlertRule{highWaves()}}, sink)
	if err != nil {
		t.Fatalf("alerts.New: %v", err)
	}

	e.Evaluate(wave("44025", 0, 5.5))
	e.Evaluate(wave("44025", 1, 3.0))

	// Sink notification is asynchronous.
	deadline := time.Now().Add(2 * time.Second)
	for {
		sink.mu.Lock()
		done := len(sink.opened) == 1 && len(sink.closed) == 1
		sink.mu.Unlock()
		if done {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("sink: opened=%d closed=%d, want 1/1", len(sink.opened), len(sink.closed))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEngine_SinkSeesTransitionsInOrder(t *testing.T) {
	sink := &slowOpenSink{}
	e, err := alerts.New(config.AlertsConfig{Rules: []config.AlertRule{highWaves()}}, sink)
	if err != nil {
		t.Fatalf("alerts.New: %v", err)
	}

	// A fast open -> close pair must still reach the sink as open, then close,
	// even when the open delivery is slow.
	e.Evaluate(wave("44025", 0, 5.5))
	e.Evaluate(wave("44025", 1, 3.0))

	deadline := time.Now().Add(2 * time.Second)
	for {
		sink.mu.Lock()
		n := len(sink.seq)
		sink.mu.Unlock()
		if n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("sink: got %d transitions, want 2", n)
		}
		time.Sleep(5 * time.Millisecond)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.seq[0] != model.AlertOpen || sink.seq[1] != model.AlertClosed {
		t.Errorf("order: got %v, want [%s %s]", sink.seq, model.AlertOpen, model.AlertClosed)
	}
}
