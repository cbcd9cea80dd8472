package alerts

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tidewatch/tidewatch/internal/config"
	"github.com/tidewatch/tidewatch/internal/model"
)

const (
	maxHistoryLen     = 200
	recentWindowHours = 1
)

// Sink receives alert lifecycle transitions. The engine invokes sinks off the
// evaluation path, one transition at a time, in the order the transitions
// occurred: an open is always delivered before the close that follows it.
type Sink interface {
	OnAlertOpened(a *model.Alert)
	OnAlertClosed(a *model.Alert)
}

// notifyQueueDepth bounds pending sink notifications. Sink calls are bounded
// by their own timeouts, so the queue only fills under a sustained alert storm.
const notifyQueueDepth = 128

type sinkNotice struct {
	opened bool
	alert  model.Alert
}

// Event is one alert transition produced by an evaluation, in the order the
// transitions occurred. The caller attaches commit sequencing and fans out.
type Event struct {
	Type  model.UpdateType // alert_opened | alert_closed
	Alert model.Alert      // value copy, safe to retain
}

// Engine evaluates compiled rules against newly committed readings and missed
// fetch intervals. It exclusively owns alert lifecycle state and upholds the
// invariant of at most one open alert per (rule, station) pair.
//
// Engine is safe for concurrent use.
type Engine struct {
	rules   []Rule
	sinks   []Sink
	notices chan sinkNotice

	mu      sync.Mutex
	open    map[string]*model.Alert // key: rule + ":" + station
	history []*model.Alert          // recently closed, oldest first
}

// New compiles the configured rules and creates an Engine. Invalid rules —
// including equal raise/clear thresholds — fail construction.
func New(cfg config.AlertsConfig, sinks ...Sink) (*Engine, error) {
	rules, err := CompileRules(cfg.Rules)
	if err != nil {
		return nil, fmt.Errorf("alerts: %w", err)
	}
	e := &Engine{
		rules:   rules,
		sinks:   sinks,
		notices: make(chan sinkNotice, notifyQueueDepth),
		open:    make(map[string]*model.Alert),
	}
	go e.dispatch()
	return e, nil
}

// dispatch delivers queued transitions to every sink sequentially, preserving
// the order transitions were produced in.
func (e *Engine) dispatch() {
	for n := range e.notices {
		for _, s := range e.sinks {
			if n.opened {
				s.OnAlertOpened(&n.alert)
			} else {
				s.OnAlertClosed(&n.alert)
			}
		}
	}
}

// Evaluate runs every rule scoped to the reading's station against a newly
// committed reading. Suspect readings are excluded from threshold and trend
// evaluation but still clear offline alerts — the station evidently reported.
func (e *Engine) Evaluate(r *model.Reading) []Event {
	var events []Event

	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.rules {
		rule := &e.rules[i]
		if !rule.Matches(r.StationID) {
			continue
		}

		switch rule.Kind {
		case KindOffline:
			if ev, ok := e.closeLocked(rule, r.StationID, r.Timestamp); ok {
				events = append(events, ev)
			}

		case KindThreshold:
			if r.Status == model.StatusSuspect {
				continue
			}
			events = append(events, e.evalThresholdLocked(rule, r)...)

		case KindTrend:
			if r.Status == model.StatusSuspect {
				continue
			}
			events = append(events, e.evalTrendLocked(rule, r)...)
		}
	}
	return events
}

// EvaluateMissed raises offline rules for a station whose fetch retries were
// exhausted for an interval.
func (e *Engine) EvaluateMissed(stationID string, at time.Time, reason string) []Event {
	var events []Event

	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.rules {
		rule := &e.rules[i]
		if rule.Kind != KindOffline || !rule.Matches(stationID) {
			continue
		}
		if _, isOpen := e.open[rule.Name+":"+stationID]; isOpen {
			continue // already raised; re-affirmed implicitly
		}
		ev := e.openLocked(rule, stationID, at, 0,
			fmt.Sprintf("station %s missed its fetch interval: %s", stationID, reason))
		events = append(events, ev)
	}
	return events
}

// Active returns copies of all open alerts plus alerts closed within the past
// hour, open first.
func (e *Engine) Active() []model.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := time.Now().Add(-recentWindowHours * time.Hour)
	out := make([]model.Alert, 0, len(e.open))
	for _, a := range e.open {
		out = append(out, *a)
	}
	for _, a := range e.history {
		if a.ClosedAt != nil && a.ClosedAt.After(cutoff) {
			out = append(out, *a)
		}
	}
	return out
}

// --- state transitions (caller holds e.mu) ----------------------------------

func (e *Engine) evalThresholdLocked(rule *Rule, r *model.Reading) []Event {
	key := rule.Name + ":" + r.StationID
	a, isOpen := e.open[key]

	if !isOpen {
		if matched, v := rule.Raise.Eval(r); matched {
			msg := fmt.Sprintf("%s: %s = %.2f crossed %.2f on %s",
				rule.Name, rule.Channel, v, rule.Raise.Threshold, r.StationID)
			return []Event{e.openLocked(rule, r.StationID, r.Timestamp, v, msg)}
		}
		return nil
	}

	if matched, _ := rule.Clear.Eval(r); matched {
		if ev, ok := e.closeLocked(rule, r.StationID, r.Timestamp); ok {
			return []Event{ev}
		}
		return nil
	}

	// Still triggered: re-affirm the open alert, never create a second one.
	// Between the two thresholds nothing transitions — that gap is the
	// hysteresis band.
	if v, ok := r.Channels[rule.Channel]; ok {
		a.Value = v
		if esc := e.escalationFor(rule, v, a.Severity); esc != "" {
			a.Severity = esc
			cp := *a
			slog.Info("alert escalated",
				"rule", rule.Name, "station", r.StationID, "severity", esc, "value", v)
			e.notifyOpened(&cp)
			return []Event{{Type: model.UpdateAlertOpened, Alert: cp}}
		}
	}
	return nil
}

func (e *Engine) evalTrendLocked(rule *Rule, r *model.Reading) []Event {
	key := rule.Name + ":" + r.StationID
	_, isOpen := e.open[key]

	trend, hasTrend := r.Trends[rule.Channel]
	matches := hasTrend && trend.Direction == rule.Direction &&
		(rule.MinAvg == 0 || trend.Avg >= rule.MinAvg)

	switch {
	case matches && !isOpen:
		msg := fmt.Sprintf("%s: %s trending %s on %s (avg %.2f)",
			rule.Name, rule.Channel, rule.Direction, r.StationID, trend.Avg)
		return []Event{e.openLocked(rule, r.StationID, r.Timestamp, trend.Avg, msg)}

	case !matches && isOpen:
		if ev, ok := e.closeLocked(rule, r.StationID, r.Timestamp); ok {
			return []Event{ev}
		}
	}
	return nil
}

func (e *Engine) openLocked(rule *Rule, stationID string, at time.Time, value float64, msg string) Event {
	severity := rule.Severity
	if esc := e.escalationFor(rule, value, severity); esc != "" {
		severity = esc
	}
	a := &model.Alert{
		ID:        uuid.NewString(),
		Rule:      rule.Name,
		StationID: stationID,
		Channel:   rule.Channel,
		Severity:  severity,
		Value:     value,
		Message:   msg,
		OpenedAt:  at,
		State:     model.AlertOpen,
	}
	e.open[a.Key()] = a

	cp := *a
	slog.Warn("alert opened",
		"rule", rule.Name, "station", stationID, "severity", severity, "value", value)
	e.notifyOpened(&cp)
	return Event{Type: model.UpdateAlertOpened, Alert: cp}
}

func (e *Engine) closeLocked(rule *Rule, stationID string, at time.Time) (Event, bool) {
	key := rule.Name + ":" + stationID
	a, isOpen := e.open[key]
	if !isOpen {
		return Event{}, false
	}

	closed := at
	a.State = model.AlertClosed
	a.ClosedAt = &closed
	delete(e.open, key)

	e.history = append(e.history, a)
	if len(e.history) > maxHistoryLen {
		e.history = e.history[len(e.history)-maxHistoryLen:]
	}

	cp := *a
	slog.Info("alert closed", "rule", rule.Name, "station", stationID)
	e.notifyClosed(&cp)
	return Event{Type: model.UpdateAlertClosed, Alert: cp}, true
}

// escalationFor returns the escalated severity when the value crossed the
// rule's escalation threshold and the alert is not already there.
func (e *Engine) escalationFor(rule *Rule, value float64, current string) string {
	if rule.EscalateAt == 0 || current == rule.EscalateTo {
		return ""
	}
	crossed := false
	switch rule.Raise.Op {
	case "<":
		crossed = value < rule.EscalateAt
	default:
		crossed = value > rule.EscalateAt
	}
	if crossed {
		return rule.EscalateTo
	}
	return ""
}

func (e *Engine) notifyOpened(a *model.Alert) {
	if len(e.sinks) == 0 {
		return
	}
	e.notices <- sinkNotice{opened: true, alert: *a}
}

func (e *Engine) notifyClosed(a *model.Alert) {
	if len(e.sinks) == 0 {
		return
	}
	e.notices <- sinkNotice{alert: *a}
}
