// Package alerts implements the hysteresis alert engine.
//
// Each (rule, station) pair is a two-state machine: clear and triggered.
// The raise condition opens an alert on a newly committed, non-suspect
// reading; the distinct clear condition — strictly less severe than the raise
// threshold, enforced when rules are compiled — is the only way back to clear,
// which prevents flapping on values straddling a single threshold. While a
// rule stays triggered the same alert is re-affirmed (and possibly escalated),
// never re-created: at most one open alert exists per (rule, station).
//
// Rule kinds: threshold ("wave_height > 4.0" to raise, "wave_height < 3.0" to
// clear), trend (channel direction predicate), and offline (raised by missed
// fetch intervals, cleared by the next committed reading). Transitions are
// handed to Sink implementations; webhook.go posts them to Slack or generic
// HTTP targets.
package alerts
