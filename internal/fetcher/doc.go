// Package fetcher schedules upstream pulls: one fetch attempt per active
// station per interval, run concurrently under a configurable limit.
//
// Failed attempts retry with exponential backoff (±25% jitter) inside the
// remaining interval budget; an explicit rate-limit response extends the wait
// to the server's Retry-After hint. When the budget or retry count runs out
// the fetcher emits a missed-interval signal for that station — never a
// reading — and moves on; one station's exhaustion never delays another.
// Malformed payloads are not retried: they go straight to the handler as
// rejected input. Per-station attempt, failure and missed-interval counters
// are exported for Prometheus.
package fetcher
