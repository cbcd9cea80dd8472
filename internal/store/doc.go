// Package store owns the durable reading log, the latest-snapshot cache, and
// the Writer that commits to both.
//
// ReadingLog is the durable append-only interface; FileLog (per-station JSONL
// files, fsync on append) is the reference implementation and MemLog backs
// tests and ephemeral runs. Cache holds the per-station latest snapshot with
// TTL staleness. Writer serializes writes per station through a keyed lock
// table, rejects duplicate and out-of-order timestamps, and guarantees the
// durable append succeeds before the cache is published. The durable log is
// the source of truth; Resync reconciles the cache from it.
package store
