// Package catalog holds the station registry. A Snapshot is an immutable view
// of the monitored stations; the Registry swaps whole snapshots atomically on
// refresh, so concurrent readers never observe a partially updated catalog.
package catalog
