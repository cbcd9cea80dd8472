// Package api serves the read-only REST endpoints under /api/v1/*.
//
// Latest-value queries are answered from the snapshot cache; history queries
// go to the durable log. An entry past its TTL without a new commit is treated
// as not found rather than served stale.
package api
