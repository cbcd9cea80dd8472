// Package upstream implements the pull interface to the station reading feed.
//
// Source.Fetch(ctx, stationID, since) returns the newest raw observation row
// for one station, or a classified error. Two feed types are supported:
// the NDBC-style realtime text table (ndbc.go) and a sensor-gateway
// Prometheus exposition endpoint (promgw.go). Factory: New(config.Upstream)
// returns the correct Source with a pre-built HTTP client.
//
// Errors are classified for the fetcher's retry policy: *RateLimitError
// (retryable, honoring the Retry-After hint), *MalformedError (non-retryable,
// recorded as a rejected ingestion), ErrNoNewData (retryable — the feed may
// publish late within the interval), and plain transport errors (retryable).
package upstream
