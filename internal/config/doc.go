// Package config loads the tidewatchd configuration from a single YAML file.
//
// Load(path) applies defaults before unmarshalling, then validates. Secrets
// (webhook URLs) are resolved indirectly through environment variables so the
// config file stays safe to commit. Watch(ctx, path, onChange) reloads the
// file on write and hands the new Config to the caller; a failed reload keeps
// the previous configuration active.
//
// Sections:
//   - http_port   — REST API + websocket + metrics listener (default 8080)
//   - upstream    — feed type (ndbc | promgw), base URL, request timeout
//   - fetch       — interval, retry budget, backoff, concurrency limit
//   - validation  — per-channel physical bounds and max-jump deltas
//   - trend       — trailing window size and minimum slope threshold
//   - store       — data directory, cache TTL, resync schedule
//   - alerts      — hysteresis rules and webhook targets
//   - hub         — per-subscription backlog limit
//   - stations    — the monitored station catalog
package config
