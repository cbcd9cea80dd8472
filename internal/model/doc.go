// Package model defines the shared domain types used across the ingestion
// pipeline: readings, trend summaries, alerts, and the update envelope pushed
// to live subscribers. These are the canonical in-memory representations; the
// wire format (JSON over websocket and the REST API) maps 1:1 onto them.
package model
