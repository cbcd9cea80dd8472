// Package ingest validates raw upstream payloads and derives trend fields.
//
// Validate applies the checks in a fixed order — shape, physical bounds,
// staleness, jump — and the first failure wins. A jump beyond a channel's
// max delta does not reject the payload: the reading is kept with status
// suspect and excluded from trend inputs.
//
// Analyze is a pure function of (reading, bounded history): it computes a
// simple moving average and a three-state direction per channel from the
// trailing window of accepted valid readings. There is no hidden state; the
// pipeline owns the per-station windows.
package ingest
