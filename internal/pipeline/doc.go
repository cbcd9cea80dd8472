// Package pipeline connects the stages of the ingestion path.
//
// Each fetched payload runs through validation, trend analysis, the durable
// commit and alert evaluation in the calling goroutine, so a station's
// readings flow through the stages strictly in commit order. Rejected payloads
// are audited and go no further; committed readings and the alert transitions
// they trigger are fanned out with the commit's sequence number.
package pipeline
