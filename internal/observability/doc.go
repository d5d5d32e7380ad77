// Package observability carries the operational record of export runs: the
// rotating text log, the JSONL event log, and the metrics and alerts derived
// from it.
package observability
