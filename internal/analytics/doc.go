// Package analytics computes rolling statistics over device telemetry.
//
// The Analyzer plugs into the ingest pipeline as a sink: every accepted
// telemetry payload is decoded and each numeric field feeds a bounded
// per-device sliding window. Summaries (count, mean, standard deviation,
// min, max) are available at any time without blocking ingestion.
package analytics
