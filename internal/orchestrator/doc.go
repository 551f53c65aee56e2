// Package orchestrator drives one crawl job: it owns the frontier, the
// discovered set and the budget counters, schedules bounded-concurrency
// fetch batches, and reports every step through a progress.Emitter.
package orchestrator
