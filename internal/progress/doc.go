// Package progress defines the progress/result/error/complete frames a crawl
// job emits, the blocking Stream that carries them to a single client, and
// the non-blocking Hub that batches them out to background sinks such as
// logs, Prometheus metrics, or the job store.
package progress
