// Package sinks implements background consumers of progress events: structured
// logs, Prometheus job metrics, and running counters in the job store. Each
// sink satisfies progress.Sink and is fed by a progress.Hub.
package sinks
