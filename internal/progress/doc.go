// Package progress carries crawl run events from the pipeline to pluggable
// sinks. Events are queued without blocking the crawl, batched on a background
// goroutine, and fanned out to consumers such as the log, Prometheus collectors
// or the run store.
package progress
