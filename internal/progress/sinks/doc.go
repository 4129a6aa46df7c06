// Package sinks holds the progress.Sink implementations: structured logging,
// Prometheus run collectors and the run repository.
package sinks
