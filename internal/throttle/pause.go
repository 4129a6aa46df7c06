// Package throttle paces the crawl: fixed pauses between steps and an optional
// per-host request budget.
package throttle

import (
	"context"
	"time"
)

// Pauser suspends the caller for a fixed delay.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration) error
}

// Timer is the production Pauser backed by time.Timer.
type Timer struct{}

// Pause blocks for delay or until ctx is done, whichever comes first.
func (Timer) Pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Recorder is a Pauser that records requested delays without sleeping.
type Recorder struct {
	Delays []time.Duration
}

// Pause records delay and returns immediately.
func (r *Recorder) Pause(ctx context.Context, delay time.Duration) error {
	r.Delays = append(r.Delays, delay)
	return ctx.Err()
}
