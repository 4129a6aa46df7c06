package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/directory-crawler/internal/progress"
)

// PrometheusSink tracks run lifecycle and entity latency. Per-field and
// per-entity counters live in internal/metrics and are updated inline.
type PrometheusSink struct {
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runsActive    prometheus.Gauge
	runDuration   *prometheus.HistogramVec
	entityLatency *prometheus.HistogramVec

	mu     sync.Mutex
	active map[[16]byte]struct{}
}

// NewPrometheusSink registers the collectors with reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dircrawl_runs_started_total",
			Help: "Crawl runs started, by mode.",
		}, []string{"mode"}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dircrawl_runs_completed_total",
			Help: "Crawl runs finished, by result.",
		}, []string{"result"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dircrawl_runs_active",
			Help: "Crawl runs currently in progress.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dircrawl_run_duration_seconds",
			Help:    "Wall time of finished runs.",
			Buckets: []float64{10, 30, 60, 300, 600, 1800, 3600, 7200},
		}, []string{"result"}),
		entityLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dircrawl_entity_duration_seconds",
			Help:    "Time spent crawling one entity page, by outcome.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45, 90},
		}, []string{"outcome"}),
		active: make(map[[16]byte]struct{}),
	}
	for _, c := range []prometheus.Collector{
		s.runsStarted, s.runsCompleted, s.runsActive, s.runDuration, s.entityLatency,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			mode := evt.Mode
			if mode == "" {
				mode = "unknown"
			}
			s.runsStarted.WithLabelValues(mode).Inc()
			if s.track(evt.RunID, true) {
				s.runsActive.Inc()
			}
		case progress.StageRunDone, progress.StageRunError:
			result := "success"
			if evt.Stage == progress.StageRunError {
				result = "error"
			}
			s.runsCompleted.WithLabelValues(result).Inc()
			if evt.Dur > 0 {
				s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
			}
			if s.track(evt.RunID, false) {
				s.runsActive.Dec()
			}
		case progress.StageEntityDone:
			s.entityLatency.WithLabelValues("record").Observe(evt.Dur.Seconds())
		case progress.StageEntityEmpty:
			s.entityLatency.WithLabelValues("empty").Observe(evt.Dur.Seconds())
		}
	}
	return nil
}

// track marks a run active or finished and reports whether that changed.
func (s *PrometheusSink) track(id [16]byte, start bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, running := s.active[id]
	switch {
	case start && !running:
		s.active[id] = struct{}{}
		return true
	case !start && running:
		delete(s.active, id)
		return true
	}
	return false
}

// Close is a no-op.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
