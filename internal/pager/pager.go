// Package pager exhausts infinite-scroll listings: it scrolls to the bottom
// until the document extent stops growing.
package pager

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/directory-crawler/internal/metrics"
	"github.com/JakeFAU/directory-crawler/internal/throttle"
)

const (
	extentScript = `document.body.scrollHeight`
	scrollScript = `window.scrollTo(0, document.body.scrollHeight); document.body.scrollHeight`
	topScript    = `window.scrollTo(0, 0); 0`

	// DefaultMaxIterations bounds a pass on pages that grow forever.
	DefaultMaxIterations = 200
)

// Evaluator runs page scripts. browser.Engine satisfies it.
type Evaluator interface {
	Evaluate(ctx context.Context, script string, out any) error
}

// Config controls a Pager.
type Config struct {
	// ResetToTop scrolls to the top and waits ResetPause before measuring.
	ResetToTop    bool
	ResetPause    time.Duration
	MaxIterations int
}

// Pager drives scroll-until-stable passes.
type Pager struct {
	engine Evaluator
	pauser throttle.Pauser
	cfg    Config
	logger *zap.Logger
}

// New builds a Pager. A nil pauser uses throttle.Timer.
func New(engine Evaluator, pauser throttle.Pauser, cfg Config, logger *zap.Logger) *Pager {
	if pauser == nil {
		pauser = throttle.Timer{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	return &Pager{engine: engine, pauser: pauser, cfg: cfg, logger: logger}
}

// ScrollUntilStable scrolls to the bottom, waits pause, and re-measures until
// the extent is unchanged. It returns the number of scrolls issued; a page
// that never grows needs exactly one.
func (p *Pager) ScrollUntilStable(ctx context.Context, pause time.Duration) (int, error) {
	if p.cfg.ResetToTop {
		var ignored float64
		if err := p.engine.Evaluate(ctx, topScript, &ignored); err != nil {
			return 0, fmt.Errorf("scroll to top: %w", err)
		}
		if err := p.pauser.Pause(ctx, p.cfg.ResetPause); err != nil {
			return 0, err
		}
	}

	last, err := p.extent(ctx, extentScript)
	if err != nil {
		return 0, err
	}

	scrolls := 0
	for scrolls < p.cfg.MaxIterations {
		if _, err := p.extent(ctx, scrollScript); err != nil {
			return scrolls, err
		}
		scrolls++
		if err := p.pauser.Pause(ctx, pause); err != nil {
			return scrolls, err
		}
		current, err := p.extent(ctx, extentScript)
		if err != nil {
			return scrolls, err
		}
		if current == last {
			metrics.ObserveScrollPass(scrolls)
			p.logger.Info("page extent stable", zap.Int("scrolls", scrolls), zap.Float64("extent", current))
			return scrolls, nil
		}
		p.logger.Debug("page grew", zap.Float64("from", last), zap.Float64("to", current))
		last = current
	}
	metrics.ObserveScrollPass(scrolls)
	p.logger.Warn("scroll ceiling reached before the page stabilized", zap.Int("scrolls", scrolls))
	return scrolls, nil
}

func (p *Pager) extent(ctx context.Context, script string) (float64, error) {
	var v float64
	if err := p.engine.Evaluate(ctx, script, &v); err != nil {
		return 0, fmt.Errorf("measure page extent: %w", err)
	}
	return v, nil
}
