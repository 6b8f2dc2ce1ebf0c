package uploader

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/logging"
	"github.com/jonboulle/clockwork"
)

// Runner runs one reconciliation cycle.
type Runner interface {
	Run(ctx context.Context) error
}

// Periodic runs a Runner on a fixed interval until its context ends.
type Periodic struct {
	runner   Runner
	interval time.Duration
	clock    clockwork.Clock
	logger   logging.Logger
}

func NewPeriodic(r Runner, interval time.Duration, clock clockwork.Clock, logger logging.Logger) *Periodic {
	return &Periodic{
		runner:   r,
		interval: interval,
		clock:    clock,
		logger:   logger.With("module", "periodic_uploader"),
	}
}

// Start blocks, running a cycle every interval. Errors are logged; the next
// cycle retries whatever was left pending.
func (p *Periodic) Start(ctx context.Context) {
	p.logger.Info(ctx, "starting periodic uploader", "interval", p.interval.String())
	for {
		select {
		case <-ctx.Done():
			p.logger.Info(ctx, "stopping periodic uploader")
			return
		case <-p.clock.After(p.interval):
			if err := p.runner.Run(ctx); err != nil {
				p.logger.Error(ctx, "uploader cycle failed", "error", err)
			}
		}
	}
}
