package orderjoin

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/kevingbb/processorders/errors"
	"github.com/kevingbb/processorders/message"
	"github.com/kevingbb/processorders/orderstore"
)

// SweepReport summarises one reconciliation run.
type SweepReport struct {
	Scanned      int `json:"scanned" yaml:"scanned"`
	Retriggered  int `json:"retriggered" yaml:"retriggered"`
	Purged       int `json:"purged" yaml:"purged"`
	Abandoned    int `json:"abandoned" yaml:"abandoned"`
	DeadLettered int `json:"dead_lettered" yaml:"dead_lettered"`
	Errors       int `json:"errors" yaml:"errors"`
}

// Sweeper re-triggers complete orders whose pass never finished and removes
// finished orders after the retention period.
type Sweeper struct {
	c *Coordinator
}

// NewSweeper returns a sweeper over the coordinator's stores and trigger.
func NewSweeper(c *Coordinator) *Sweeper {
	return &Sweeper{c: c}
}

// Run sweeps every interval until ctx is done. A zero interval returns
// immediately.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.c.logger.Error("Sweep failed", "error", err)
			}
		}
	}
}

// Sweep runs one reconciliation pass over all known orders. Per-order
// failures are counted and logged; only a failure to list orders is
// returned.
func (s *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	c := s.c
	if c.trigger == nil {
		return report, errors.WrapFatal(errors.ErrNotStarted, "Sweeper", "Sweep", "no trigger attached")
	}

	keys, err := c.states.Keys(ctx)
	if err != nil {
		return report, errors.Wrap(err, "Sweeper", "Sweep", "list orders")
	}

	for _, key := range keys {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Scanned++
		if err := s.sweepOne(ctx, key, &report); err != nil {
			report.Errors++
			c.logger.Warn("Sweep of order failed", "order_key", key, "error", err)
		}
	}

	c.metrics.RecordSweep(report.Retriggered, report.Purged)
	if report.Retriggered > 0 || report.Purged > 0 || report.Abandoned > 0 || report.Errors > 0 {
		c.logger.Info("Sweep finished",
			"scanned", report.Scanned, "retriggered", report.Retriggered, "purged", report.Purged,
			"abandoned", report.Abandoned, "dead_lettered", report.DeadLettered, "errors", report.Errors)
	}
	return report, nil
}

func (s *Sweeper) sweepOne(ctx context.Context, key string, report *SweepReport) error {
	c := s.c
	now := c.now()

	st, err := c.states.Get(ctx, key)
	if stderrors.Is(err, orderstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if !st.IsComplete() {
		if c.cfg.Retention > 0 && now.Sub(st.UpdatedAt) > c.cfg.Retention {
			report.Abandoned++
			c.logger.Warn("Removing incomplete order past retention", "order_key", key, "filled", st.Filled())
			return c.states.Delete(ctx, key)
		}
		return nil
	}

	p, err := c.passes.Get(ctx, key)
	switch {
	case stderrors.Is(err, orderstore.ErrNotFound):
		return s.retrigger(ctx, key, report, "no pass recorded")
	case err != nil:
		return err
	}

	switch {
	case p.Phase == orderstore.PhaseFailed:
		return s.retrigger(ctx, key, report, "merge failed")
	case p.Stale(now, c.cfg.ClaimTimeout):
		return s.retrigger(ctx, key, report, "stale "+string(p.Phase))
	case p.Phase == orderstore.PhaseDeadLetter:
		report.DeadLettered++
	case p.Phase == orderstore.PhaseDone && c.cfg.Retention > 0 && now.Sub(p.CompletedAt) > c.cfg.Retention:
		if err := c.states.Delete(ctx, key); err != nil {
			return err
		}
		if err := c.passes.Delete(ctx, key); err != nil {
			return err
		}
		s.purgeStaged(ctx, key)
		report.Purged++
		c.logger.Debug("Purged finished order", "order_key", key)
	}
	return nil
}

// purgeStaged removes merge content left behind by passes that lost their
// claim.
func (s *Sweeper) purgeStaged(ctx context.Context, key string) {
	names, err := s.c.staging.List(ctx, stagedName(key, ""))
	if err != nil {
		s.c.logger.Warn("Listing staged merge content failed", "order_key", key, "error", err)
		return
	}
	for _, name := range names {
		s.c.dropStaged(ctx, key, name)
	}
}

func (s *Sweeper) retrigger(ctx context.Context, key string, report *SweepReport, why string) error {
	if err := s.c.trigger.Start(ctx, message.WorkflowCombineOrder, key, nil); err != nil {
		return err
	}
	report.Retriggered++
	s.c.metrics.RecordPassTriggered("sweep")
	s.c.logger.Info("Re-triggered completion pass", "order_key", key, "reason", why)
	return nil
}
