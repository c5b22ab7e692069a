package orderjoin

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kevingbb/processorders/errors"
	"github.com/kevingbb/processorders/message"
	"github.com/kevingbb/processorders/metric"
	"github.com/kevingbb/processorders/pkg/worker"
)

func newPassTrigger(workflow, key string, input *message.FileReference, now time.Time) (message.PassTrigger, error) {
	t := message.PassTrigger{
		ID:          uuid.NewString(),
		Workflow:    workflow,
		Key:         key,
		Input:       input,
		Reason:      "notification",
		RequestedAt: now,
	}
	if input == nil {
		t.Reason = "reconcile"
	}
	if err := t.Validate(); err != nil {
		return t, errors.WrapInvalid(err, "Trigger", "Start", "build pass trigger")
	}
	if workflow != message.WorkflowCombineOrder {
		return t, errors.WrapInvalid(fmt.Errorf("unknown workflow %q", workflow), "Trigger", "Start", "route pass trigger")
	}
	return t, nil
}

// LocalTrigger runs passes on an in-process worker pool. Lost work (a crash
// with items queued) is recovered by the Sweeper.
type LocalTrigger struct {
	runner PassRunner
	pool   *worker.Pool[message.PassTrigger]
	logger *slog.Logger
}

var _ Trigger = (*LocalTrigger)(nil)

// NewLocalTrigger builds the pool. registrar may be nil.
func NewLocalTrigger(runner PassRunner, cfg Config, logger *slog.Logger, registrar metric.MetricsRegistrar) *LocalTrigger {
	if logger == nil {
		logger = slog.Default()
	}
	t := &LocalTrigger{
		runner: runner,
		logger: logger.With("component", "local-trigger"),
	}
	opts := []worker.Option[message.PassTrigger]{worker.WithLogger[message.PassTrigger](t.logger)}
	if registrar != nil {
		opts = append(opts, worker.WithMetricsRegistry[message.PassTrigger](registrar, "passes"))
	}
	t.pool = worker.NewPool(cfg.Workers, cfg.QueueSize, t.process, opts...)
	return t
}

// Run starts the workers. They stop when ctx is cancelled or Stop is called.
func (t *LocalTrigger) Run(ctx context.Context) error {
	return t.pool.Start(ctx)
}

// Stop drains queued passes, waiting up to timeout.
func (t *LocalTrigger) Stop(timeout time.Duration) error {
	return t.pool.Stop(timeout)
}

// Stats exposes the pool counters.
func (t *LocalTrigger) Stats() worker.PoolStats {
	return t.pool.Stats()
}

// Start queues a pass, waiting for queue room until ctx is done.
func (t *LocalTrigger) Start(ctx context.Context, workflow, key string, input *message.FileReference) error {
	trig, err := newPassTrigger(workflow, key, input, time.Now())
	if err != nil {
		return err
	}
	if err := t.pool.SubmitWait(ctx, trig); err != nil {
		return errors.WrapTransient(err, "LocalTrigger", "Start", "queue pass for "+key)
	}
	return nil
}

func (t *LocalTrigger) process(ctx context.Context, trig message.PassTrigger) error {
	res, err := t.runner.RunPass(ctx, trig.Key)
	if err != nil {
		return err
	}
	t.logger.Debug("Pass finished", "order_key", trig.Key, "trigger_id", trig.ID, "reason", trig.Reason, "outcome", res.Outcome)
	return nil
}
