package orderjoin

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kevingbb/processorders/errors"
	"github.com/kevingbb/processorders/message"
	"github.com/kevingbb/processorders/metric"
	"github.com/kevingbb/processorders/orderstore"
	"github.com/kevingbb/processorders/pkg/retry"
	"github.com/kevingbb/processorders/storage"
	"github.com/kevingbb/processorders/storage/objectstore"
	"github.com/kevingbb/processorders/storage/results"
)

// Merger calls the external merge service.
type Merger interface {
	Combine(ctx context.Context, req message.MergeRequest) (string, error)
}

// Trigger requests a completion pass for key. Implementations deliver at
// least once.
type Trigger interface {
	Start(ctx context.Context, workflow, key string, input *message.FileReference) error
}

// PassRunner runs one completion pass. Coordinator implements it.
type PassRunner interface {
	RunPass(ctx context.Context, key string) (PassResult, error)
}

// Dependencies are the collaborators of a Coordinator.
type Dependencies struct {
	States  orderstore.StateStore
	Passes  orderstore.PassStore
	Merger  Merger
	Results results.Store
	Sources storage.Store
	// Staging holds merge content between the merge and persist steps.
	// Nil means Sources.
	Staging storage.Store
	Logger  *slog.Logger
	Metrics *metric.Metrics
}

// Coordinator turns file arrivals into exactly one merge and cleanup cycle
// per order.
type Coordinator struct {
	states  orderstore.StateStore
	passes  orderstore.PassStore
	merger  Merger
	results results.Store
	sources storage.Store
	staging storage.Store
	trigger Trigger

	cfg     Config
	logger  *slog.Logger
	metrics *metric.Metrics
	now     func() time.Time
	newID   func() string
}

// NewCoordinator validates deps and cfg. A Trigger must be attached with
// SetTrigger before Receive is used.
func NewCoordinator(deps Dependencies, cfg Config) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.States == nil || deps.Passes == nil || deps.Merger == nil || deps.Results == nil || deps.Sources == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Coordinator", "New", "all stores and the merger are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	staging := deps.Staging
	if staging == nil {
		staging = deps.Sources
	}
	return &Coordinator{
		states:  deps.States,
		passes:  deps.Passes,
		merger:  deps.Merger,
		results: deps.Results,
		sources: deps.Sources,
		staging: staging,
		cfg:     cfg,
		logger:  logger.With("component", "orderjoin"),
		metrics: deps.Metrics,
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
	}, nil
}

// SetTrigger attaches the pass trigger. Triggers usually need the
// coordinator as their PassRunner, hence the separate step.
func (c *Coordinator) SetTrigger(t Trigger) {
	c.trigger = t
}

// Config returns the coordinator configuration.
func (c *Coordinator) Config() Config { return c.cfg }

// Receive applies the arrival of ref to its order and requests a completion
// pass. Unknown file types return errors.ErrUnknownFileType and trigger
// nothing.
func (c *Coordinator) Receive(ctx context.Context, ref message.FileReference) (orderstore.State, error) {
	sig, err := orderstore.SignalFor(ref)
	if err != nil {
		c.logger.Info("Ignoring file of unknown type",
			"order_key", ref.BatchPrefix, "file_type", ref.FileType, "url", ref.FullURL)
		return orderstore.State{}, err
	}
	if c.trigger == nil {
		return orderstore.State{}, errors.WrapFatal(errors.ErrNotStarted, "Coordinator", "Receive", "no trigger attached")
	}

	key := ref.BatchPrefix
	st, err := c.states.Apply(ctx, key, sig)
	if err != nil {
		return orderstore.State{}, errors.Wrap(err, "Coordinator", "Receive", "apply signal to "+key)
	}
	c.metrics.RecordSignal(ref.FileType.String())
	c.logger.Info("File received",
		"order_key", key, "file_type", ref.FileType, "filled", st.Filled(), "complete", st.IsComplete())

	if err := c.trigger.Start(ctx, message.WorkflowCombineOrder, key, &ref); err != nil {
		return st, errors.Wrap(err, "Coordinator", "Receive", "trigger pass for "+key)
	}
	c.metrics.RecordPassTriggered("notification")
	return st, nil
}

// RunPass runs one completion pass for key. Only store failures are
// returned as errors; everything else is reported in the result.
func (c *Coordinator) RunPass(ctx context.Context, key string) (PassResult, error) {
	start := time.Now()
	res, err := c.runPass(ctx, key)
	if err != nil {
		res.Outcome = OutcomeError
		c.metrics.RecordError("orderjoin", errors.Classify(err).String())
		c.logger.Error("Completion pass failed", "order_key", key, "error", err)
	}
	c.metrics.RecordPass(string(res.Outcome), time.Since(start))
	return res, err
}

func (c *Coordinator) runPass(ctx context.Context, key string) (PassResult, error) {
	res := PassResult{Key: key, Outcome: OutcomeNotReady}

	st, err := c.states.Get(ctx, key)
	if stderrors.Is(err, orderstore.ErrNotFound) {
		return res, nil
	}
	if err != nil {
		return res, errors.Wrap(err, "Coordinator", "RunPass", "read state "+key)
	}
	req, err := st.MergeRequest()
	if err != nil {
		c.logger.Debug("Order not complete", "order_key", key, "filled", st.Filled())
		return res, nil
	}

	passID := c.newID()
	var decision claimDecision
	pass, err := c.passes.Update(ctx, key, func(cur *orderstore.Pass) (*orderstore.Pass, error) {
		next, d, err := decideClaim(key, passID, cur, c.now(), c.cfg)
		decision = d
		return next, err
	})
	if err != nil {
		return res, errors.Wrap(err, "Coordinator", "RunPass", "claim pass "+key)
	}
	res.Attempts = pass.Attempts

	switch decision.action {
	case actionSkip:
		res.Outcome = decision.outcome
		if decision.outcome == OutcomeDeadLettered {
			res.MergeErr = fmt.Errorf("%w: %s", errors.ErrMaxRetriesExceeded, pass.LastError)
			c.logger.Warn("Order dead-lettered", "order_key", key, "attempts", pass.Attempts, "last_error", pass.LastError)
		} else {
			c.logger.Debug("Skipping pass", "order_key", key, "outcome", decision.outcome)
		}
		return res, nil
	case actionResume:
		res.Resumed = true
	}
	res.PassID = passID

	claimCtx, release := c.holdClaim(ctx, key, passID)
	defer release()

	var content string
	if decision.action == actionMerge {
		c.logger.Info("Calling merge service", "order_key", key, "pass_id", passID, "attempt", pass.Attempts)
		content, err = c.merger.Combine(claimCtx, req)
		if err != nil {
			if stderrors.Is(context.Cause(claimCtx), errLostClaim) {
				return c.lostOr(res, errLostClaim, "merge "+key)
			}
			if ctx.Err() != nil {
				// Shutting down: leave the claim to expire and be taken over.
				return res, errors.WrapTransient(ctx.Err(), "Coordinator", "RunPass", "merge interrupted for "+key)
			}
			return c.recordMergeFailure(ctx, res, err)
		}

		ref := stagedName(key, passID)
		if err := c.stage(ctx, ref, content); err != nil {
			return res, errors.Wrap(err, "Coordinator", "RunPass", "stage merge content of "+key)
		}
		if err := c.advance(ctx, key, passID, func(p *orderstore.Pass) {
			p.Phase = orderstore.PhaseMerged
			p.ContentRef = ref
			p.LastError = ""
		}); err != nil {
			c.dropStaged(ctx, key, ref)
			return c.lostOr(res, err, "record merge of "+key)
		}
		pass.ContentRef = ref
	} else {
		c.logger.Info("Resuming merged order", "order_key", key, "pass_id", passID, "content_ref", pass.ContentRef)
		data, err := c.staged(ctx, pass.ContentRef)
		if stderrors.Is(err, storage.ErrNotFound) {
			// The merge has to be redone; count it like any other failure.
			return c.recordMergeFailure(ctx, res,
				fmt.Errorf("%w: staged merge content %q is gone", errors.ErrStorageUnavailable, pass.ContentRef))
		}
		if err != nil {
			return res, errors.Wrap(err, "Coordinator", "RunPass", "read staged content of "+key)
		}
		content = string(data)
	}

	retryCfg := c.cfg.storeRetry()
	persist := results.Persist(ctx, c.results, key, content, retryCfg, c.logger)
	c.metrics.RecordPersist(persist.OK())

	deleted := objectstore.DeleteSources(ctx, c.sources, key, req.SourceURLs(), retryCfg, c.logger)
	c.metrics.RecordDelete(deleted.OK())

	release()
	res.Outputs = []string{persist.Outcome, deleted.Outcome}
	if err := c.advance(ctx, key, passID, func(p *orderstore.Pass) {
		p.Phase = orderstore.PhaseDone
		p.Outputs = res.Outputs
		p.ContentRef = ""
		p.CompletedAt = p.UpdatedAt
	}); err != nil {
		return c.lostOr(res, err, "record completion of "+key)
	}
	c.dropStaged(ctx, key, pass.ContentRef)

	res.Outcome = OutcomeCompleted
	c.logger.Info("Order completed", "order_key", key, "pass_id", passID, "outputs", res.Outputs)
	return res, nil
}

// stagedName is where a pass stages its merge content.
func stagedName(key, passID string) string {
	return ".merged/" + key + "/" + passID
}

func (c *Coordinator) stage(ctx context.Context, ref, content string) error {
	cfg := c.cfg.storeRetry()
	cfg.Retryable = errors.IsTransient
	return retry.Do(ctx, cfg, func() error {
		return c.staging.Put(ctx, ref, []byte(content))
	})
}

func (c *Coordinator) staged(ctx context.Context, ref string) ([]byte, error) {
	if ref == "" {
		return nil, storage.ErrNotFound
	}
	cfg := c.cfg.storeRetry()
	cfg.Retryable = errors.IsTransient
	return retry.DoWithResult(ctx, cfg, func() ([]byte, error) {
		return c.staging.Get(ctx, ref)
	})
}

// dropStaged removes staged content. Leftovers are only wasted space.
func (c *Coordinator) dropStaged(ctx context.Context, key, ref string) {
	if ref == "" {
		return
	}
	if err := c.staging.Delete(ctx, ref); err != nil {
		c.logger.Warn("Staged merge content not removed", "order_key", key, "content_ref", ref, "error", err)
	}
}

// holdClaim renews the claim of passID every heartbeat until release is
// called. The returned context is cancelled with errLostClaim once another
// worker owns the pass.
func (c *Coordinator) holdClaim(ctx context.Context, key, passID string) (context.Context, func()) {
	claimCtx, cancel := context.WithCancelCause(ctx)
	stop := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(c.cfg.heartbeat())
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-claimCtx.Done():
				return
			case <-ticker.C:
			}
			err := c.advance(claimCtx, key, passID, func(*orderstore.Pass) {})
			switch {
			case err == nil:
			case stderrors.Is(err, errLostClaim):
				c.logger.Warn("Claim lost while pass was running", "order_key", key, "pass_id", passID)
				cancel(errLostClaim)
				return
			case claimCtx.Err() == nil:
				c.logger.Warn("Claim renewal failed", "order_key", key, "pass_id", passID, "error", err)
			}
		}
	}()

	var once sync.Once
	return claimCtx, func() {
		once.Do(func() {
			close(stop)
			<-stopped
			cancel(nil)
		})
	}
}

func (c *Coordinator) recordMergeFailure(ctx context.Context, res PassResult, mergeErr error) (PassResult, error) {
	res.MergeErr = mergeErr
	res.Outcome = OutcomeMergeFailed
	deadLetter := false

	err := c.advance(ctx, res.Key, res.PassID, func(p *orderstore.Pass) {
		p.LastError = mergeErr.Error()
		p.ContentRef = ""
		if p.Attempts >= c.cfg.MaxMergeAttempts {
			p.Phase = orderstore.PhaseDeadLetter
			deadLetter = true
		} else {
			p.Phase = orderstore.PhaseFailed
			deadLetter = false
		}
	})
	if err != nil {
		return c.lostOr(res, err, "record merge failure of "+res.Key)
	}

	if deadLetter {
		res.Outcome = OutcomeDeadLettered
		c.logger.Error("Merge failed, order dead-lettered",
			"order_key", res.Key, "attempts", res.Attempts, "error", mergeErr)
	} else {
		c.logger.Warn("Merge failed",
			"order_key", res.Key, "attempts", res.Attempts, "max_attempts", c.cfg.MaxMergeAttempts, "error", mergeErr)
	}
	return res, nil
}

// advance updates the ledger if passID still owns the pass.
func (c *Coordinator) advance(ctx context.Context, key, passID string, mutate func(*orderstore.Pass)) error {
	_, err := c.passes.Update(ctx, key, func(cur *orderstore.Pass) (*orderstore.Pass, error) {
		if cur == nil || cur.PassID != passID || cur.Phase.Terminal() {
			return nil, errLostClaim
		}
		next := *cur
		next.UpdatedAt = c.now()
		mutate(&next)
		return &next, nil
	})
	return err
}

func (c *Coordinator) lostOr(res PassResult, err error, what string) (PassResult, error) {
	if stderrors.Is(err, errLostClaim) {
		c.logger.Warn("Pass claim taken over by another worker", "order_key", res.Key, "pass_id", res.PassID)
		res.Outcome = OutcomeInFlight
		return res, nil
	}
	return res, errors.Wrap(err, "Coordinator", "RunPass", what)
}

// Retry resets a failed or dead-lettered order and requests a new pass.
func (c *Coordinator) Retry(ctx context.Context, key string) error {
	if c.trigger == nil {
		return errors.WrapFatal(errors.ErrNotStarted, "Coordinator", "Retry", "no trigger attached")
	}
	_, err := c.passes.Update(ctx, key, func(cur *orderstore.Pass) (*orderstore.Pass, error) {
		if cur == nil {
			return nil, orderstore.ErrUnchanged
		}
		switch cur.Phase {
		case orderstore.PhaseFailed, orderstore.PhaseDeadLetter:
			next := *cur
			next.Phase = orderstore.PhaseFailed
			next.Attempts = 0
			next.UpdatedAt = c.now()
			return &next, nil
		case orderstore.PhaseDone:
			return nil, errors.WrapInvalid(errors.ErrInvalidData, "Coordinator", "Retry", key+" is already done")
		default:
			return nil, errors.WrapInvalid(errors.ErrPassInFlight, "Coordinator", "Retry", key+" has a pass in flight")
		}
	})
	if err != nil && !stderrors.Is(err, orderstore.ErrNotFound) {
		return err
	}

	c.logger.Info("Retry requested", "order_key", key)
	if err := c.trigger.Start(ctx, message.WorkflowCombineOrder, key, nil); err != nil {
		return errors.Wrap(err, "Coordinator", "Retry", "trigger pass for "+key)
	}
	c.metrics.RecordPassTriggered("retry")
	return nil
}

// OrderStatus is the combined view of an order's state and ledger.
type OrderStatus struct {
	Key   string            `json:"key" yaml:"key"`
	State *orderstore.State `json:"state,omitempty" yaml:"state,omitempty"`
	Pass  *orderstore.Pass  `json:"pass,omitempty" yaml:"pass,omitempty"`
}

// Status returns what is known about key. Both parts are nil for an
// unknown order.
func (c *Coordinator) Status(ctx context.Context, key string) (OrderStatus, error) {
	status := OrderStatus{Key: key}

	st, err := c.states.Get(ctx, key)
	switch {
	case err == nil:
		status.State = &st
	case !stderrors.Is(err, orderstore.ErrNotFound):
		return status, errors.Wrap(err, "Coordinator", "Status", "read state "+key)
	}

	p, err := c.passes.Get(ctx, key)
	switch {
	case err == nil:
		status.Pass = &p
	case !stderrors.Is(err, orderstore.ErrNotFound):
		return status, errors.Wrap(err, "Coordinator", "Status", "read ledger "+key)
	}
	return status, nil
}
