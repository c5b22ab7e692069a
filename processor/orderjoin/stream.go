package orderjoin

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/kevingbb/processorders/errors"
	"github.com/kevingbb/processorders/message"
	"github.com/kevingbb/processorders/metric"
	"github.com/kevingbb/processorders/natsclient"
	"github.com/kevingbb/processorders/pkg/worker"
)

// StreamConfig configures the JetStream pass queue.
type StreamConfig struct {
	Stream        string
	SubjectPrefix string
	Durable       string
	Replicas      int
	MaxDeliver    int
	AckWait       time.Duration
	BackOff       []time.Duration
	DedupWindow   time.Duration
}

// DefaultStreamConfig returns the ORDER_PASSES work queue settings.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Stream:        "ORDER_PASSES",
		SubjectPrefix: "orders.pass",
		Durable:       "orderjoin",
		Replicas:      1,
		MaxDeliver:    10,
		AckWait:       5 * time.Minute,
		BackOff:       []time.Duration{time.Second, 5 * time.Second, 30 * time.Second, 2 * time.Minute},
		DedupWindow:   2 * time.Minute,
	}
}

// Validate checks the config.
func (c StreamConfig) Validate() error {
	if c.Stream == "" || c.SubjectPrefix == "" || c.Durable == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "StreamTrigger", "Validate", "stream, subject_prefix and durable are required")
	}
	if c.MaxDeliver != -1 && c.MaxDeliver < 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "StreamTrigger", "Validate", "max_deliver must be -1 or >= 1")
	}
	if len(c.BackOff) > 0 && c.MaxDeliver != -1 && c.MaxDeliver <= len(c.BackOff) {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "StreamTrigger", "Validate", "max_deliver must exceed the number of backoff steps")
	}
	return nil
}

// subject returns the subject for key. Keys outside the subject token
// alphabet are base64url encoded.
func (c StreamConfig) subject(key string) string {
	return c.SubjectPrefix + "." + subjectToken(key)
}

// redeliveryDelay picks the back-off step for a message delivered n times.
func (c StreamConfig) redeliveryDelay(n uint64) time.Duration {
	if len(c.BackOff) == 0 {
		return time.Second
	}
	idx := int(n) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(c.BackOff) {
		idx = len(c.BackOff) - 1
	}
	return c.BackOff[idx]
}

func subjectToken(key string) string {
	for _, r := range key {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return "b64_" + base64.RawURLEncoding.EncodeToString([]byte(key))
		}
	}
	return key
}

// StreamTrigger publishes pass requests to a JetStream work queue and runs
// them from a durable consumer. Delivery survives restarts; a pass that
// returns an error is negatively acknowledged and redelivered with back-off.
type StreamTrigger struct {
	client *natsclient.Client
	runner PassRunner
	cfg    StreamConfig
	logger *slog.Logger
	pool   *worker.Pool[jetstream.Msg]

	mu      sync.Mutex
	consume jetstream.ConsumeContext
}

var _ Trigger = (*StreamTrigger)(nil)

// NewStreamTrigger builds a trigger on client. registrar may be nil.
func NewStreamTrigger(client *natsclient.Client, runner PassRunner, cfg StreamConfig, poolCfg Config,
	logger *slog.Logger, registrar metric.MetricsRegistrar) (*StreamTrigger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	t := &StreamTrigger{
		client: client,
		runner: runner,
		cfg:    cfg,
		logger: logger.With("component", "stream-trigger", "stream", cfg.Stream),
	}
	opts := []worker.Option[jetstream.Msg]{worker.WithLogger[jetstream.Msg](t.logger)}
	if registrar != nil {
		opts = append(opts, worker.WithMetricsRegistry[jetstream.Msg](registrar, "stream_passes"))
	}
	t.pool = worker.NewPool(poolCfg.Workers, poolCfg.QueueSize, t.handle, opts...)
	return t, nil
}

// Setup creates or updates the work queue stream.
func (t *StreamTrigger) Setup(ctx context.Context) error {
	replicas := t.cfg.Replicas
	if replicas < 1 {
		replicas = 1
	}
	_, err := t.client.EnsureStream(ctx, jetstream.StreamConfig{
		Name:        t.cfg.Stream,
		Description: "Order completion pass requests",
		Subjects:    []string{t.cfg.SubjectPrefix + ".>"},
		Retention:   jetstream.WorkQueuePolicy,
		Storage:     jetstream.FileStorage,
		Replicas:    replicas,
		Duplicates:  t.cfg.DedupWindow,
	})
	return err
}

// Start publishes a pass request for key.
func (t *StreamTrigger) Start(ctx context.Context, workflow, key string, input *message.FileReference) error {
	trig, err := newPassTrigger(workflow, key, input, time.Now())
	if err != nil {
		return err
	}
	data, err := json.Marshal(trig)
	if err != nil {
		return errors.WrapFatal(err, "StreamTrigger", "Start", "encode pass trigger")
	}
	// The trigger ID only suppresses duplicates from publish retries. Keyed
	// IDs would swallow the pass for the order's last file.
	return t.client.Publish(ctx, t.cfg.subject(key), data, trig.ID)
}

// Run starts the dispatch pool and attaches the durable consumer.
func (t *StreamTrigger) Run(ctx context.Context) error {
	if err := t.pool.Start(ctx); err != nil {
		return err
	}
	cc, err := t.client.Consume(ctx, t.cfg.Stream, jetstream.ConsumerConfig{
		Durable:       t.cfg.Durable,
		Description:   "Order completion pass runner",
		FilterSubject: t.cfg.SubjectPrefix + ".>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       t.cfg.AckWait,
		MaxDeliver:    t.cfg.MaxDeliver,
		BackOff:       t.cfg.BackOff,
	}, func(msg jetstream.Msg) {
		if err := t.pool.SubmitWait(ctx, msg); err != nil {
			// Redelivered after AckWait or the next back-off step.
			_ = msg.Nak()
		}
	})
	if err != nil {
		_ = t.pool.Stop(time.Second)
		return err
	}

	t.mu.Lock()
	t.consume = cc
	t.mu.Unlock()
	t.logger.Info("Consuming pass requests", "durable", t.cfg.Durable)
	return nil
}

// Stop detaches the consumer and drains in-flight passes.
func (t *StreamTrigger) Stop(timeout time.Duration) error {
	t.mu.Lock()
	if t.consume != nil {
		t.consume.Stop()
		t.consume = nil
	}
	t.mu.Unlock()
	return t.pool.Stop(timeout)
}

// Stats exposes the dispatch pool counters.
func (t *StreamTrigger) Stats() worker.PoolStats {
	return t.pool.Stats()
}

func (t *StreamTrigger) handle(ctx context.Context, msg jetstream.Msg) error {
	trig, err := message.DecodePassTrigger(msg.Data())
	if err != nil {
		t.logger.Error("Dropping malformed pass request", "subject", msg.Subject(), "error", err)
		_ = msg.Term()
		return err
	}

	res, err := t.runner.RunPass(ctx, trig.Key)
	if err != nil {
		delivered := uint64(0)
		if md, mdErr := msg.Metadata(); mdErr == nil {
			delivered = md.NumDelivered
		}
		delay := t.cfg.redeliveryDelay(delivered)
		t.logger.Warn("Pass failed, requesting redelivery",
			"order_key", trig.Key, "trigger_id", trig.ID, "delivered", delivered, "delay", delay, "error", err)
		_ = msg.NakWithDelay(delay)
		return err
	}

	if err := msg.Ack(); err != nil {
		t.logger.Warn("Ack failed", "order_key", trig.Key, "error", err)
	}
	t.logger.Debug("Pass finished", "order_key", trig.Key, "trigger_id", trig.ID, "reason", trig.Reason, "outcome", res.Outcome)
	return nil
}
