package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kevingbb/processorders/metric"
)

// Pool runs processor over queued work items of type T.
type Pool[T any] struct {
	workers   int
	queueSize int
	processor func(context.Context, T) error
	logger    *slog.Logger

	workChan chan T
	metrics  *poolMetrics
	wg       sync.WaitGroup
	active   atomic.Int64

	lifecycleMu sync.RWMutex
	started     bool
	stopped     bool
	stopCh      chan struct{}
	stopOnce    sync.Once

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	registrar metric.MetricsRegistrar
	name      string
}

type poolMetrics struct {
	queueDepth     prometheus.Gauge
	busy           prometheus.Gauge
	submitted      prometheus.Counter
	dropped        prometheus.Counter
	processingTime *prometheus.HistogramVec
}

// Option configures a Pool.
type Option[T any] func(*Pool[T])

// WithMetricsRegistry registers pool metrics under name.
func WithMetricsRegistry[T any](registrar metric.MetricsRegistrar, name string) Option[T] {
	return func(p *Pool[T]) {
		p.registrar = registrar
		p.name = name
	}
}

// WithLogger sets the logger used for recovered panics.
func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(p *Pool[T]) {
		p.logger = logger
	}
}

// NewPool creates a pool. Non-positive sizes fall back to 10 workers and a
// queue of 1000. It panics on a nil processor.
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if workers <= 0 {
		workers = 10
	}
	if queueSize <= 0 {
		queueSize = 1000
	}
	if processor == nil {
		panic(ErrNilProcessor)
	}

	p := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		logger:    slog.Default(),
		workChan:  make(chan T, queueSize),
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.registrar != nil && p.name != "" {
		p.initializeMetrics()
	}
	return p
}

func (p *Pool[T]) initializeMetrics() {
	labels := prometheus.Labels{"pool": p.name}
	m := &poolMetrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "processorders", Subsystem: "worker", Name: "queue_depth",
			Help: "Items waiting in the worker queue", ConstLabels: labels,
		}),
		busy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "processorders", Subsystem: "worker", Name: "busy_workers",
			Help: "Workers currently processing an item", ConstLabels: labels,
		}),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "processorders", Subsystem: "worker", Name: "submitted_total",
			Help: "Items accepted into the queue", ConstLabels: labels,
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "processorders", Subsystem: "worker", Name: "dropped_total",
			Help: "Items rejected because the queue was full", ConstLabels: labels,
		}),
		processingTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "processorders", Subsystem: "worker", Name: "processing_duration_seconds",
			Help: "Time spent processing items", ConstLabels: labels,
			Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"status"}),
	}

	component := "worker." + p.name
	errs := []error{
		p.registrar.RegisterGauge(component, "queue_depth", m.queueDepth),
		p.registrar.RegisterGauge(component, "busy_workers", m.busy),
		p.registrar.RegisterCounter(component, "submitted_total", m.submitted),
		p.registrar.RegisterCounter(component, "dropped_total", m.dropped),
		p.registrar.RegisterHistogramVec(component, "processing_duration_seconds", m.processingTime),
	}
	for _, err := range errs {
		if err != nil {
			p.logger.Warn("Worker pool metrics not registered", "pool", p.name, "error", err)
			return
		}
	}
	p.metrics = m
}

// Submit queues work without blocking.
func (p *Pool[T]) Submit(work T) error {
	p.lifecycleMu.RLock()
	defer p.lifecycleMu.RUnlock()

	if err := p.acceptingLocked(); err != nil {
		return err
	}

	select {
	case p.workChan <- work:
		p.accepted()
		return nil
	default:
		p.dropped.Add(1)
		if p.metrics != nil {
			p.metrics.dropped.Inc()
		}
		return ErrQueueFull
	}
}

// SubmitWait queues work, waiting for room until ctx is done or the pool stops.
func (p *Pool[T]) SubmitWait(ctx context.Context, work T) error {
	p.lifecycleMu.RLock()
	defer p.lifecycleMu.RUnlock()

	if err := p.acceptingLocked(); err != nil {
		return err
	}

	select {
	case p.workChan <- work:
		p.accepted()
		return nil
	case <-p.stopCh:
		return ErrPoolStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool[T]) acceptingLocked() error {
	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}
	return nil
}

func (p *Pool[T]) accepted() {
	p.submitted.Add(1)
	if p.metrics != nil {
		p.metrics.submitted.Inc()
		p.metrics.queueDepth.Set(float64(len(p.workChan)))
	}
}

// Start launches the workers. Workers exit when ctx is cancelled or Stop
// drains the queue.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.started = true
	return nil
}

// Stop stops accepting work, lets queued items finish and waits up to
// timeout for the workers to exit.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.lifecycleMu.RLock()
	running := p.started && !p.stopped
	p.lifecycleMu.RUnlock()
	if !running {
		return nil
	}

	// Wake blocked SubmitWait callers so they release the read lock.
	p.stopOnce.Do(func() { close(p.stopCh) })

	p.lifecycleMu.Lock()
	if p.stopped {
		p.lifecycleMu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.workChan)
	p.lifecycleMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats returns current pool statistics
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		Busy:       int(p.active.Load()),
		QueueSize:  p.queueSize,
		QueueDepth: len(p.workChan),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
	}
}

// PoolStats represents worker pool statistics
type PoolStats struct {
	Workers    int   `json:"workers" yaml:"workers"`
	Busy       int   `json:"busy" yaml:"busy"`
	QueueSize  int   `json:"queue_size" yaml:"queue_size"`
	QueueDepth int   `json:"queue_depth" yaml:"queue_depth"`
	Submitted  int64 `json:"submitted" yaml:"submitted"`
	Processed  int64 `json:"processed" yaml:"processed"`
	Failed     int64 `json:"failed" yaml:"failed"`
	Dropped    int64 `json:"dropped" yaml:"dropped"`
}

func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-p.workChan:
			if !ok {
				return
			}
			p.process(ctx, work)
		}
	}
}

func (p *Pool[T]) process(ctx context.Context, work T) {
	p.active.Add(1)
	if p.metrics != nil {
		p.metrics.busy.Inc()
		p.metrics.queueDepth.Set(float64(len(p.workChan)))
	}
	start := time.Now()

	err := p.safeProcess(ctx, work)

	p.active.Add(-1)
	p.processed.Add(1)
	status := "success"
	if err != nil {
		p.failed.Add(1)
		status = "error"
	}
	if p.metrics != nil {
		p.metrics.busy.Dec()
		p.metrics.processingTime.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}
}

func (p *Pool[T]) safeProcess(ctx context.Context, work T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
			p.logger.Error("Worker processor panicked", "pool", p.name, "panic", r)
		}
	}()
	return p.processor(ctx, work)
}
