package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kevingbb/processorders/config"
	"github.com/kevingbb/processorders/errors"
	"github.com/kevingbb/processorders/gateway"
	gatewayhttp "github.com/kevingbb/processorders/gateway/http"
	"github.com/kevingbb/processorders/health"
	"github.com/kevingbb/processorders/metric"
	"github.com/kevingbb/processorders/natsclient"
	"github.com/kevingbb/processorders/orderstore"
	"github.com/kevingbb/processorders/output/mergeapi"
	"github.com/kevingbb/processorders/pkg/cache"
	"github.com/kevingbb/processorders/pkg/tlsutil"
	"github.com/kevingbb/processorders/processor/orderjoin"
	"github.com/kevingbb/processorders/storage"
	"github.com/kevingbb/processorders/storage/results"
)

// Service is the assembled order processing daemon.
type Service struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	metrics  *metric.Metrics
	monitor  *health.Monitor

	nats        *natsclient.Client
	states      orderstore.StateStore
	passes      orderstore.PassStore
	results     results.Store
	sources     storage.Store
	merger      orderjoin.Merger
	mergeClient *mergeapi.Client
	coordinator *orderjoin.Coordinator
	sweeper     *orderjoin.Sweeper
	trigger     passTrigger
	gateway     *gatewayhttp.Gateway

	mux           *http.ServeMux
	httpServer    *http.Server
	listener      net.Listener
	metricsServer *metric.Server
	closers       []func() error

	status    atomic.Value // Status
	startTime time.Time
	bgCtx     context.Context
	bgCancel  context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetricsRegistry uses registry instead of a fresh one.
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(s *Service) { s.registry = registry }
}

// WithMerger replaces the HTTP merge client.
func WithMerger(m orderjoin.Merger) Option {
	return func(s *Service) { s.merger = m }
}

// WithSources replaces the configured source file store.
func WithSources(store storage.Store) Option {
	return func(s *Service) { s.sources = store }
}

// New builds every component from cfg. NATS is dialled only when a
// configured backend needs it.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		cfg:     cfg,
		logger:  slog.Default(),
		monitor: health.NewMonitor(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("service", cfg.Service.Name)
	if s.registry == nil {
		s.registry = metric.NewMetricsRegistry()
	}
	s.metrics = s.registry.CoreMetrics()
	s.monitor.SetMetrics(s.metrics)
	s.status.Store(StatusStopped)
	s.bgCtx, s.bgCancel = context.WithCancel(context.Background())

	if err := s.build(ctx); err != nil {
		s.cleanup(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Service) build(ctx context.Context) error {
	if s.cfg.UsesNATS() {
		if err := s.connectNATS(ctx); err != nil {
			return err
		}
	}
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"order stores", s.buildOrderStores},
		{"results store", s.buildResults},
		{"source store", s.buildSources},
		{"merge client", func(context.Context) error { return s.buildMerger() }},
		{"coordinator", s.buildCoordinator},
		{"gateway", func(context.Context) error { return s.buildGateway() }},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			return errors.Wrap(err, "Service", "New", "build "+step.name)
		}
	}
	s.registerHealthChecks()
	s.mux = s.buildMux()
	return nil
}

func (s *Service) buildGateway() error {
	gwCfg := gateway.Config{
		Path:           s.cfg.Gateway.Path,
		MaxBodyBytes:   s.cfg.Gateway.MaxBodyBytes,
		RequestTimeout: s.cfg.Gateway.RequestTimeout.D(),
		DedupeTTL:      s.cfg.Gateway.DedupeTTL.D(),
	}
	opts := []gatewayhttp.Option{
		gatewayhttp.WithLogger(s.logger),
		gatewayhttp.WithMetrics(s.metrics),
	}
	if s.cfg.Service.Admin {
		opts = append(opts, gatewayhttp.WithAdmin(admin{Coordinator: s.coordinator, sweeper: s.sweeper}))
	}
	if ttl := gwCfg.DedupeTTL; ttl > 0 {
		seen, err := cache.NewTTL[bool](s.bgCtx, ttl, cleanupInterval(ttl),
			cache.WithMetrics[bool](s.registry, "gateway_dedupe"))
		if err != nil {
			return err
		}
		opts = append(opts, gatewayhttp.WithDedupe(seen))
	}

	g, err := gatewayhttp.NewGateway(gwCfg, s.coordinator, opts...)
	if err != nil {
		return err
	}
	s.gateway = g
	return nil
}

func cleanupInterval(ttl time.Duration) time.Duration {
	if iv := ttl / 10; iv > time.Second {
		return iv
	}
	return time.Second
}

// admin adapts the coordinator and sweeper to gateway.Admin.
type admin struct {
	*orderjoin.Coordinator
	sweeper *orderjoin.Sweeper
}

func (a admin) Sweep(ctx context.Context) (orderjoin.SweepReport, error) {
	return a.sweeper.Sweep(ctx)
}

func (s *Service) registerHealthChecks() {
	s.monitor.Register("gateway", s.gateway.Health, "accepting notifications")
	if s.nats != nil {
		s.monitor.Register("nats", func(context.Context) error {
			if !s.nats.IsHealthy() {
				return errors.WrapTransient(errors.ErrNoConnection, "Service", "health", "nats "+s.nats.Status().String())
			}
			return nil
		}, "connected")
	}
	s.monitor.Register("state", func(ctx context.Context) error {
		_, err := s.states.Get(ctx, "healthcheck")
		if err != nil && !stderrors.Is(err, orderstore.ErrNotFound) {
			return err
		}
		return nil
	}, "reachable")
}

func (s *Service) buildMux() *http.ServeMux {
	mux := http.NewServeMux()
	s.gateway.RegisterHTTPHandlers("", mux)
	mux.Handle("GET /healthz", s.monitor.Handler(s.cfg.Service.Name))
	mux.HandleFunc("GET /livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	if s.cfg.Metrics.Enabled && s.cfg.Metrics.Addr == "" {
		mux.Handle("GET "+s.cfg.Metrics.Path, s.registry.Handler())
	}
	if s.cfg.Service.Admin {
		mux.HandleFunc("GET /api/stats", s.handleStats)
	}
	return mux
}

// Start launches the trigger, sweeper, health checks and listeners. When
// Start fails, whatever it launched is stopped and the stores are closed; the
// service cannot be started again.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Status() != StatusStopped {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Service", "Start", "service already started")
	}
	s.setStatus(StatusStarting)
	s.startTime = time.Now()

	if err := s.trigger.Run(s.bgCtx); err != nil {
		s.abortStart(ctx)
		return errors.Wrap(err, "Service", "Start", "start pass trigger")
	}
	if err := s.gateway.Start(ctx); err != nil {
		s.abortStart(ctx)
		return err
	}

	ln, err := net.Listen("tcp", s.cfg.Service.HTTPAddr)
	if err != nil {
		s.abortStart(ctx)
		return errors.WrapFatal(err, "Service", "Start", "listen on "+s.cfg.Service.HTTPAddr)
	}
	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      s.cfg.Gateway.RequestTimeout.D() + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}
	tlsConfig, err := tlsutil.LoadServerTLSConfig(s.cfg.Security.TLS.Server)
	if err != nil {
		_ = ln.Close()
		s.abortStart(ctx)
		return errors.WrapFatal(err, "Service", "Start", "load TLS config")
	}
	srv.TLSConfig = tlsConfig
	s.httpServer = srv
	s.listener = ln

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		var err error
		if srv.TLSConfig != nil {
			err = srv.ServeTLS(ln, "", "")
		} else {
			err = srv.Serve(ln)
		}
		if err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()

	if s.cfg.Metrics.Enabled && s.cfg.Metrics.Addr != "" {
		s.metricsServer = metric.NewServer(s.cfg.Metrics.Addr, s.cfg.Metrics.Path, s.registry, s.cfg.Security)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.metricsServer.Start(); err != nil {
				s.logger.Error("Metrics server error", "error", err)
			}
		}()
	}

	s.monitor.CheckAll(ctx)
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.monitor.Run(s.bgCtx, s.cfg.Service.HealthInterval.D())
	}()
	go func() {
		defer s.wg.Done()
		s.sweeper.Run(s.bgCtx, s.cfg.Coordinator.SweepInterval.D())
	}()

	s.setStatus(StatusRunning)
	s.logger.Info("Service started",
		"http_addr", ln.Addr().String(),
		"gateway_path", s.cfg.Gateway.Path,
		"state_backend", s.cfg.State.Backend,
		"trigger", s.cfg.Coordinator.Trigger,
		"results_backend", s.cfg.Results.Backend,
		"sources_backend", s.cfg.Sources.Backend)
	return nil
}

// abortStart undoes a partial Start. Stopping an unstarted gateway is a no-op.
func (s *Service) abortStart(ctx context.Context) {
	timeout := s.cfg.Service.ShutdownTimeout.D()
	if err := s.gateway.Stop(timeout); err != nil {
		s.logger.Warn("Gateway stop failed", "error", err)
	}
	if err := s.trigger.Stop(timeout); err != nil {
		s.logger.Warn("Pass trigger stop failed", "error", err)
	}
	s.bgCancel()
	s.cleanup(ctx)
	s.setStatus(StatusStopped)
}

// Run starts the service, blocks until ctx is done and stops it.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Stop(s.cfg.Service.ShutdownTimeout.D())
}

// Stop shuts down in reverse dependency order: listeners first so no new
// notifications arrive, then the trigger drains in-flight passes, then the
// stores and the NATS connection close.
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Status() != StatusRunning {
		return nil
	}
	s.setStatus(StatusStopping)
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown HTTP server: %w", err))
	}
	if s.metricsServer != nil {
		if err := s.metricsServer.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.gateway.Stop(timeout); err != nil {
		errs = append(errs, err)
	}
	if err := s.trigger.Stop(remaining(ctx)); err != nil {
		errs = append(errs, fmt.Errorf("stop pass trigger: %w", err))
	}

	s.bgCancel()
	s.wg.Wait()
	s.cleanup(ctx)

	s.setStatus(StatusStopped)
	s.logger.Info("Service stopped", "duration_ms", time.Since(start).Milliseconds())
	return stderrors.Join(errs...)
}

func remaining(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 {
			return d
		}
	}
	return time.Second
}

// cleanup releases stores and the NATS connection.
func (s *Service) cleanup(ctx context.Context) {
	s.bgCancel()
	for _, closeFn := range s.closers {
		if err := closeFn(); err != nil {
			s.logger.Warn("Close failed", "error", err)
		}
	}
	s.closers = nil
	if s.nats != nil {
		if err := s.nats.Close(ctx); err != nil {
			s.logger.Warn("NATS close failed", "error", err)
		}
		s.metrics.RecordNATSStatus(false)
	}
}

// Status returns the lifecycle state.
func (s *Service) Status() Status {
	return s.status.Load().(Status)
}

func (s *Service) setStatus(st Status) {
	s.status.Store(st)
	s.metrics.RecordServiceStatus(s.cfg.Service.Name, int(st))
}

// Addr returns the bound HTTP address, or "" before Start.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Handler returns the HTTP routes, for in-process tests.
func (s *Service) Handler() http.Handler { return s.mux }

// Coordinator returns the join coordinator.
func (s *Service) Coordinator() *orderjoin.Coordinator { return s.coordinator }

// Sweeper returns the reconciliation sweeper.
func (s *Service) Sweeper() *orderjoin.Sweeper { return s.sweeper }

// Health returns the aggregate health.
func (s *Service) Health() health.Status {
	return s.monitor.AggregateHealth(s.cfg.Service.Name)
}
