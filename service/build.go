package service

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/kevingbb/processorders/config"
	"github.com/kevingbb/processorders/errors"
	"github.com/kevingbb/processorders/natsclient"
	"github.com/kevingbb/processorders/orderstore"
	"github.com/kevingbb/processorders/output/mergeapi"
	"github.com/kevingbb/processorders/processor/orderjoin"
	"github.com/kevingbb/processorders/storage"
	"github.com/kevingbb/processorders/storage/objectstore"
	"github.com/kevingbb/processorders/storage/results"
)

// passTrigger is a Trigger with its own workers.
type passTrigger interface {
	orderjoin.Trigger
	Run(ctx context.Context) error
	Stop(timeout time.Duration) error
}

func (s *Service) connectNATS(ctx context.Context) error {
	cfg := s.cfg.NATS
	opts := []natsclient.ClientOption{
		natsclient.WithName(cfg.Name),
		natsclient.WithMaxReconnects(cfg.MaxReconnects),
		natsclient.WithLogger(natsclient.NewSlogLogger(s.logger.With("component", "nats"))),
		natsclient.WithHealthChangeCallback(func(healthy bool) {
			s.metrics.RecordNATSStatus(healthy)
			if !healthy {
				s.metrics.RecordNATSReconnect()
			}
		}),
	}
	if cfg.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(cfg.ReconnectWait.D()))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, natsclient.WithTimeout(cfg.Timeout.D()))
	}
	if cfg.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.Token))
	}
	if cfg.TLS.Enabled {
		opts = append(opts, natsclient.WithTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.CAFile))
	}

	client, err := natsclient.NewClient(cfg.URL(), opts...)
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return err
	}
	s.metrics.RecordNATSStatus(true)
	s.nats = client
	return nil
}

func (s *Service) kvBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (*natsclient.KVStore, error) {
	bucket, err := s.nats.EnsureKeyValue(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "Service", "kvBucket", "ensure bucket "+cfg.Bucket)
	}
	return s.nats.NewKVStore(bucket), nil
}

func (s *Service) buildOrderStores(ctx context.Context) error {
	cfg := s.cfg.State
	switch cfg.Backend {
	case config.BackendMemory:
		s.states = orderstore.NewMemoryStateStore()
		s.passes = orderstore.NewMemoryPassStore()
		return nil
	case config.BackendKV:
		stateKV, err := s.kvBucket(ctx, orderstore.StateBucketConfig(cfg.StateBucket, cfg.TTL.D(), cfg.Replicas))
		if err != nil {
			return err
		}
		passKV, err := s.kvBucket(ctx, orderstore.PassBucketConfig(cfg.PassBucket, cfg.TTL.D(), cfg.Replicas))
		if err != nil {
			return err
		}
		s.states = orderstore.NewKVStateStore(stateKV)
		s.passes = orderstore.NewKVPassStore(passKV)
		return nil
	default:
		return unknownBackend("state", cfg.Backend)
	}
}

func (s *Service) buildResults(ctx context.Context) error {
	cfg := s.cfg.Results
	switch cfg.Backend {
	case config.BackendMemory:
		s.results = results.NewMemoryStore()
	case config.BackendKV:
		kv, err := s.kvBucket(ctx, results.BucketConfig(cfg.Bucket, 0, cfg.Replicas))
		if err != nil {
			return err
		}
		s.results = results.NewKVStore(kv)
	case config.BackendSQLite:
		store, err := results.OpenSQLStore(ctx, cfg.SQLitePath)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, store.Close)
		s.results = store
	default:
		return unknownBackend("results", cfg.Backend)
	}
	return nil
}

func (s *Service) buildSources(ctx context.Context) error {
	if s.sources != nil {
		return nil
	}
	cfg := s.cfg.Sources
	switch cfg.Backend {
	case config.BackendMemory:
		s.sources = objectstore.NewMemoryStore()
	case config.BackendObjectStore:
		store, err := objectstore.NewStore(ctx, s.nats, objectstore.Config{
			Bucket:      cfg.Bucket,
			Description: "Uploaded order source files",
			Replicas:    cfg.Replicas,
			MaxBytes:    cfg.MaxBytes,
		}, s.logger, objectstore.WithMetrics(s.registry))
		if err != nil {
			return err
		}
		s.sources = store
	default:
		return unknownBackend("sources", cfg.Backend)
	}
	return nil
}

func (s *Service) buildMerger() error {
	if s.merger != nil {
		return nil
	}
	cfg := s.cfg.Merge
	client, err := mergeapi.NewClient(mergeapi.Config{
		URL:              cfg.URL,
		Headers:          cfg.Headers,
		Timeout:          int(cfg.Timeout.D() / time.Second),
		RetryCount:       cfg.RetryCount,
		RetryDelay:       cfg.RetryDelay.D().String(),
		MaxResponseBytes: cfg.MaxResponseBytes,
	}, s.cfg.Security.TLS.Client, s.logger,
		mergeapi.WithObserver(func(status int, elapsed time.Duration, _ error) {
			s.metrics.RecordMergeCall(status, elapsed)
		}))
	if err != nil {
		return err
	}
	s.mergeClient = client
	s.merger = client
	return nil
}

func (s *Service) coordinatorConfig() orderjoin.Config {
	cfg := s.cfg.Coordinator
	return orderjoin.Config{
		ClaimTimeout:      cfg.ClaimTimeout.D(),
		HeartbeatInterval: cfg.HeartbeatInterval.D(),
		MaxMergeAttempts:  cfg.MaxMergeAttempts,
		PersistAttempts:   cfg.PersistAttempts,
		Workers:           cfg.Workers,
		QueueSize:         cfg.QueueSize,
		SweepInterval:     cfg.SweepInterval.D(),
		Retention:         cfg.Retention.D(),
	}
}

func (s *Service) buildCoordinator(ctx context.Context) error {
	ojCfg := s.coordinatorConfig()
	coord, err := orderjoin.NewCoordinator(orderjoin.Dependencies{
		States:  s.states,
		Passes:  s.passes,
		Merger:  s.merger,
		Results: s.results,
		Sources: s.sources,
		Logger:  s.logger,
		Metrics: s.metrics,
	}, ojCfg)
	if err != nil {
		return err
	}

	switch s.cfg.Coordinator.Trigger {
	case config.TriggerLocal:
		s.trigger = orderjoin.NewLocalTrigger(coord, ojCfg, s.logger, s.registry)
	case config.TriggerStream:
		sc := s.cfg.Coordinator.Stream
		backoff := make([]time.Duration, len(sc.BackOff))
		for i, d := range sc.BackOff {
			backoff[i] = d.D()
		}
		st, err := orderjoin.NewStreamTrigger(s.nats, coord, orderjoin.StreamConfig{
			Stream:        sc.Name,
			SubjectPrefix: sc.SubjectPrefix,
			Durable:       sc.Durable,
			Replicas:      sc.Replicas,
			MaxDeliver:    sc.MaxDeliver,
			AckWait:       sc.AckWait.D(),
			BackOff:       backoff,
			DedupWindow:   sc.DedupWindow.D(),
		}, ojCfg, s.logger, s.registry)
		if err != nil {
			return err
		}
		if err := st.Setup(ctx); err != nil {
			return err
		}
		s.trigger = st
	default:
		return unknownBackend("trigger", s.cfg.Coordinator.Trigger)
	}

	coord.SetTrigger(s.trigger)
	s.coordinator = coord
	s.sweeper = orderjoin.NewSweeper(coord)
	return nil
}

func unknownBackend(what, name string) error {
	return errors.WrapInvalid(errors.ErrInvalidConfig, "Service", "build",
		fmt.Sprintf("unknown %s backend %q", what, name))
}

// Sources returns the uploaded-file store.
func (s *Service) Sources() storage.Store { return s.sources }
