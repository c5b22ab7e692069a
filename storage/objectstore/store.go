package objectstore

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/kevingbb/processorders/errors"
	"github.com/kevingbb/processorders/metric"
	"github.com/kevingbb/processorders/natsclient"
	"github.com/kevingbb/processorders/storage"
)

// Store is a storage.Store backed by a JetStream object store bucket.
type Store struct {
	obs     jetstream.ObjectStore
	bucket  string
	logger  *slog.Logger
	metrics *storeMetrics
}

var _ storage.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store) error

// WithMetrics registers operation metrics with registrar.
func WithMetrics(registrar metric.MetricsRegistrar) Option {
	return func(s *Store) error {
		m, err := newStoreMetrics(registrar, s.bucket)
		if err != nil {
			return err
		}
		s.metrics = m
		return nil
	}
}

// NewStore ensures the bucket described by cfg exists and returns a Store on it.
func NewStore(ctx context.Context, client *natsclient.Client, cfg Config, logger *slog.Logger, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	obs, err := client.EnsureObjectStore(ctx, cfg.objectStoreConfig())
	if err != nil {
		return nil, errors.WrapTransient(err, "objectstore", "NewStore", "ensure bucket "+cfg.Bucket)
	}
	return NewStoreFromBucket(obs, logger, opts...)
}

// NewStoreFromBucket wraps an existing object store handle.
func NewStoreFromBucket(obs jetstream.ObjectStore, logger *slog.Logger, opts ...Option) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		obs:    obs,
		bucket: obs.Bucket(),
		logger: logger.With("component", "objectstore", "bucket", obs.Bucket()),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Bucket returns the bucket name.
func (s *Store) Bucket() string { return s.bucket }

// Put stores data under name.
func (s *Store) Put(ctx context.Context, name string, data []byte) (err error) {
	start := time.Now()
	defer func() { s.metrics.observe("put", start, err) }()
	if _, err = s.obs.PutBytes(ctx, name, data); err != nil {
		return errors.WrapTransient(err, "objectstore", "Put", name)
	}
	s.logger.Debug("Stored object", "name", name, "bytes", len(data))
	return nil
}

// Get returns the object data or storage.ErrNotFound.
func (s *Store) Get(ctx context.Context, name string) (data []byte, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("get", start, err) }()
	data, err = s.obs.GetBytes(ctx, name)
	if stderrors.Is(err, jetstream.ErrObjectNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, errors.WrapTransient(err, "objectstore", "Get", name)
	}
	return data, nil
}

// List returns live object names with the given prefix.
func (s *Store) List(ctx context.Context, prefix string) (names []string, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("list", start, err) }()
	infos, err := s.obs.List(ctx)
	if stderrors.Is(err, jetstream.ErrNoObjectsFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, errors.WrapTransient(err, "objectstore", "List", "list bucket")
	}
	names = make([]string, 0, len(infos))
	for _, info := range infos {
		if info.Deleted || !strings.HasPrefix(info.Name, prefix) {
			continue
		}
		names = append(names, info.Name)
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes the object. A missing object is not an error.
func (s *Store) Delete(ctx context.Context, name string) (err error) {
	start := time.Now()
	defer func() { s.metrics.observe("delete", start, err) }()
	err = s.obs.Delete(ctx, name)
	if stderrors.Is(err, jetstream.ErrObjectNotFound) {
		s.logger.Debug("Object already absent", "name", name)
		return nil
	}
	if err != nil {
		return errors.WrapTransient(err, "objectstore", "Delete", name)
	}
	return nil
}
