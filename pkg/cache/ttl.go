package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kevingbb/processorders/errors"
)

type ttlEntry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

type ttlCache[V any] struct {
	mu              sync.RWMutex
	ttl             time.Duration
	cleanupInterval time.Duration
	items           map[string]*ttlEntry[V]
	stats           *Statistics
	metrics         *cacheMetrics
	evictFn         EvictCallback[V]
	now             func() time.Time

	shutdown  chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

// NewTTL creates a TTL cache. The cleanup goroutine runs until ctx is done
// or Close is called.
func NewTTL[V any](ctx context.Context, ttl, cleanupInterval time.Duration, options ...Option[V]) (Cache[V], error) {
	if ttl <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "NewTTL",
			fmt.Sprintf("ttl must be positive, got %v", ttl))
	}
	if cleanupInterval <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "NewTTL",
			fmt.Sprintf("cleanup_interval must be positive, got %v", cleanupInterval))
	}
	opts := applyOptions(options...)

	var metrics *cacheMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newCacheMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "cache", "NewTTL", "metrics registration")
		}
	}

	c := &ttlCache[V]{
		ttl:             ttl,
		cleanupInterval: cleanupInterval,
		items:           make(map[string]*ttlEntry[V]),
		stats:           NewStatistics(),
		metrics:         metrics,
		evictFn:         opts.evictCallback,
		now:             opts.clock,
		shutdown:        make(chan struct{}),
		done:            make(chan struct{}),
	}
	go c.cleanup(ctx)
	return c, nil
}

func (c *ttlCache[V]) expired(e *ttlEntry[V]) bool {
	return !c.now().Before(e.expiresAt)
}

func (c *ttlCache[V]) Get(key string) (V, bool) {
	var zero V

	c.mu.RLock()
	entry, exists := c.items[key]
	c.mu.RUnlock()

	if !exists {
		c.miss()
		return zero, false
	}
	if c.expired(entry) {
		c.mu.Lock()
		if cur, ok := c.items[key]; ok && c.expired(cur) {
			c.evictLocked(cur)
		}
		c.mu.Unlock()
		c.miss()
		return zero, false
	}

	c.stats.Hit()
	if c.metrics != nil {
		c.metrics.recordHit()
	}
	return entry.value, true
}

func (c *ttlCache[V]) Set(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	cur, exists := c.items[key]
	created := !exists || c.expired(cur)
	c.items[key] = &ttlEntry[V]{key: key, value: value, expiresAt: c.now().Add(c.ttl)}
	size := len(c.items)
	c.mu.Unlock()

	c.recordSet(size)
	return created, nil
}

func (c *ttlCache[V]) SetIfAbsent(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	if cur, exists := c.items[key]; exists && !c.expired(cur) {
		c.mu.Unlock()
		c.stats.Hit()
		if c.metrics != nil {
			c.metrics.recordHit()
		}
		return false, nil
	}
	c.items[key] = &ttlEntry[V]{key: key, value: value, expiresAt: c.now().Add(c.ttl)}
	size := len(c.items)
	c.mu.Unlock()

	c.miss()
	c.recordSet(size)
	return true, nil
}

func (c *ttlCache[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	entry, exists := c.items[key]
	if exists {
		delete(c.items, key)
	}
	size := len(c.items)
	c.mu.Unlock()

	if !exists {
		return false, nil
	}
	if c.evictFn != nil {
		c.evictFn(key, entry.value)
	}
	c.stats.Delete()
	c.stats.UpdateSize(int64(size))
	if c.metrics != nil {
		c.metrics.recordDelete()
		c.metrics.updateSize(size)
	}
	return true, nil
}

func (c *ttlCache[V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *ttlCache[V]) Stats() *Statistics {
	return c.stats
}

func (c *ttlCache[V]) Close() error {
	c.closeOnce.Do(func() { close(c.shutdown) })

	select {
	case <-c.done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for cleanup goroutine to finish")
	}
}

func (c *ttlCache[V]) miss() {
	c.stats.Miss()
	if c.metrics != nil {
		c.metrics.recordMiss()
	}
}

func (c *ttlCache[V]) recordSet(size int) {
	c.stats.Set()
	c.stats.UpdateSize(int64(size))
	if c.metrics != nil {
		c.metrics.recordSet()
		c.metrics.updateSize(size)
	}
}

// evictLocked removes e. c.mu must be held.
func (c *ttlCache[V]) evictLocked(e *ttlEntry[V]) {
	delete(c.items, e.key)
	size := len(c.items)
	if c.evictFn != nil {
		defer c.evictFn(e.key, e.value)
	}
	c.stats.Eviction()
	c.stats.UpdateSize(int64(size))
	if c.metrics != nil {
		c.metrics.recordEviction()
		c.metrics.updateSize(size)
	}
}

func (c *ttlCache[V]) cleanup(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

func (c *ttlCache[V]) removeExpired() {
	var expired []*ttlEntry[V]

	c.mu.Lock()
	for key, entry := range c.items {
		if c.expired(entry) {
			expired = append(expired, entry)
			delete(c.items, key)
		}
	}
	size := len(c.items)
	c.mu.Unlock()

	if len(expired) == 0 {
		return
	}
	// Callbacks run outside the lock.
	if c.evictFn != nil {
		for _, e := range expired {
			c.evictFn(e.key, e.value)
		}
	}
	for range expired {
		c.stats.Eviction()
		if c.metrics != nil {
			c.metrics.recordEviction()
		}
	}
	c.stats.UpdateSize(int64(size))
	if c.metrics != nil {
		c.metrics.updateSize(size)
	}
}
