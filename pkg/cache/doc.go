// Package cache provides a generic, thread-safe TTL cache with built-in
// statistics and optional Prometheus metrics.
//
// The gateway uses it to remember notification IDs it has already handled:
//
//	seen, err := cache.NewTTL[struct{}](ctx, 10*time.Minute, time.Minute,
//		cache.WithMetrics[struct{}](registry, "gateway_dedupe"))
//	if added, _ := seen.SetIfAbsent(eventID, struct{}{}); !added {
//		// duplicate delivery
//	}
//
// Expired entries are removed lazily on access and by a background sweep
// that stops on Close or when the constructor's context is cancelled.
package cache
