// Package worker provides a bounded generic worker pool.
//
// A Pool runs a fixed number of goroutines that take work items from a
// buffered queue and hand them to a processor function. Submit never blocks:
// a full queue returns ErrQueueFull so callers can apply their own back
// pressure. SubmitWait blocks until there is room or the context ends.
//
// Processor panics are recovered and counted as failures so a single bad
// item cannot take down the pool.
//
//	pool := worker.NewPool(4, 256, func(ctx context.Context, key string) error {
//	    _, err := coordinator.RunPass(ctx, key)
//	    return err
//	}, worker.WithMetricsRegistry[string](registry, "passes"))
//	_ = pool.Start(ctx)
//	defer pool.Stop(10 * time.Second)
package worker
