// Package objectstore implements storage.Store on a NATS JetStream object
// store bucket and in memory, and provides source file cleanup for finished
// orders.
//
// DeleteSources resolves each notification URL to its object name (the path
// below the container segment) and deletes every object independently.
// Missing objects count as deleted so repeated passes stay harmless.
//
//	store, err := objectstore.NewStore(ctx, natsClient, objectstore.DefaultConfig(), logger)
//	report := objectstore.DeleteSources(ctx, store, "20240101000000", urls, retry.DefaultConfig(), logger)
//	logger.Info(report.Outcome)
package objectstore
