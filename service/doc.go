// Package service assembles the order processing daemon from
// configuration: NATS connection, stores, merge client, coordinator, pass
// trigger, sweeper, ingestion gateway, health monitor and metrics.
//
// A Service is built with New, started with Start and stopped with Stop.
// Run combines the three around a context:
//
//	svc, err := service.New(ctx, cfg, service.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	return svc.Run(ctx)
//
// Every backend has an in-memory variant so the whole pipeline can run
// without NATS for local development and tests.
package service
