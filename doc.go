// Package processorders joins the three files of an uploaded order into one
// combined order.
//
// Each order arrives as three CSV uploads sharing a batch prefix:
//
//	<prefix>-OrderHeaderDetails.csv
//	<prefix>-OrderLineItems.csv
//	<prefix>-ProductInformation.csv
//
// The storage account announces every upload with an Event Grid
// notification. The service records which parts of an order have arrived
// and, once all three are present, runs a single completion pass: it calls
// the merge service with the three URLs, persists the combined content and
// deletes the source files.
//
// # Layout
//
//   - gateway, gateway/http: the Event Grid endpoint and admin API
//   - message: file references, merge requests and pass triggers
//   - orderstore: join state and pass ledger stores (memory, NATS KV)
//   - processor/orderjoin: the coordinator, pass triggers and sweeper
//   - output/mergeapi: the merge service client
//   - storage/objectstore, storage/results: order files and combined orders
//   - natsclient: NATS connection and JetStream helpers
//   - config, errors, health, metric, pkg/*: shared infrastructure
//   - service: wiring and lifecycle
//   - cmd/processorders, cmd/ordersctl: the server and the operator CLI
//
// # Guarantees
//
// Notifications may be delivered more than once and in any order. Join
// state is updated atomically per order, so concurrent notifications for the
// same order never lose a part. At most one completion pass per order
// reaches the merge service successfully; later triggers for a finished
// order are no-ops.
package processorders
