// Package results stores combined order documents.
//
// A combined order is one row in partition "BatchOrders" keyed by the batch
// prefix, holding the merge service response verbatim. Writes are upserts,
// so a repeated pass overwrites the same row.
//
// Two backends are provided: KVStore on a JetStream KV bucket (the default,
// sharing the NATS deployment with the join state) and SQLStore on an
// embedded SQLite database for deployments that want the rows queryable
// with SQL.
//
// Persist is the entry point used by the coordinator. It never returns an
// error; the outcome is a log-ready string.
package results
