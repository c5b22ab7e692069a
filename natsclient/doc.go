// Package natsclient owns the process's single NATS connection and the
// JetStream resources built on it.
//
// The order join service keeps all durable state in JetStream:
//
//   - KV buckets hold per-order join state, the completion pass ledger and,
//     optionally, the combined order records.
//   - An object store bucket holds the uploaded CSV sources.
//   - A work-queue stream carries completion pass triggers.
//
// Client wraps the connection with a small circuit breaker so a flapping
// server does not turn every request into a dial attempt. KVStore adds
// revision-checked read-modify-write on top of a bucket; it is the single
// writer primitive the join state relies on.
//
// Tests that need a real server use NewTestClient, which starts a NATS
// container through testcontainers. Those tests carry the integration build
// tag.
package natsclient
