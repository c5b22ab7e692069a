// Package storage defines the object store abstraction used for the raw
// order files.
//
// The coordinator only ever deletes source files, but the full interface is
// kept so operator tooling can upload and inspect them. Implementations live
// in storage/objectstore (NATS JetStream object store and an in-memory
// store). Combined order rows live in storage/results.
package storage
