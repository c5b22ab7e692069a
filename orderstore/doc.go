// Package orderstore holds the durable per-order records of the join.
//
// State records which of the three order parts have arrived and where they
// live. It only ever moves forward: a slot may be refilled by a redelivered
// notification but never emptied, and once all three slots are filled the
// order stays complete.
//
// Pass records how far the completion pass for an order has progressed
// (claimed, merged, done, failed). It is the write-ahead record that lets a
// redelivered or reconciled pass resume after a crash instead of calling the
// merge service again.
//
// Both are stored behind small interfaces with two backends: JetStream KV,
// where every update is a revision-checked read-modify-write, and an
// in-memory map guarded by a per-key lock table. Updates for one key are
// serialised; updates for different keys never wait on each other.
package orderstore
