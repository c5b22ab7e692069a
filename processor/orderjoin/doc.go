// Package orderjoin implements the order join coordinator.
//
// Every blob notification that names one of the three order files becomes a
// Signal applied to the order's join state (Receive). Each applied signal
// requests a completion pass through a Trigger. A pass (RunPass) reads the
// state and, once all three files are present, claims the order in the pass
// ledger, calls the merge service, stores the combined document and deletes
// the source files.
//
// # Exactly once per order
//
// Triggers deliver at least once and several passes for one order may run at
// the same time. The pass ledger makes this safe:
//
//   - a pass claims the order with a compare-and-set write; only the holder
//     of a fresh claim calls the merge service
//   - the merged content is staged in the object store and the ledger
//     records a reference to it before persist and delete, so a pass that
//     dies after merging is resumed without a second merge
//   - a finished order is marked done and later passes return AlreadyDone
//
// A running pass renews its claim every Config.HeartbeatInterval. Claims that
// make no progress for Config.ClaimTimeout are taken over, and the pass that
// lost its claim abandons its merge call.
//
// # Failures
//
// Only state or ledger store failures are returned as errors, so the trigger
// can redeliver. Merge failures mark the ledger failed; the Sweeper retries
// them until Config.MaxMergeAttempts is reached, after which the order is
// dead-lettered until an operator calls Retry. Persist and delete failures
// are logged and recorded as outcome strings.
//
// # Reconciliation
//
// The Sweeper periodically lists join state, re-triggers complete orders
// whose pass never finished and removes finished orders once Config.Retention
// has passed.
package orderjoin
