// Package errors classifies failures so callers can decide between retrying,
// rejecting the input, or giving up.
//
// Every wrapped error follows the format
//
//	component.method: action failed: <cause>
//
// and carries one of three classes:
//
//   - transient: a dependency was unreachable or busy (NATS, merge service).
//     Work should be redelivered or retried.
//   - invalid: the input can never succeed (malformed Event Grid batch,
//     unknown file type). Work should be dropped and logged.
//   - fatal: the process is misconfigured.
//
// The join coordinator returns transient errors to its trigger so the
// delivery substrate redelivers the pass, and absorbs everything else into
// the pass result.
package errors
