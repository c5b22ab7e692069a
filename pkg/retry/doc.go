// Package retry runs an operation with exponential backoff and jitter.
//
// The coordinator uses it in three places: the CAS loop on order state,
// the merge service call, and result upserts. Callers decide which errors
// are worth another attempt either by wrapping them with NonRetryable or by
// setting Config.Retryable.
//
//	content, err := retry.DoWithResult(ctx, cfg, func() (string, error) {
//	    return client.post(ctx, body)
//	})
//
// Every wait honours ctx; a cancelled context ends the loop immediately.
package retry
