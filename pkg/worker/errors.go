package worker

import "errors"

// Pool lifecycle and submission errors.
var (
	ErrPoolNotStarted     = errors.New("worker: pool not started")
	ErrPoolStopped        = errors.New("worker: pool stopped")
	ErrPoolAlreadyStarted = errors.New("worker: pool already started")

	// ErrQueueFull is returned by Submit when the queue has no room.
	ErrQueueFull = errors.New("worker: queue full")

	ErrNilProcessor = errors.New("worker: nil processor")

	// ErrStopTimeout means in-flight work outlived the Stop timeout.
	ErrStopTimeout = errors.New("worker: stop timed out")

	// ErrPanic wraps a recovered processor panic.
	ErrPanic = errors.New("worker: processor panicked")
)
