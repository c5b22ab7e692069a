package orderstore

import (
	"context"
	stderrors "errors"
)

var (
	// ErrNotFound is returned when no record exists for a key.
	ErrNotFound = stderrors.New("orderstore: not found")

	// ErrUnchanged may be returned by a PassStore update function to leave
	// the record untouched.
	ErrUnchanged = stderrors.New("orderstore: unchanged")
)

// StateStore persists join state. Apply is atomic per key.
type StateStore interface {
	Get(ctx context.Context, key string) (State, error)
	Apply(ctx context.Context, key string, sig Signal) (State, error)
	Keys(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, key string) error
}

// PassStore persists completion pass progress. Update is atomic per key:
// fn receives the current record (nil when absent) and returns the
// replacement. fn may run more than once and must not have side effects.
type PassStore interface {
	Get(ctx context.Context, key string) (Pass, error)
	Update(ctx context.Context, key string, fn func(current *Pass) (*Pass, error)) (Pass, error)
	Delete(ctx context.Context, key string) error
}
