package storage

import (
	"context"
	stderrors "errors"
)

// ErrNotFound is returned by Get when no object exists under the name.
var ErrNotFound = stderrors.New("storage: object not found")

// Store holds the raw order files addressed by object name.
//
// Names are the blob path below the container segment of a notification URL,
// e.g. "20240101000000-OrderHeaderDetails.csv". Implementations must be safe
// for concurrent use.
type Store interface {
	// Put stores data under name, replacing any previous object.
	Put(ctx context.Context, name string, data []byte) error

	// Get returns the object data or ErrNotFound.
	Get(ctx context.Context, name string) ([]byte, error)

	// List returns the names starting with prefix in lexicographic order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the object. Deleting an absent object returns nil.
	Delete(ctx context.Context, name string) error
}
