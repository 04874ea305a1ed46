package blobstore

import (
	"context"
	"errors"

	"github.com/okarvi/tideflow/pkg/api"
)

var (
	// ErrConflict is returned by Put when the CAS precondition fails: either
	// the stored token no longer matches, or a create collided with an
	// existing record. It is recoverable; the engine retries from a fresh
	// load.
	ErrConflict = errors.New("blobstore: conflict")

	// ErrNotFound is returned by Get when no record exists for the key.
	ErrNotFound = errors.New("blobstore: not found")
)

// Rec is the result of reading one workflow blob: the decoded state, the
// store's informational revision, and an opaque CAS token for the next write.
type Rec struct {
	Rev   int64
	State *api.State
	CAS   string
}

// Store is single-blob persistence with linearizable per-key compare-and-swap.
//
// Correctness of the engine relies solely on the CAS token; Rev is
// informational. Implementations over object stores express the same contract
// with conditional-write headers (create-if-absent, compare-and-write on a
// version tag).
type Store interface {
	// Get returns the current record for key, or ErrNotFound.
	Get(ctx context.Context, key string) (*Rec, error)

	// Put writes st atomically and returns the new revision.
	// With cas == "", the write succeeds only if no record exists.
	// With a non-empty cas, the write succeeds only if the stored token
	// equals it. Either precondition failing yields ErrConflict.
	Put(ctx context.Context, key string, st *api.State, cas string) (int64, error)

	// List returns all keys with the given prefix, sorted ascending.
	List(ctx context.Context, prefix string) ([]string, error)
}
