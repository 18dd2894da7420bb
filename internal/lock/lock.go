// Package lock provides exclusive per-account scopes. Every manager acquires
// keys in ascending order, so two units locking the same pair never deadlock.
package lock

import (
	"context"
	"slices"
	"sync"
	"time"
)

// DefaultTimeout bounds how long Acquire waits for a contended key.
const DefaultTimeout = 5 * time.Second

// Release ends an exclusive scope. It is safe to call more than once.
type Release func()

// Manager grants exclusive scopes over sets of account numbers.
type Manager interface {
	// Acquire blocks until every key is held, the timeout elapses or ctx is
	// done. On timeout it returns an error matching bankerr.ErrBusy and holds
	// nothing.
	Acquire(ctx context.Context, keys ...string) (Release, error)
}

// SortedKeys returns keys deduplicated in ascending order.
func SortedKeys(keys []string) []string {
	out := slices.Clone(keys)
	slices.Sort(out)
	return slices.Compact(out)
}

func once(fn func()) Release {
	var o sync.Once
	return func() { o.Do(fn) }
}
