// Package lockmgr provides the named mutual-exclusion primitive that
// serializes state-changing operations on a single coupon code.
//
// A lock is identified by an arbitrary string key and owned by a holder.
// Locks are not reentrant: a key held by any holder, including the caller,
// cannot be acquired again until it is released.
package lockmgr

import (
	"context"
)

// Manager acquires and releases named locks.
type Manager interface {
	// TryAcquire takes key for holder without blocking. It reports false when
	// the key is already held.
	TryAcquire(ctx context.Context, key, holder string) (bool, error)

	// Release frees key if it is held by holder and reports whether it did.
	Release(ctx context.Context, key, holder string) (bool, error)

	// ForceRelease frees key regardless of its holder. Used to reclaim locks
	// whose time lease has run out.
	ForceRelease(ctx context.Context, key string) (bool, error)
}
