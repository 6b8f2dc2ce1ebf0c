// Package lock provides named, expiring mutual exclusion shared by all server
// processes. Expiry only protects against holders that crashed; locks are
// never renewed.
package lock

import "context"

// Locker acquires and releases named locks without blocking.
type Locker interface {
	// Acquire reports whether the lock was taken. A lock held by someone else
	// is not an error.
	Acquire(ctx context.Context, name string) (bool, error)
	// Release gives the lock up. It returns common.ErrLockNotHeld when the
	// caller no longer owns it.
	Release(ctx context.Context, name string) error
}
