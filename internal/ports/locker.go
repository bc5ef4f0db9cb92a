package ports

import "context"

// Locker hands out named mutual-exclusion locks.
// Lock blocks until the lock is held or ctx is done; the returned func releases it.
type Locker interface {
	Lock(ctx context.Context, name string) (unlock func(), err error)
}
