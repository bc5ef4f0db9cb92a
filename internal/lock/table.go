// Package lock provides named mutual-exclusion locks for collapsing duplicate work,
// such as concurrent lookups of the same user/group name.
package lock

import (
	"context"
	"errors"
	"sync"

	"docs4usync/internal/types"
)

// Table is an in-process ports.Locker keyed by name. Only callers using the same name
// contend; idle names are dropped from the table.
type Table struct {
	mu    sync.Mutex
	locks map[string]*namedLock
}

type namedLock struct {
	ch   chan struct{} // holds one token while locked
	refs int
}

func NewTable() *Table {
	return &Table{locks: make(map[string]*namedLock)}
}

// Lock waits for name until ctx is done.
func (t *Table) Lock(ctx context.Context, name string) (func(), error) {
	t.mu.Lock()
	l, ok := t.locks[name]
	if !ok {
		l = &namedLock{ch: make(chan struct{}, 1)}
		t.locks[name] = l
	}
	l.refs++
	t.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		t.release(name, l)
		return nil, WaitError(ctx, name)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			t.release(name, l)
		})
	}, nil
}

func (t *Table) release(name string, l *namedLock) {
	t.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(t.locks, name)
	}
	t.mu.Unlock()
}

// Len reports how many names are currently held or awaited.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}

// WaitError classifies a lock wait that ended because ctx is done.
func WaitError(ctx context.Context, name string) error {
	err := ctx.Err()
	if errors.Is(err, context.Canceled) {
		return types.Interrupted(err)
	}
	return types.Err(types.ErrLockTimeout, err, "lock %q", name)
}
