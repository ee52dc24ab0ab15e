// Package lock provides per-key mutual exclusion with timeouts.
// Every component that does read-then-write on a shared resource
// funnels through one of these, keyed by the entity id.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrTimeout is returned when the lock could not be acquired within the
// caller's timeout. It is distinct from business errors so operational
// alerting can tell them apart.
var ErrTimeout = errors.New("lock acquire timeout")

type entry struct {
	sem     *semaphore.Weighted
	waiters int
}

// KeyedMutex runs an operation exclusively per key. Same-key callers
// queue in arrival order (the semaphore is FIFO); different keys do not
// contend. Entries are dropped as soon as nobody holds or waits on
// them, so the map does not grow with dead keys.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func New() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*entry)}
}

// WithLock acquires the key's lock, runs fn, and releases. A timeout of
// zero means "wait as long as ctx allows". The lock is held across
// everything fn awaits, blocking same-key callers for the duration.
func (k *KeyedMutex) WithLock(ctx context.Context, key string, timeout time.Duration, fn func(ctx context.Context) error) error {
	e := k.enter(key)

	acquireCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := e.sem.Acquire(acquireCtx, 1); err != nil {
		k.leave(key, e)
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w: key %q after %s", ErrTimeout, key, timeout)
		}
		return err
	}

	defer func() {
		e.sem.Release(1)
		k.leave(key, e)
	}()
	return fn(ctx)
}

func (k *KeyedMutex) enter(key string) *entry {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		k.entries[key] = e
	}
	e.waiters++
	return e
}

func (k *KeyedMutex) leave(key string, e *entry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.waiters--
	if e.waiters == 0 {
		delete(k.entries, key)
	}
}

// Len reports how many keys currently have holders or waiters.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
