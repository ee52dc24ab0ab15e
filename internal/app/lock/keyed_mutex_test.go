package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutexExclusion(t *testing.T) {
	km := New()
	ctx := context.Background()

	var inside, maxInside int32
	wg := sync.WaitGroup{}
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := km.WithLock(ctx, "room1", 0, func(context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					old := atomic.LoadInt32(&maxInside)
					if n <= old || atomic.CompareAndSwapInt32(&maxInside, old, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInside))
	assert.Equal(t, 0, km.Len(), "entries should be dropped once idle")
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	km := New()
	ctx := context.Background()

	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = km.WithLock(ctx, "a", 0, func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	// A different key must not block behind "a".
	done := make(chan struct{})
	go func() {
		_ = km.WithLock(ctx, "b", 0, func(context.Context) error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("different-key operation blocked")
	}
	close(release)
}

func TestKeyedMutexTimeout(t *testing.T) {
	km := New()
	ctx := context.Background()

	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = km.WithLock(ctx, "k", 0, func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	err := km.WithLock(ctx, "k", 20*time.Millisecond, func(context.Context) error {
		t.Fatal("operation must not run after timeout")
		return nil
	})
	require.ErrorIs(t, err, ErrTimeout)
	close(release)

	// The key must be usable again after the holder releases.
	require.NoError(t, km.WithLock(ctx, "k", time.Second, func(context.Context) error { return nil }))
	assert.Equal(t, 0, km.Len())
}

func TestKeyedMutexReleasedOnError(t *testing.T) {
	km := New()
	ctx := context.Background()

	wantErr := assert.AnError
	err := km.WithLock(ctx, "k", 0, func(context.Context) error { return wantErr })
	require.ErrorIs(t, err, wantErr)

	// Entry removed even though the operation failed.
	assert.Equal(t, 0, km.Len())
	require.NoError(t, km.WithLock(ctx, "k", time.Second, func(context.Context) error { return nil }))
}

func TestKeyedMutexQueueOrder(t *testing.T) {
	km := New()
	ctx := context.Background()

	var order []int
	var mu sync.Mutex

	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = km.WithLock(ctx, "k", 0, func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	wg := sync.WaitGroup{}
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = km.WithLock(ctx, "k", 0, func(context.Context) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}(i)
		// Give each waiter time to enqueue before the next arrives.
		time.Sleep(10 * time.Millisecond)
	}

	close(release)
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}
