package roomstate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Lecture/internal/app/lock"
)

func TestEphemeralLazyInit(t *testing.T) {
	e := NewEphemeral(lock.New(), time.Second)
	ctx := context.Background()

	rt, err := e.Snapshot(ctx, "ROOM1")
	require.NoError(t, err)
	assert.Empty(t, rt.AdminConn)
	assert.False(t, rt.Recording)

	require.NoError(t, e.SetAdmin(ctx, "ROOM1", "c1"))
	require.NoError(t, e.SetRecording(ctx, "ROOM1", true))

	rt, err = e.Snapshot(ctx, "ROOM1")
	require.NoError(t, err)
	assert.Equal(t, "c1", string(rt.AdminConn))
	assert.True(t, rt.Recording)

	require.NoError(t, e.ClearAdmin(ctx, "ROOM1"))
	rt, _ = e.Snapshot(ctx, "ROOM1")
	assert.Empty(t, rt.AdminConn)
}

func TestEphemeralConcurrentInitSingleState(t *testing.T) {
	e := NewEphemeral(lock.New(), time.Second)
	ctx := context.Background()

	wg := sync.WaitGroup{}
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.WithRoom(ctx, "ROOM1", func(rt *Realtime) error {
				rt.Captions.Generation++
				return nil
			})
		}()
	}
	wg.Wait()

	rt, err := e.Snapshot(ctx, "ROOM1")
	require.NoError(t, err)
	assert.Equal(t, int64(16), rt.Captions.Generation, "all writers hit the same state")
}

func TestEphemeralEvict(t *testing.T) {
	e := NewEphemeral(lock.New(), time.Second)
	ctx := context.Background()

	require.NoError(t, e.SetRecording(ctx, "ROOM1", true))
	require.NoError(t, e.Evict(ctx, "ROOM1"))

	rt, err := e.Snapshot(ctx, "ROOM1")
	require.NoError(t, err)
	assert.False(t, rt.Recording, "evicted room reinitializes clean")
}
