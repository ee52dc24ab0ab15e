package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Lecture/internal/app/lock"
	"github.com/dkeye/Lecture/internal/core"
)

func newTestRegistry() *Registry {
	return NewRegistry(lock.New(), time.Second)
}

func TestRegistrySetMergePreserving(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	require.NoError(t, r.UpdateMeta(ctx, "c1", "room1", "u1", "alice"))
	require.NoError(t, r.Set(ctx, "c1", func(st *ConnState) {
		st.ProducerIDs = append(st.ProducerIDs, "p1")
	}))
	require.NoError(t, r.Set(ctx, "c1", func(st *ConnState) {
		st.TransportConnected = true
	}))

	st, ok := r.Get("c1")
	require.True(t, ok)
	assert.Equal(t, "alice", st.Username, "earlier fields survive later partial updates")
	assert.Equal(t, []string{"p1"}, st.ProducerIDs)
	assert.True(t, st.TransportConnected)
}

func TestRegistryUnknownID(t *testing.T) {
	r := newTestRegistry()

	_, ok := r.Get("nope")
	assert.False(t, ok)
	assert.Empty(t, r.ListByRoom("room1"))
	assert.NoError(t, r.Remove(context.Background(), "nope"))
}

func TestRegistrySnapshotIsolation(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	require.NoError(t, r.Set(ctx, "c1", func(st *ConnState) {
		st.ProducerIDs = []string{"p1"}
	}))

	st, _ := r.Get("c1")
	st.ProducerIDs[0] = "mutated"

	again, _ := r.Get("c1")
	assert.Equal(t, "p1", again.ProducerIDs[0])
}

func TestRegistryFindByRoomAndUser(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	require.NoError(t, r.UpdateMeta(ctx, "c1", "room1", "u1", "alice"))
	require.NoError(t, r.UpdateMeta(ctx, "c2", "room1", "u2", "bob"))
	require.NoError(t, r.UpdateMeta(ctx, "c3", "room2", "u1", "alice"))

	t.Run("finds live connection", func(t *testing.T) {
		st, ok := r.FindByRoomAndUser("room1", "u1", func(core.ConnID) bool { return true })
		require.True(t, ok)
		assert.Equal(t, core.ConnID("c1"), st.ID)
	})

	t.Run("evicts stale records", func(t *testing.T) {
		_, ok := r.FindByRoomAndUser("room1", "u2", func(core.ConnID) bool { return false })
		assert.False(t, ok)
		_, ok = r.Get("c2")
		assert.False(t, ok, "dead row should be evicted")
	})

	t.Run("room scoping", func(t *testing.T) {
		st, ok := r.FindByRoomAndUser("room2", "u1", nil)
		require.True(t, ok)
		assert.Equal(t, core.ConnID("c3"), st.ID)
	})
}

func TestRegistryListByRoom(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	require.NoError(t, r.UpdateMeta(ctx, "c1", "room1", "u1", "alice"))
	require.NoError(t, r.UpdateMeta(ctx, "c2", "room1", "u2", "bob"))
	require.NoError(t, r.UpdateMeta(ctx, "c3", "room2", "u3", "carol"))

	assert.Len(t, r.ListByRoom("room1"), 2)
	assert.Len(t, r.ListByRoom("room2"), 1)
	assert.Empty(t, r.ListByRoom("room3"))
}
