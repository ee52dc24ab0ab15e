package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Lecture/internal/app/lock"
	"github.com/dkeye/Lecture/internal/app/media"
	"github.com/dkeye/Lecture/internal/core"
	"github.com/dkeye/Lecture/internal/domain"
)

// ConnState is the ephemeral per-connection record. The Registry is its
// sole writer; every mutation runs under the connection's key lock.
type ConnState struct {
	ID       core.ConnID
	RoomCode domain.RoomCode
	UserID   domain.UserID
	Username string

	SendTransport media.Transport
	RecvTransport media.Transport
	ProducerIDs   []string
	ConsumerIDs   []string

	TransportConnected bool
	RecvConnected      bool
}

func (s *ConnState) snapshot() ConnState {
	cp := *s
	cp.ProducerIDs = append([]string(nil), s.ProducerIDs...)
	cp.ConsumerIDs = append([]string(nil), s.ConsumerIDs...)
	return cp
}

type Registry struct {
	locks   *lock.KeyedMutex
	timeout time.Duration

	mu    sync.RWMutex
	conns map[core.ConnID]*ConnState
}

func NewRegistry(locks *lock.KeyedMutex, timeout time.Duration) *Registry {
	return &Registry{
		locks:   locks,
		timeout: timeout,
		conns:   make(map[core.ConnID]*ConnState),
	}
}

func connKey(id core.ConnID) string { return "conn:" + string(id) }

// Get returns a copy of the record. Unknown id is not an error.
func (r *Registry) Get(id core.ConnID) (ConnState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.conns[id]
	if !ok {
		return ConnState{}, false
	}
	return st.snapshot(), true
}

// Set runs mutate against the record under the connection's key lock,
// creating the record if absent. Mutations are merge-preserving by
// construction: the closure edits the live record in place.
func (r *Registry) Set(ctx context.Context, id core.ConnID, mutate func(*ConnState)) error {
	return r.locks.WithLock(ctx, connKey(id), r.timeout, func(context.Context) error {
		r.mu.Lock()
		st, ok := r.conns[id]
		if !ok {
			st = &ConnState{ID: id}
			r.conns[id] = st
			log.Debug().Str("module", "app.registry").Str("conn", string(id)).Msg("created connection record")
		}
		mutate(st)
		r.mu.Unlock()
		return nil
	})
}

// UpdateMeta is Set restricted to identity fields.
func (r *Registry) UpdateMeta(ctx context.Context, id core.ConnID, room domain.RoomCode, user domain.UserID, username string) error {
	return r.Set(ctx, id, func(st *ConnState) {
		st.RoomCode = room
		st.UserID = user
		st.Username = username
	})
}

// Remove deletes the record. Removing an unknown id is a no-op.
func (r *Registry) Remove(ctx context.Context, id core.ConnID) error {
	return r.locks.WithLock(ctx, connKey(id), r.timeout, func(context.Context) error {
		r.mu.Lock()
		delete(r.conns, id)
		r.mu.Unlock()
		log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("removed connection record")
		return nil
	})
}

// FindByRoomAndUser scans for the connection of (room, user),
// cross-checking isLive. Records whose connection is gone are evicted
// on the way so the map does not accumulate dead rows.
func (r *Registry) FindByRoomAndUser(room domain.RoomCode, user domain.UserID, isLive func(core.ConnID) bool) (ConnState, bool) {
	r.mu.RLock()
	var found *ConnState
	var stale []core.ConnID
	for id, st := range r.conns {
		if st.RoomCode != room || st.UserID != user {
			continue
		}
		if isLive != nil && !isLive(id) {
			stale = append(stale, id)
			continue
		}
		found = st
	}
	var out ConnState
	if found != nil {
		out = found.snapshot()
	}
	r.mu.RUnlock()

	if len(stale) > 0 {
		r.mu.Lock()
		for _, id := range stale {
			delete(r.conns, id)
			log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("evicted stale connection record")
		}
		r.mu.Unlock()
	}
	return out, found != nil
}

// ListByRoom returns copies of all records bound to the room.
func (r *Registry) ListByRoom(room domain.RoomCode) []ConnState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ConnState, 0, len(r.conns))
	for _, st := range r.conns {
		if st.RoomCode == room {
			out = append(out, st.snapshot())
		}
	}
	return out
}
