// Package roomstate holds the two tiers of room state: an in-process
// ephemeral cache (admin connection, recording flag, caption state) and
// the durable shared roster in the external cache store.
package roomstate

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Lecture/internal/app/lock"
	"github.com/dkeye/Lecture/internal/core"
	"github.com/dkeye/Lecture/internal/domain"
)

// CaptionState is the live-caption buffering state of a room. Guarded
// by the room's key lock together with the rest of Realtime.
type CaptionState struct {
	Buffer     string
	TargetLang string
	// Generation increments whenever a new auto-clear timer is
	// scheduled; only the timer stamped with the current value may
	// act. This is the guard against timers that could not be
	// cancelled in time.
	Generation    int64
	FinalizeTimer *time.Timer
	ClearTimer    *time.Timer
}

// Realtime is per-room ephemeral state. Never persisted; safely
// discardable on restart.
type Realtime struct {
	AdminConn core.ConnID
	Recording bool
	Captions  CaptionState
}

type Ephemeral struct {
	locks   *lock.KeyedMutex
	timeout time.Duration

	mu    sync.RWMutex
	rooms map[domain.RoomCode]*Realtime
}

func NewEphemeral(locks *lock.KeyedMutex, timeout time.Duration) *Ephemeral {
	return &Ephemeral{
		locks:   locks,
		timeout: timeout,
		rooms:   make(map[domain.RoomCode]*Realtime),
	}
}

func roomKey(code domain.RoomCode) string { return "room:" + string(code) }

// WithRoom runs fn with the room's state under the room key lock,
// lazily initializing it. All ephemeral reads-then-writes go through
// here, including the caption pipeline's.
func (e *Ephemeral) WithRoom(ctx context.Context, code domain.RoomCode, fn func(rt *Realtime) error) error {
	return e.locks.WithLock(ctx, roomKey(code), e.timeout, func(context.Context) error {
		rt := e.getOrInit(code)
		return fn(rt)
	})
}

// getOrInit is double-checked: the fast path takes only the read lock.
func (e *Ephemeral) getOrInit(code domain.RoomCode) *Realtime {
	e.mu.RLock()
	rt, ok := e.rooms[code]
	e.mu.RUnlock()
	if ok {
		return rt
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if rt, ok = e.rooms[code]; ok {
		return rt
	}
	rt = &Realtime{}
	e.rooms[code] = rt
	log.Debug().Str("module", "roomstate").Str("room", string(code)).Msg("initialized room realtime state")
	return rt
}

// Snapshot returns a copy of the room's realtime state (timer handles
// excluded from any use; callers treat them as opaque).
func (e *Ephemeral) Snapshot(ctx context.Context, code domain.RoomCode) (Realtime, error) {
	var out Realtime
	err := e.WithRoom(ctx, code, func(rt *Realtime) error {
		out = *rt
		return nil
	})
	return out, err
}

func (e *Ephemeral) SetAdmin(ctx context.Context, code domain.RoomCode, conn core.ConnID) error {
	return e.WithRoom(ctx, code, func(rt *Realtime) error {
		rt.AdminConn = conn
		return nil
	})
}

func (e *Ephemeral) ClearAdmin(ctx context.Context, code domain.RoomCode) error {
	return e.WithRoom(ctx, code, func(rt *Realtime) error {
		rt.AdminConn = ""
		return nil
	})
}

func (e *Ephemeral) SetRecording(ctx context.Context, code domain.RoomCode, on bool) error {
	return e.WithRoom(ctx, code, func(rt *Realtime) error {
		rt.Recording = on
		return nil
	})
}

// Evict drops a room's ephemeral state, stopping any pending caption
// timers first.
func (e *Ephemeral) Evict(ctx context.Context, code domain.RoomCode) error {
	err := e.WithRoom(ctx, code, func(rt *Realtime) error {
		if rt.Captions.FinalizeTimer != nil {
			rt.Captions.FinalizeTimer.Stop()
		}
		if rt.Captions.ClearTimer != nil {
			rt.Captions.ClearTimer.Stop()
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.rooms, code)
	e.mu.Unlock()
	return nil
}
