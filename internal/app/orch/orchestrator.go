// Package orch is the top-level admission state machine. It composes
// the registry, both room state tiers, the media engine and the caption
// pipeline, and turns inbound signaling events into state transitions
// plus outbound events.
package orch

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Lecture/internal/app"
	"github.com/dkeye/Lecture/internal/app/captions"
	"github.com/dkeye/Lecture/internal/app/lock"
	"github.com/dkeye/Lecture/internal/app/media"
	"github.com/dkeye/Lecture/internal/app/roomstate"
	"github.com/dkeye/Lecture/internal/core"
	"github.com/dkeye/Lecture/internal/domain"
)

var (
	// ErrNotAdmin is the precondition rejection for admin-only calls.
	ErrNotAdmin = errors.New("caller is not the room admin")
	// ErrNotApproved means the user tried to attach media without an
	// approved admission.
	ErrNotApproved = errors.New("user is not approved for the room")
)

const (
	// DefaultJoinLockTimeout bounds how long a duplicate-tab join may
	// wait behind the same user's in-flight join.
	DefaultJoinLockTimeout = 30 * time.Second
	// DefaultSyncStagger spaces out new-producer notices during a
	// producer sync so clients are not flooded.
	DefaultSyncStagger = 300 * time.Millisecond
)

type Orchestrator struct {
	Registry *app.Registry
	Rooms    *roomstate.Ephemeral
	Roster   *roomstate.RosterStore
	Engine   media.Engine
	Captions *captions.Pipeline
	Emitter  core.Emitter
	Locks    *lock.KeyedMutex

	JoinLockTimeout time.Duration
	SyncStagger     time.Duration
}

func (o *Orchestrator) joinTimeout() time.Duration {
	if o.JoinLockTimeout > 0 {
		return o.JoinLockTimeout
	}
	return DefaultJoinLockTimeout
}

func (o *Orchestrator) syncStagger() time.Duration {
	if o.SyncStagger > 0 {
		return o.SyncStagger
	}
	return DefaultSyncStagger
}

func userLockKey(room domain.RoomCode, uid domain.UserID) string {
	return "user:" + string(room) + ":" + string(uid)
}

// Outbound payloads.

type errorPayload struct {
	Message string `json:"message"`
}

type userPayload struct {
	UserID   domain.UserID `json:"userId"`
	Username string        `json:"username"`
}

type usersPayload struct {
	Users []domain.Participant `json:"users"`
}

type producerPayload struct {
	ProducerID string        `json:"producerId"`
	UserID     domain.UserID `json:"userId"`
	Kind       media.Kind    `json:"kind"`
}

// isAdminOnline reports whether the room currently has a live admin
// connection. The durable admin-online flag can go stale after a
// process restart, so liveness of the recorded connection is the
// authority.
func (o *Orchestrator) isAdminOnline(ctx context.Context, room domain.RoomCode) (core.ConnID, bool) {
	rt, err := o.Rooms.Snapshot(ctx, room)
	if err != nil || rt.AdminConn == "" {
		return "", false
	}
	if !o.Emitter.IsLive(rt.AdminConn) {
		return "", false
	}
	return rt.AdminConn, true
}

// broadcastRoster sends the approved participant list to everyone in
// the room.
func (o *Orchestrator) broadcastRoster(room domain.RoomCode, roster *domain.Roster) {
	o.Emitter.ToRoom(room, core.EvUsersInRoom, usersPayload{Users: roster.ByStatus(domain.StatusApproved)})
}
