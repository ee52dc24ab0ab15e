package orch

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Lecture/internal/app/roomstate"
	"github.com/dkeye/Lecture/internal/core"
	"github.com/dkeye/Lecture/internal/domain"
)

// RequestJoin handles a user's knock on the room door. It upserts the
// participant entry, auto-promotes the designated admin when no admin
// is online, and otherwise routes the request to the live admin.
func (o *Orchestrator) RequestJoin(ctx context.Context, conn core.ConnID, room domain.RoomCode, user domain.User) {
	roster, err := o.Roster.GetRoster(ctx, room)
	if err != nil {
		o.emitJoinFailure(conn, room, err)
		return
	}

	// Rejected is terminal: deny before touching the roster.
	if p := roster.Find(user.ID); p != nil && p.Status == domain.StatusRejected {
		o.Emitter.ToConn(conn, core.EvRejectedToJoin, struct{}{})
		return
	}

	status, roster, err := o.Roster.ProcessJoinRequest(ctx, room, user)
	if err != nil {
		o.emitJoinFailure(conn, room, err)
		return
	}
	if status == domain.StatusRejected {
		o.Emitter.ToConn(conn, core.EvRejectedToJoin, struct{}{})
		return
	}

	// Remember who is knocking so the admin's decision can reach this
	// connection later.
	if err := o.Registry.UpdateMeta(ctx, conn, room, user.ID, user.Username); err != nil {
		o.emitJoinFailure(conn, room, err)
		return
	}

	adminConn, adminOnline := o.isAdminOnline(ctx, room)

	if user.ID == roster.AdminUserID && !adminOnline {
		o.promoteAdmin(ctx, conn, room, user, roster)
		return
	}

	if status == domain.StatusApproved {
		o.Emitter.ToConn(conn, core.EvApprovedToJoin, struct{}{})
		return
	}

	if adminOnline {
		o.Emitter.ToConn(adminConn, core.EvApproveRequest, userPayload{UserID: user.ID, Username: user.Username})
	}
	o.Emitter.ToConn(conn, core.EvWaitingApproval, struct{}{})
}

func (o *Orchestrator) promoteAdmin(ctx context.Context, conn core.ConnID, room domain.RoomCode, user domain.User, roster *domain.Roster) {
	if _, err := o.Roster.SetUserStatus(ctx, room, user.ID, domain.StatusApproved); err != nil {
		o.emitJoinFailure(conn, room, err)
		return
	}
	roster, err := o.Roster.SetAdminOnline(ctx, room, true)
	if err != nil {
		o.emitJoinFailure(conn, room, err)
		return
	}
	if err := o.Rooms.SetAdmin(ctx, room, conn); err != nil {
		o.emitJoinFailure(conn, room, err)
		return
	}

	log.Info().Str("module", "orch").Str("room", string(room)).Str("user", string(user.ID)).Msg("designated admin promoted")
	o.Emitter.ToConn(conn, core.EvYouAreAdmin, struct{}{})
	o.Emitter.ToConn(conn, core.EvApprovedToJoin, struct{}{})
	o.Emitter.ToConn(conn, core.EvPendingUsers, usersPayload{Users: roster.ByStatus(domain.StatusPending)})
}

// Join attaches the connection to the room after admission. The whole
// sequence runs under the per-user key lock to serialize duplicate-tab
// races; only one active session per (room, user) survives.
func (o *Orchestrator) Join(ctx context.Context, conn core.ConnID, room domain.RoomCode, user domain.User) {
	err := o.Locks.WithLock(ctx, userLockKey(room, user.ID), o.joinTimeout(), func(ctx context.Context) error {
		return o.joinLocked(ctx, conn, room, user)
	})
	if err != nil {
		o.emitJoinFailure(conn, room, err)
	}
}

func (o *Orchestrator) joinLocked(ctx context.Context, conn core.ConnID, room domain.RoomCode, user domain.User) error {
	roster, err := o.Roster.GetRoster(ctx, room)
	if err != nil {
		return err
	}

	p := roster.Find(user.ID)
	switch {
	case p == nil:
		o.Emitter.ToConn(conn, core.EvJoinError, errorPayload{Message: "join was not requested"})
		return nil
	case p.Status == domain.StatusPending:
		o.Emitter.ToConn(conn, core.EvWaitingApproval, struct{}{})
		return nil
	case p.Status == domain.StatusRejected:
		o.Emitter.ToConn(conn, core.EvRejectedToJoin, struct{}{})
		return nil
	case p.Status == domain.StatusLeft:
		o.Emitter.ToConn(conn, core.EvJoinError, errorPayload{Message: "request to join again"})
		return nil
	case p.Status != domain.StatusApproved:
		o.Emitter.ToConn(conn, core.EvJoinError, errorPayload{Message: "cannot join"})
		return nil
	}

	// Single active session: an older connection of the same user in
	// the same room is torn down first.
	if prev, ok := o.Registry.FindByRoomAndUser(room, user.ID, o.Emitter.IsLive); ok && prev.ID != conn {
		log.Info().Str("module", "orch").Str("room", string(room)).Str("user", string(user.ID)).
			Str("old_conn", string(prev.ID)).Msg("replacing existing session")
		o.Emitter.Disconnect(prev.ID)
		o.cleanupMedia(ctx, prev)
		if err := o.Registry.Remove(ctx, prev.ID); err != nil {
			log.Error().Err(err).Str("module", "orch").Msg("remove replaced session")
		}
	}

	if err := o.Registry.UpdateMeta(ctx, conn, room, user.ID, user.Username); err != nil {
		return err
	}

	// Designated admin gets the chair back on every join.
	if user.ID == roster.AdminUserID {
		if err := o.Rooms.SetAdmin(ctx, room, conn); err != nil {
			o.rollbackJoin(ctx, conn)
			return err
		}
		if _, err := o.Roster.SetAdminOnline(ctx, room, true); err != nil {
			o.rollbackJoin(ctx, conn)
			return err
		}
		o.Emitter.ToConn(conn, core.EvYouAreAdmin, struct{}{})
	}

	o.broadcastRoster(room, roster)
	o.Emitter.ToRoomExcept(room, conn, core.EvNewUser, userPayload{UserID: user.ID, Username: user.Username})
	o.SyncProducers(ctx, conn)
	log.Info().Str("module", "orch").Str("room", string(room)).Str("user", string(user.ID)).Str("conn", string(conn)).Msg("joined room")
	return nil
}

// rollbackJoin undoes partial join effects before surfacing the error.
func (o *Orchestrator) rollbackJoin(ctx context.Context, conn core.ConnID) {
	if err := o.Registry.Remove(ctx, conn); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("conn", string(conn)).Msg("join rollback failed")
	}
}

func (o *Orchestrator) emitJoinFailure(conn core.ConnID, room domain.RoomCode, err error) {
	log.Error().Err(err).Str("module", "orch").Str("room", string(room)).Str("conn", string(conn)).Msg("join path failed")
	switch {
	case errors.Is(err, roomstate.ErrNotFound):
		o.Emitter.ToConn(conn, core.EvJoinError, errorPayload{Message: "room not found"})
	case errors.Is(err, roomstate.ErrConflict):
		// Concurrency conflict exhausted its retries; the client can
		// simply try again.
		o.Emitter.ToConn(conn, core.EvJoinError, errorPayload{Message: "room is busy, retry"})
	default:
		o.Emitter.ToConn(conn, core.EvJoinError, errorPayload{Message: "failed to join"})
	}
}
