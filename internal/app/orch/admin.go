package orch

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Lecture/internal/core"
	"github.com/dkeye/Lecture/internal/domain"
)

// requireAdmin verifies the caller holds the room's admin connection.
func (o *Orchestrator) requireAdmin(ctx context.Context, conn core.ConnID, room domain.RoomCode) error {
	rt, err := o.Rooms.Snapshot(ctx, room)
	if err != nil {
		return err
	}
	if rt.AdminConn == "" || rt.AdminConn != conn {
		return fmt.Errorf("%w: room %s", ErrNotAdmin, room)
	}
	return nil
}

// Approve moves the target to Approved and tells them to come in.
func (o *Orchestrator) Approve(ctx context.Context, caller core.ConnID, room domain.RoomCode, target domain.UserID) error {
	if err := o.requireAdmin(ctx, caller, room); err != nil {
		return err
	}
	if _, err := o.Roster.SetUserStatus(ctx, room, target, domain.StatusApproved); err != nil {
		return err
	}
	if st, ok := o.Registry.FindByRoomAndUser(room, target, o.Emitter.IsLive); ok {
		o.Emitter.ToConn(st.ID, core.EvApprovedToJoin, struct{}{})
	}
	log.Info().Str("module", "orch").Str("room", string(room)).Str("user", string(target)).Msg("user approved")
	return nil
}

// Reject marks the target Rejected. The state is terminal: no join path
// ever leaves it.
func (o *Orchestrator) Reject(ctx context.Context, caller core.ConnID, room domain.RoomCode, target domain.UserID) error {
	if err := o.requireAdmin(ctx, caller, room); err != nil {
		return err
	}
	if _, err := o.Roster.SetUserStatus(ctx, room, target, domain.StatusRejected); err != nil {
		return err
	}
	if st, ok := o.Registry.FindByRoomAndUser(room, target, o.Emitter.IsLive); ok {
		o.Emitter.ToConn(st.ID, core.EvRejectedToJoin, struct{}{})
	}
	log.Info().Str("module", "orch").Str("room", string(room)).Str("user", string(target)).Msg("user rejected")
	return nil
}

// Kick throws an approved user out and severs their connection. The
// disconnect triggers the usual leave cleanup.
func (o *Orchestrator) Kick(ctx context.Context, caller core.ConnID, room domain.RoomCode, target domain.UserID) error {
	if err := o.requireAdmin(ctx, caller, room); err != nil {
		return err
	}
	st, ok := o.Registry.FindByRoomAndUser(room, target, o.Emitter.IsLive)
	if !ok {
		return nil
	}
	o.Emitter.ToConn(st.ID, core.EvKicked, struct{}{})
	o.Emitter.Disconnect(st.ID)
	log.Info().Str("module", "orch").Str("room", string(room)).Str("user", string(target)).Msg("user kicked")
	return nil
}

// PendingUsers sends the admin the current waiting list.
func (o *Orchestrator) PendingUsers(ctx context.Context, caller core.ConnID, room domain.RoomCode) error {
	if err := o.requireAdmin(ctx, caller, room); err != nil {
		return err
	}
	roster, err := o.Roster.GetRoster(ctx, room)
	if err != nil {
		return err
	}
	o.Emitter.ToConn(caller, core.EvPendingUsers, usersPayload{Users: roster.ByStatus(domain.StatusPending)})
	return nil
}
