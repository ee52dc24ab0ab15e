package orch

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Lecture/internal/core"
	"github.com/dkeye/Lecture/internal/domain"
)

// Leave tears a connection down: durable status flips Approved->Left,
// peers are notified, admin assignment is released if the leaver held
// it, and media resources are cleaned up. Every step is best-effort
// because a disconnect must always complete, so nothing here re-throws.
func (o *Orchestrator) Leave(ctx context.Context, conn core.ConnID) {
	st, ok := o.Registry.Get(conn)
	if !ok {
		return
	}
	room := st.RoomCode

	o.cleanupMedia(ctx, st)

	if room == "" {
		if err := o.Registry.Remove(ctx, conn); err != nil {
			log.Error().Err(err).Str("module", "orch").Str("conn", string(conn)).Msg("remove on leave")
		}
		return
	}

	roster, err := o.Roster.SetUserStatus(ctx, room, st.UserID, domain.StatusLeft)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("room", string(room)).Str("user", string(st.UserID)).Msg("mark left")
	}

	o.Emitter.ToRoomExcept(room, conn, core.EvUserLeft, userPayload{UserID: st.UserID, Username: st.Username})

	rt, rtErr := o.Rooms.Snapshot(ctx, room)
	if rtErr == nil && rt.AdminConn == conn {
		if err := o.Rooms.ClearAdmin(ctx, room); err != nil {
			log.Error().Err(err).Str("module", "orch").Str("room", string(room)).Msg("clear admin")
		}
		if _, err := o.Roster.SetAdminOnline(ctx, room, false); err != nil {
			log.Error().Err(err).Str("module", "orch").Str("room", string(room)).Msg("mark admin offline")
		}
	}

	if err := o.Registry.Remove(ctx, conn); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("conn", string(conn)).Msg("remove on leave")
	}

	if roster != nil {
		o.broadcastRoster(room, roster)
	}
	log.Info().Str("module", "orch").Str("room", string(room)).Str("user", string(st.UserID)).Str("conn", string(conn)).Msg("left room")
}

// OnDisconnect is the signal adapter's hook for a dropped socket.
func (o *Orchestrator) OnDisconnect(ctx context.Context, conn core.ConnID) {
	o.Leave(ctx, conn)
}
