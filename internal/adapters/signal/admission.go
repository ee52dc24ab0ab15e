package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Lecture/internal/app/orch"
	"github.com/dkeye/Lecture/internal/core"
	"github.com/dkeye/Lecture/internal/domain"
)

type joinPayload struct {
	Room string `json:"room"`
	Name string `json:"name,omitempty"`
}

func (ctl *SignalWSController) identity(c *WsSignalConn, name string) domain.User {
	if name == "" {
		name = "guest"
	}
	if len(name) > domain.MaxUsernameLen {
		name = name[:domain.MaxUsernameLen]
	}
	return domain.User{ID: c.userID, Username: name}
}

func (ctl *SignalWSController) handleRequestJoin(ctx context.Context, id core.ConnID, c *WsSignalConn, data []byte) {
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Room == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad request-join payload")
		ctl.sendError(c, "bad_payload")
		return
	}
	if ctl.limiter != nil && !ctl.limiter.Allow(c.userID) {
		log.Warn().Str("module", "signal").Str("user", string(c.userID)).Msg("request-join rate limited")
		ctl.sendError(c, "too_many_requests")
		return
	}

	user := ctl.identity(c, p.Name)
	log.Info().Str("module", "signal").Str("conn", string(id)).Str("room", p.Room).Str("user", string(user.ID)).Msg("request-join")
	ctl.Orch.RequestJoin(ctx, id, domain.RoomCode(p.Room), user)
}

func (ctl *SignalWSController) handleJoin(ctx context.Context, id core.ConnID, c *WsSignalConn, data []byte) {
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Room == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendError(c, "bad_payload")
		return
	}

	user := ctl.identity(c, p.Name)
	log.Info().Str("module", "signal").Str("conn", string(id)).Str("room", p.Room).Str("user", string(user.ID)).Msg("join")
	ctl.Orch.Join(ctx, id, domain.RoomCode(p.Room), user)
}

// handleLeave exits the current room; the socket itself stays open.
func (ctl *SignalWSController) handleLeave(ctx context.Context, id core.ConnID, c *WsSignalConn) {
	log.Info().Str("module", "signal").Str("conn", string(id)).Msg("leave")
	ctl.Orch.Leave(ctx, id)
	ctl.sendEvent(c, "left", nil)
}

type decisionPayload struct {
	Room   string `json:"room"`
	UserID string `json:"userId"`
}

// handleDecision covers approve-user / reject-user / kick: same shape,
// different orchestrator call.
func (ctl *SignalWSController) handleDecision(ctx context.Context, id core.ConnID, c *WsSignalConn, data []byte, apply func(context.Context, core.ConnID, domain.RoomCode, domain.UserID) error) {
	var p decisionPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Room == "" || p.UserID == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad decision payload")
		ctl.sendError(c, "bad_payload")
		return
	}
	if err := apply(ctx, id, domain.RoomCode(p.Room), domain.UserID(p.UserID)); err != nil {
		if errors.Is(err, orch.ErrNotAdmin) {
			ctl.sendError(c, "not_admin")
			return
		}
		log.Error().Err(err).Str("module", "signal").Str("room", p.Room).Msg("admin decision failed")
		ctl.sendError(c, "retry")
	}
}

func (ctl *SignalWSController) handlePendingUsers(ctx context.Context, id core.ConnID, c *WsSignalConn, data []byte) {
	var p struct {
		Room string `json:"room"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.Room == "" {
		ctl.sendError(c, "bad_payload")
		return
	}
	if err := ctl.Orch.PendingUsers(ctx, id, domain.RoomCode(p.Room)); err != nil {
		if errors.Is(err, orch.ErrNotAdmin) {
			ctl.sendError(c, "not_admin")
			return
		}
		log.Error().Err(err).Str("module", "signal").Str("room", p.Room).Msg("pending users failed")
		ctl.sendError(c, "retry")
	}
}
