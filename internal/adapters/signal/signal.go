// Package signal is the websocket signaling adapter. It owns the
// sockets, maps inbound events onto the orchestrator, and implements
// the event emitter everything above it fans out through.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Lecture/internal/app/orch"
	"github.com/dkeye/Lecture/internal/core"
	"github.com/dkeye/Lecture/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

type SignalWSController struct {
	Orch        *orch.Orchestrator
	limiter     *JoinRateLimiter
	announcedIP string
	targetLang  string

	mu    sync.RWMutex
	conns map[core.ConnID]*WsSignalConn
}

func NewSignalWSController(o *orch.Orchestrator, limiter *JoinRateLimiter, announcedIP, targetLang string) *SignalWSController {
	return &SignalWSController{
		Orch:        o,
		limiter:     limiter,
		announcedIP: announcedIP,
		targetLang:  targetLang,
		conns:       make(map[core.ConnID]*WsSignalConn),
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	// Identity supplied by the guard at upgrade time.
	userID domain.UserID

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	uid := domain.UserID(c.GetString("client_token"))
	connID := core.ConnID(uuid.NewString())
	log.Info().Str("module", "signal").Str("conn", string(connID)).Str("user", string(uid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		conn:   ws,
		send:   make(chan core.Frame, 32),
		userID: uid,
	}

	ctl.mu.Lock()
	ctl.conns[connID] = conn
	ctl.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, connID, conn)

	ctl.ToConn(connID, core.EvLogAnnouncedIP, map[string]string{"ip": ctl.announcedIP})
}

// Emitter implementation. The registry's room index drives fanout.

func (ctl *SignalWSController) ToConn(id core.ConnID, event string, v any) {
	ctl.mu.RLock()
	conn, ok := ctl.conns[id]
	ctl.mu.RUnlock()
	if !ok {
		return
	}
	ctl.sendEvent(conn, event, v)
}

func (ctl *SignalWSController) ToRoom(room domain.RoomCode, event string, v any) {
	for _, st := range ctl.Orch.Registry.ListByRoom(room) {
		ctl.ToConn(st.ID, event, v)
	}
}

func (ctl *SignalWSController) ToRoomExcept(room domain.RoomCode, except core.ConnID, event string, v any) {
	for _, st := range ctl.Orch.Registry.ListByRoom(room) {
		if st.ID == except {
			continue
		}
		ctl.ToConn(st.ID, event, v)
	}
}

func (ctl *SignalWSController) IsLive(id core.ConnID) bool {
	ctl.mu.RLock()
	conn, ok := ctl.conns[id]
	ctl.mu.RUnlock()
	if !ok {
		return false
	}
	conn.mu.RLock()
	defer conn.mu.RUnlock()
	return !conn.closed
}

func (ctl *SignalWSController) Disconnect(id core.ConnID) {
	ctl.mu.RLock()
	conn, ok := ctl.conns[id]
	ctl.mu.RUnlock()
	if ok {
		conn.Close()
	}
}

func (ctl *SignalWSController) drop(id core.ConnID) {
	ctl.mu.Lock()
	delete(ctl.conns, id)
	ctl.mu.Unlock()
}
