package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Lecture/internal/core"
)

// envelope is the wire shape in both directions.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type outEnvelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, id core.ConnID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(id)).Msg("readPump closing")
		cancel()
		c.Close()
		ctl.drop(id)
		// Disconnect must always complete; the orchestrator swallows
		// its own cleanup errors.
		ctl.Orch.OnDisconnect(context.Background(), id)
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("conn", string(id)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Error().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("readPump read error")
				return
			}
			ctl.handleSignal(ctx, id, c, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, id core.ConnID, c *WsSignalConn, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch env.Type {
	case "ping":
		ctl.handlePing(c)
	case "request-join":
		ctl.handleRequestJoin(ctx, id, c, env.Data)
	case "join":
		ctl.handleJoin(ctx, id, c, env.Data)
	case "approve-user":
		ctl.handleDecision(ctx, id, c, env.Data, ctl.Orch.Approve)
	case "reject-user":
		ctl.handleDecision(ctx, id, c, env.Data, ctl.Orch.Reject)
	case "kick":
		ctl.handleDecision(ctx, id, c, env.Data, ctl.Orch.Kick)
	case "get-pending-users":
		ctl.handlePendingUsers(ctx, id, c, env.Data)
	case "leave":
		ctl.handleLeave(ctx, id, c)
	case "get-rtp-capabilities":
		ctl.handleRtpCapabilities(c)
	case "create-transport":
		ctl.handleCreateTransport(ctx, id, c)
	case "connect-transport":
		ctl.handleConnectTransport(ctx, id, c, env.Data)
	case "connect-recv-transport":
		ctl.handleConnectRecvTransport(ctx, id, c, env.Data)
	case "produce":
		ctl.handleProduce(ctx, id, c, env.Data)
	case "consume":
		ctl.handleConsume(ctx, id, c, env.Data)
	case "transcript":
		ctl.handleTranscript(ctx, id, c, env.Data)
	case "stop-transcription":
		ctl.handleStopTranscription(ctx, id, c, env.Data)
	case "start-recording":
		ctl.handleStartRecording(ctx, id, c, env.Data)
	case "stop-recording":
		ctl.handleStopRecording(ctx, id, c, env.Data)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
	}
}

func (ctl *SignalWSController) sendEvent(c *WsSignalConn, event string, v any) {
	b, err := json.Marshal(outEnvelope{Type: event, Data: v})
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendEvent marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("event", event).Msg("dropped outbound event")
	}
}

func (ctl *SignalWSController) sendError(c *WsSignalConn, msg string) {
	ctl.sendEvent(c, "error", map[string]string{"message": msg})
}
