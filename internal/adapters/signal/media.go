package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Lecture/internal/app/media"
	"github.com/dkeye/Lecture/internal/core"
)

func (ctl *SignalWSController) handleRtpCapabilities(c *WsSignalConn) {
	ctl.sendEvent(c, "rtp-capabilities", ctl.Orch.RTPCapabilities())
}

func (ctl *SignalWSController) handleCreateTransport(ctx context.Context, id core.ConnID, c *WsSignalConn) {
	res, err := ctl.Orch.CreateTransport(ctx, id)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("create transport")
		ctl.sendError(c, "create_transport_failed")
		return
	}
	ctl.sendEvent(c, "transport-created", res)
}

type connectPayload struct {
	DTLSParameters json.RawMessage `json:"dtlsParameters"`
}

func (ctl *SignalWSController) handleConnectTransport(ctx context.Context, id core.ConnID, c *WsSignalConn, data []byte) {
	var p connectPayload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(c, "bad_payload")
		return
	}
	if err := ctl.Orch.ConnectTransport(ctx, id, media.DTLSParameters(p.DTLSParameters)); err != nil {
		ctl.mediaError(c, id, "connect transport", err)
		return
	}
	ctl.sendEvent(c, "transport-connected", nil)
}

func (ctl *SignalWSController) handleConnectRecvTransport(ctx context.Context, id core.ConnID, c *WsSignalConn, data []byte) {
	var p connectPayload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(c, "bad_payload")
		return
	}
	if err := ctl.Orch.ConnectRecvTransport(ctx, id, media.DTLSParameters(p.DTLSParameters)); err != nil {
		ctl.mediaError(c, id, "connect recv transport", err)
		return
	}
	ctl.sendEvent(c, "recv-transport-connected", nil)
}

type producePayload struct {
	Kind          string          `json:"kind"`
	RTPParameters json.RawMessage `json:"rtpParameters"`
}

func (ctl *SignalWSController) handleProduce(ctx context.Context, id core.ConnID, c *WsSignalConn, data []byte) {
	var p producePayload
	if err := json.Unmarshal(data, &p); err != nil || p.Kind == "" {
		ctl.sendError(c, "bad_payload")
		return
	}
	producerID, err := ctl.Orch.Produce(ctx, id, media.Kind(p.Kind), media.RTPParameters(p.RTPParameters))
	if err != nil {
		ctl.mediaError(c, id, "produce", err)
		return
	}
	ctl.sendEvent(c, "produced", map[string]string{"producerId": producerID})
}

type consumePayload struct {
	ProducerID      string          `json:"producerId"`
	RTPCapabilities json.RawMessage `json:"rtpCapabilities"`
}

func (ctl *SignalWSController) handleConsume(ctx context.Context, id core.ConnID, c *WsSignalConn, data []byte) {
	var p consumePayload
	if err := json.Unmarshal(data, &p); err != nil || p.ProducerID == "" {
		ctl.sendError(c, "bad_payload")
		return
	}
	res, err := ctl.Orch.Consume(ctx, id, p.ProducerID, media.RTPCapabilities(p.RTPCapabilities))
	if err != nil {
		ctl.mediaError(c, id, "consume", err)
		return
	}
	ctl.sendEvent(c, "consumed", res)
}

func (ctl *SignalWSController) mediaError(c *WsSignalConn, id core.ConnID, op string, err error) {
	log.Error().Err(err).Str("module", "signal").Str("conn", string(id)).Msg(op)
	switch {
	case errors.Is(err, media.ErrNoTransport):
		ctl.sendError(c, "no_transport")
	case errors.Is(err, media.ErrCannotConsume):
		ctl.sendError(c, "cannot_consume")
	default:
		ctl.sendError(c, "media_failed")
	}
}
