package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Lecture/internal/app/captions"
	"github.com/dkeye/Lecture/internal/core"
	"github.com/dkeye/Lecture/internal/domain"
)

type transcriptPayload struct {
	Room string `json:"room"`
	Text string `json:"text"`
}

func (ctl *SignalWSController) handleTranscript(ctx context.Context, id core.ConnID, c *WsSignalConn, data []byte) {
	var p transcriptPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Room == "" {
		ctl.sendError(c, "bad_payload")
		return
	}
	if err := ctl.Orch.Captions.Ingest(ctx, domain.RoomCode(p.Room), id, p.Text); err != nil {
		ctl.captionError(c, id, "transcript", err)
	}
}

type recordingPayload struct {
	Room string `json:"room"`
	Lang string `json:"lang,omitempty"`
}

func (ctl *SignalWSController) handleStartRecording(ctx context.Context, id core.ConnID, c *WsSignalConn, data []byte) {
	var p recordingPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Room == "" {
		ctl.sendError(c, "bad_payload")
		return
	}
	if p.Lang == "" {
		p.Lang = ctl.targetLang
	}
	if err := ctl.Orch.Captions.StartRecording(ctx, domain.RoomCode(p.Room), id, p.Lang); err != nil {
		ctl.captionError(c, id, "start recording", err)
		return
	}
	ctl.sendEvent(c, "recording-started", nil)
}

func (ctl *SignalWSController) handleStopRecording(ctx context.Context, id core.ConnID, c *WsSignalConn, data []byte) {
	var p recordingPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Room == "" {
		ctl.sendError(c, "bad_payload")
		return
	}
	if err := ctl.Orch.Captions.StopRecording(ctx, domain.RoomCode(p.Room), id); err != nil {
		ctl.captionError(c, id, "stop recording", err)
		return
	}
	ctl.sendEvent(c, "recording-stopped", nil)
}

func (ctl *SignalWSController) handleStopTranscription(ctx context.Context, id core.ConnID, c *WsSignalConn, data []byte) {
	var p recordingPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Room == "" {
		ctl.sendError(c, "bad_payload")
		return
	}
	if err := ctl.Orch.Captions.StopTranscription(ctx, domain.RoomCode(p.Room), id); err != nil {
		ctl.captionError(c, id, "stop transcription", err)
	}
}

func (ctl *SignalWSController) captionError(c *WsSignalConn, id core.ConnID, op string, err error) {
	if errors.Is(err, captions.ErrNotAllowed) {
		ctl.sendError(c, "not_allowed")
		return
	}
	log.Error().Err(err).Str("module", "signal").Str("conn", string(id)).Msg(op)
	ctl.sendError(c, "retry")
}
