// Package captions buffers speech fragments per room, detects sentence
// boundaries, invokes translation and schedules display/clear timers.
// All per-room work serializes through the room's key lock so fragments
// apply in arrival order.
package captions

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Lecture/internal/app/roomstate"
	"github.com/dkeye/Lecture/internal/core"
	"github.com/dkeye/Lecture/internal/domain"
)

// ErrNotAllowed is the precondition rejection: sender is not the admin
// connection or the room is not recording.
var ErrNotAllowed = errors.New("captions: sender not allowed")

const (
	DefaultSilenceDelay = 900 * time.Millisecond
	DefaultClearDelay   = 3500 * time.Millisecond
)

// Translator is the external AI collaborator.
type Translator interface {
	Translate(ctx context.Context, text, targetLang string) (string, error)
}

type Pipeline struct {
	rooms      *roomstate.Ephemeral
	emitter    core.Emitter
	translator Translator

	silenceDelay time.Duration
	clearDelay   time.Duration
}

func NewPipeline(rooms *roomstate.Ephemeral, emitter core.Emitter, translator Translator, silenceDelay, clearDelay time.Duration) *Pipeline {
	if silenceDelay <= 0 {
		silenceDelay = DefaultSilenceDelay
	}
	if clearDelay <= 0 {
		clearDelay = DefaultClearDelay
	}
	return &Pipeline{
		rooms:        rooms,
		emitter:      emitter,
		translator:   translator,
		silenceDelay: silenceDelay,
		clearDelay:   clearDelay,
	}
}

type transcriptPayload struct {
	Text string `json:"text"`
}

// Ingest appends a speech fragment to the room buffer and (re)arms the
// finalize timer. Only the current admin connection of a recording room
// may feed fragments.
func (p *Pipeline) Ingest(ctx context.Context, room domain.RoomCode, from core.ConnID, fragment string) error {
	return p.rooms.WithRoom(ctx, room, func(rt *roomstate.Realtime) error {
		if rt.AdminConn != from || !rt.Recording {
			return ErrNotAllowed
		}
		text := strings.TrimSpace(fragment)
		if text == "" {
			return nil
		}
		cs := &rt.Captions
		if cs.Buffer == "" {
			cs.Buffer = text
		} else {
			cs.Buffer += " " + text
		}
		if cs.FinalizeTimer != nil {
			cs.FinalizeTimer.Stop()
		}
		cs.FinalizeTimer = time.AfterFunc(p.silenceDelay, func() { p.finalize(room) })
		return nil
	})
}

// finalize runs after the silence delay: extracts the buffer,
// translates and shows it, then arms the stamped auto-clear timer.
func (p *Pipeline) finalize(room domain.RoomCode) {
	ctx := context.Background()
	err := p.rooms.WithRoom(ctx, room, func(rt *roomstate.Realtime) error {
		cs := &rt.Captions
		cs.FinalizeTimer = nil
		text := strings.TrimSpace(cs.Buffer)
		cs.Buffer = ""
		if text == "" {
			return nil
		}

		if endsSentence(text) {
			// A finished sentence supersedes whatever is on
			// screen right away; stale clear timers become
			// no-ops via the generation bump.
			if cs.ClearTimer != nil {
				cs.ClearTimer.Stop()
				cs.ClearTimer = nil
			}
			cs.Generation++
			p.emitter.ToRoom(room, core.EvClearSubtitle, struct{}{})
		} else {
			text += "."
		}

		translated, err := p.translator.Translate(ctx, text, cs.TargetLang)
		if err != nil {
			// Degrade gracefully: keep the previous caption on
			// screen rather than erroring.
			log.Error().Err(err).Str("module", "captions").Str("room", string(room)).Msg("translation failed, keeping previous caption")
			return nil
		}

		p.emitter.ToRoom(room, core.EvTranscriptEn, transcriptPayload{Text: translated})

		cs.Generation++
		gen := cs.Generation
		cs.ClearTimer = time.AfterFunc(p.clearDelay, func() { p.clearIfCurrent(room, gen) })
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("module", "captions").Str("room", string(room)).Msg("finalize failed")
	}
}

// clearIfCurrent broadcasts clear-subtitle only if gen is still the
// room's current generation; a stale timer does nothing.
func (p *Pipeline) clearIfCurrent(room domain.RoomCode, gen int64) {
	err := p.rooms.WithRoom(context.Background(), room, func(rt *roomstate.Realtime) error {
		if rt.Captions.Generation != gen {
			log.Debug().Str("module", "captions").Str("room", string(room)).Int64("gen", gen).Msg("stale clear timer ignored")
			return nil
		}
		rt.Captions.ClearTimer = nil
		p.emitter.ToRoom(room, core.EvClearSubtitle, struct{}{})
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("module", "captions").Str("room", string(room)).Msg("clear failed")
	}
}

// StartRecording resets caption state and flips the recording flag on.
// Admin-only.
func (p *Pipeline) StartRecording(ctx context.Context, room domain.RoomCode, from core.ConnID, targetLang string) error {
	return p.rooms.WithRoom(ctx, room, func(rt *roomstate.Realtime) error {
		if rt.AdminConn != from {
			return ErrNotAllowed
		}
		resetCaptions(&rt.Captions)
		rt.Captions.TargetLang = targetLang
		rt.Recording = true
		log.Info().Str("module", "captions").Str("room", string(room)).Msg("recording started")
		return nil
	})
}

// StopRecording cancels buffers and timers and flips the flag off.
// Admin-only.
func (p *Pipeline) StopRecording(ctx context.Context, room domain.RoomCode, from core.ConnID) error {
	return p.rooms.WithRoom(ctx, room, func(rt *roomstate.Realtime) error {
		if rt.AdminConn != from {
			return ErrNotAllowed
		}
		resetCaptions(&rt.Captions)
		rt.Recording = false
		log.Info().Str("module", "captions").Str("room", string(room)).Msg("recording stopped")
		return nil
	})
}

// StopTranscription drops any buffered text and tells the room to take
// down the transcript view. Admin-only. The recording flag is left
// untouched.
func (p *Pipeline) StopTranscription(ctx context.Context, room domain.RoomCode, from core.ConnID) error {
	return p.rooms.WithRoom(ctx, room, func(rt *roomstate.Realtime) error {
		if rt.AdminConn != from {
			return ErrNotAllowed
		}
		resetCaptions(&rt.Captions)
		p.emitter.ToRoom(room, core.EvStopTranscript, struct{}{})
		return nil
	})
}

func resetCaptions(cs *roomstate.CaptionState) {
	if cs.FinalizeTimer != nil {
		cs.FinalizeTimer.Stop()
		cs.FinalizeTimer = nil
	}
	if cs.ClearTimer != nil {
		cs.ClearTimer.Stop()
		cs.ClearTimer = nil
	}
	cs.Buffer = ""
	cs.Generation++
}

func endsSentence(text string) bool {
	return strings.HasSuffix(text, ".") ||
		strings.HasSuffix(text, "!") ||
		strings.HasSuffix(text, "?")
}
