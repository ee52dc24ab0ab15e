package captions

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Lecture/internal/app/lock"
	"github.com/dkeye/Lecture/internal/app/roomstate"
	"github.com/dkeye/Lecture/internal/core"
	"github.com/dkeye/Lecture/internal/domain"
)

type emitted struct {
	Room  domain.RoomCode
	Event string
	Body  any
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (f *fakeEmitter) ToConn(core.ConnID, string, any) {}
func (f *fakeEmitter) ToRoom(room domain.RoomCode, event string, v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emitted{Room: room, Event: event, Body: v})
}
func (f *fakeEmitter) ToRoomExcept(room domain.RoomCode, _ core.ConnID, event string, v any) {
	f.ToRoom(room, event, v)
}
func (f *fakeEmitter) IsLive(core.ConnID) bool { return true }
func (f *fakeEmitter) Disconnect(core.ConnID)  {}

func (f *fakeEmitter) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = e.Event
	}
	return out
}

func (f *fakeEmitter) count(event string) int {
	n := 0
	for _, name := range f.names() {
		if name == event {
			n++
		}
	}
	return n
}

type fakeTranslator struct {
	err error
}

func (f *fakeTranslator) Translate(_ context.Context, text, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "[en] " + text, nil
}

const (
	silence = 30 * time.Millisecond
	clear   = 80 * time.Millisecond
)

func newTestPipeline(t *testing.T, tr Translator) (*Pipeline, *roomstate.Ephemeral, *fakeEmitter) {
	t.Helper()
	rooms := roomstate.NewEphemeral(lock.New(), time.Second)
	em := &fakeEmitter{}
	if tr == nil {
		tr = &fakeTranslator{}
	}
	return NewPipeline(rooms, em, tr, silence, clear), rooms, em
}

func armRoom(t *testing.T, rooms *roomstate.Ephemeral, room domain.RoomCode, admin core.ConnID) {
	t.Helper()
	require.NoError(t, rooms.SetAdmin(context.Background(), room, admin))
	require.NoError(t, rooms.SetRecording(context.Background(), room, true))
}

func TestIngestPreconditions(t *testing.T) {
	p, rooms, _ := newTestPipeline(t, nil)
	ctx := context.Background()

	t.Run("not recording", func(t *testing.T) {
		require.NoError(t, rooms.SetAdmin(ctx, "ROOM1", "admin"))
		err := p.Ingest(ctx, "ROOM1", "admin", "hello")
		require.ErrorIs(t, err, ErrNotAllowed)
	})

	t.Run("not admin", func(t *testing.T) {
		require.NoError(t, rooms.SetRecording(ctx, "ROOM1", true))
		err := p.Ingest(ctx, "ROOM1", "intruder", "hello")
		require.ErrorIs(t, err, ErrNotAllowed)
	})
}

func TestCaptionFlow(t *testing.T) {
	p, rooms, em := newTestPipeline(t, nil)
	ctx := context.Background()
	armRoom(t, rooms, "ROOM1", "admin")

	require.NoError(t, p.Ingest(ctx, "ROOM1", "admin", " Hello "))

	// Silence elapses: caption is translated and broadcast.
	time.Sleep(2 * silence)
	require.Equal(t, 1, em.count(core.EvTranscriptEn))
	em.mu.Lock()
	body := em.events[len(em.events)-1].Body.(transcriptPayload)
	em.mu.Unlock()
	assert.Equal(t, "[en] Hello.", body.Text, "trimmed, punctuated, translated")

	// Further silence: auto-clear fires.
	time.Sleep(clear + 2*silence)
	assert.Equal(t, 1, em.count(core.EvClearSubtitle))
}

func TestFragmentsAccumulateAcrossResets(t *testing.T) {
	p, rooms, em := newTestPipeline(t, nil)
	ctx := context.Background()
	armRoom(t, rooms, "ROOM1", "admin")

	require.NoError(t, p.Ingest(ctx, "ROOM1", "admin", "good"))
	time.Sleep(silence / 2)
	require.NoError(t, p.Ingest(ctx, "ROOM1", "admin", "morning"))
	time.Sleep(2 * silence)

	require.Equal(t, 1, em.count(core.EvTranscriptEn), "timer reset must coalesce fragments")
	em.mu.Lock()
	body := em.events[len(em.events)-1].Body.(transcriptPayload)
	em.mu.Unlock()
	assert.Equal(t, "[en] good morning.", body.Text)
}

func TestSentenceEndClearsImmediately(t *testing.T) {
	p, rooms, em := newTestPipeline(t, nil)
	ctx := context.Background()
	armRoom(t, rooms, "ROOM1", "admin")

	require.NoError(t, p.Ingest(ctx, "ROOM1", "admin", "Done!"))
	time.Sleep(2 * silence)

	names := em.names()
	require.GreaterOrEqual(t, len(names), 2)
	assert.Equal(t, core.EvClearSubtitle, names[0], "finished sentence clears before showing")
	assert.Equal(t, core.EvTranscriptEn, names[1])
}

func TestStaleClearTimerIsNoop(t *testing.T) {
	p, rooms, em := newTestPipeline(t, nil)
	ctx := context.Background()
	armRoom(t, rooms, "ROOM1", "admin")

	require.NoError(t, p.Ingest(ctx, "ROOM1", "admin", "hello"))
	time.Sleep(2 * silence)
	require.Equal(t, 1, em.count(core.EvTranscriptEn))

	// Bump the generation before the scheduled clear fires; the timer
	// stamped with the old value must do nothing.
	require.NoError(t, rooms.WithRoom(ctx, "ROOM1", func(rt *roomstate.Realtime) error {
		rt.Captions.Generation++
		return nil
	}))
	time.Sleep(clear + 2*silence)
	assert.Equal(t, 0, em.count(core.EvClearSubtitle))
}

func TestTranslationFailureKeepsPreviousCaption(t *testing.T) {
	p, rooms, em := newTestPipeline(t, &fakeTranslator{err: errors.New("model down")})
	ctx := context.Background()
	armRoom(t, rooms, "ROOM1", "admin")

	require.NoError(t, p.Ingest(ctx, "ROOM1", "admin", "hello"))
	time.Sleep(clear + 2*silence)

	assert.Equal(t, 0, em.count(core.EvTranscriptEn), "failure is swallowed, nothing broadcast")
	assert.Equal(t, 0, em.count(core.EvClearSubtitle), "no clear scheduled either")
}

func TestStopRecordingCancelsPending(t *testing.T) {
	p, rooms, em := newTestPipeline(t, nil)
	ctx := context.Background()
	armRoom(t, rooms, "ROOM1", "admin")

	require.NoError(t, p.Ingest(ctx, "ROOM1", "admin", "half a sent"))
	require.NoError(t, p.StopRecording(ctx, "ROOM1", "admin"))

	time.Sleep(2 * silence)
	assert.Equal(t, 0, em.count(core.EvTranscriptEn), "buffer dropped on stop")

	rt, err := rooms.Snapshot(ctx, "ROOM1")
	require.NoError(t, err)
	assert.False(t, rt.Recording)
	assert.Empty(t, rt.Captions.Buffer)

	require.ErrorIs(t, p.StopRecording(ctx, "ROOM1", "someone-else"), ErrNotAllowed)
}

func TestStopTranscriptionBroadcasts(t *testing.T) {
	p, rooms, em := newTestPipeline(t, nil)
	ctx := context.Background()
	armRoom(t, rooms, "ROOM1", "admin")

	require.NoError(t, p.StopTranscription(ctx, "ROOM1", "admin"))
	assert.Equal(t, 1, em.count(core.EvStopTranscript))

	rt, err := rooms.Snapshot(ctx, "ROOM1")
	require.NoError(t, err)
	assert.True(t, rt.Recording, "recording flag untouched")
}

func TestEndsSentence(t *testing.T) {
	assert.True(t, endsSentence("Done."))
	assert.True(t, endsSentence("Done!"))
	assert.True(t, endsSentence("Done?"))
	assert.False(t, endsSentence("Done"))
	assert.False(t, strings.HasSuffix("", "."))
}
