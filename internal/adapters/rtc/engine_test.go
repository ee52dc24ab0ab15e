package rtc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Lecture/internal/app/media"
)

func TestEngineCapabilities(t *testing.T) {
	e, err := NewRTCEngine("")
	require.NoError(t, err)

	var caps routerCapabilities
	require.NoError(t, json.Unmarshal(e.RTPCapabilities(), &caps))
	require.Len(t, caps.Codecs, 2)
	assert.Equal(t, "audio/opus", caps.Codecs[0].MimeType)
}

func TestCanConsumeMatchesProducerCodec(t *testing.T) {
	e, err := NewRTCEngine("")
	require.NoError(t, err)

	p := &producer{id: "p1", kind: media.KindAudio, engine: e, relay: newRelay()}
	e.registerProducer(p)

	opus := json.RawMessage(`{"codecs":[{"mimeType":"audio/opus","clockRate":48000,"channels":2}]}`)
	vp8 := json.RawMessage(`{"codecs":[{"mimeType":"video/VP8","clockRate":90000}]}`)

	t.Run("matching codec", func(t *testing.T) {
		assert.True(t, e.CanConsume("p1", opus))
	})
	t.Run("incompatible codec", func(t *testing.T) {
		assert.False(t, e.CanConsume("p1", vp8))
	})
	t.Run("unknown producer", func(t *testing.T) {
		assert.False(t, e.CanConsume("nope", opus))
	})
	t.Run("malformed capabilities", func(t *testing.T) {
		assert.False(t, e.CanConsume("p1", json.RawMessage(`{`)))
	})
	t.Run("closed producer is gone", func(t *testing.T) {
		require.NoError(t, p.Close())
		assert.False(t, e.CanConsume("p1", opus))
	})
}
