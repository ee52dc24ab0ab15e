package rtc

import (
	"testing"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOutTrack(t *testing.T, id string) *outTrack {
	t.Helper()
	local, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		id, "s-"+id,
	)
	require.NoError(t, err)
	return newOutTrack(local)
}

func TestRelayForward(t *testing.T) {
	logger := zerolog.Nop()

	t.Run("drops out tracks marked for delete", func(t *testing.T) {
		r := newRelay()
		keep := newTestOutTrack(t, "keep")
		gone := newTestOutTrack(t, "gone")
		gone.markDelete()
		r.addOutTrack("keep", keep)
		r.addOutTrack("gone", gone)

		r.forward(&rtp.Packet{}, &logger)

		r.mu.RLock()
		defer r.mu.RUnlock()
		assert.Contains(t, r.outTracks, "keep")
		assert.NotContains(t, r.outTracks, "gone")
	})

	t.Run("stop marks every out track for delete", func(t *testing.T) {
		r := newRelay()
		ot := newTestOutTrack(t, "c1")
		r.addOutTrack("c1", ot)

		r.stop()

		assert.Equal(t, trackStateDelete, ot.getState())
	})
}
