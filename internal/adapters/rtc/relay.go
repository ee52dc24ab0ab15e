package rtc

import (
	"context"
	"maps"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// relay pumps RTP from one producer's remote track to every consumer's
// out track. One relay per producer, one loop goroutine per relay.
type relay struct {
	mu        sync.RWMutex
	src       *webrtc.TrackRemote
	outTracks map[string]*outTrack

	cancel context.CancelFunc
}

func newRelay() *relay {
	return &relay{outTracks: make(map[string]*outTrack)}
}

func (r *relay) start(ctx context.Context, producerID string, src *webrtc.TrackRemote) {
	logger := log.With().
		Str("module", "relay").
		Str("producer", producerID).
		Logger()

	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.src = src
	r.cancel = cancel
	r.mu.Unlock()

	logger.Info().Msg("starting relay loop")
	go r.loop(ctx, &logger)
}

func (r *relay) loop(ctx context.Context, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay ctx done, marking all out tracks for delete")
			r.markAllDelete()
			return
		default:
		}
		pkt, _, err := r.src.ReadRTP()
		if err != nil {
			logger.Error().Err(err).Msg("relay read RTP error, stopping")
			r.markAllDelete()
			return
		}
		r.forward(pkt, logger)
	}
}

func (r *relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := make(map[string]*outTrack, len(r.outTracks))
	maps.Copy(snapshot, r.outTracks)
	r.mu.RUnlock()

	dirty := make([]string, 0, len(snapshot))
	for consumerID, ot := range snapshot {
		switch ot.getState() {
		case trackStateDelete:
			dirty = append(dirty, consumerID)
		case trackStateOk:
			if err := ot.track.WriteRTP(pkt); err != nil {
				logger.Error().
					Err(err).
					Str("consumer", consumerID).
					Msg("relay write RTP error, marking out track for delete")
				ot.markDelete()
				dirty = append(dirty, consumerID)
			}
		}
	}

	// Cleanup happens outside the RLock.
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *relay) cleanupDeleted(dirty []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range dirty {
		delete(r.outTracks, id)
	}
}

func (r *relay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ot := range r.outTracks {
		ot.markDelete()
	}
}

func (r *relay) addOutTrack(consumerID string, ot *outTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outTracks[consumerID] = ot
}

func (r *relay) stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.markAllDelete()
}
