// Package rtc implements the media engine surface on pion/webrtc.
// Transports are server-offered peer connections; producers bind to
// inbound remote tracks and fan out to consumers through relays.
package rtc

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/cc"
	"github.com/pion/interceptor/pkg/gcc"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Lecture/internal/app/media"
)

// Per-transport bitrate bounds enforced by the congestion controller.
const (
	initialBitrate = 300_000
	maxBitrate     = 1_500_000
)

type codecCap struct {
	MimeType  string `json:"mimeType"`
	ClockRate uint32 `json:"clockRate"`
	Channels  uint16 `json:"channels,omitempty"`
}

type routerCapabilities struct {
	Codecs []codecCap `json:"codecs"`
}

type RTCEngine struct {
	api  *webrtc.API
	cfg  webrtc.Configuration
	caps media.RTPCapabilities

	mu        sync.RWMutex
	producers map[string]*producer
}

func NewRTCEngine(announcedIP string) (*RTCEngine, error) {
	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{}
	if announcedIP != "" {
		se.SetNAT1To1IPs([]string{announcedIP}, webrtc.ICECandidateTypeHost)
	}

	ir := &interceptor.Registry{}
	congestion, err := cc.NewInterceptor(func() (cc.BandwidthEstimator, error) {
		return gcc.NewSendSideBWE(
			gcc.SendSideBWEInitialBitrate(initialBitrate),
			gcc.SendSideBWEMaxBitrate(maxBitrate),
		)
	})
	if err != nil {
		return nil, err
	}
	ir.Add(congestion)
	if err := webrtc.ConfigureTWCCHeaderExtensionSender(me, ir); err != nil {
		return nil, err
	}
	if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, err
	}

	caps, err := json.Marshal(routerCapabilities{
		Codecs: []codecCap{
			{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		},
	})
	if err != nil {
		return nil, err
	}

	return &RTCEngine{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(me),
			webrtc.WithSettingEngine(se),
			webrtc.WithInterceptorRegistry(ir),
		),
		cfg: webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{
				{URLs: []string{"stun:stun.l.google.com:19302"}},
			},
		},
		caps:      caps,
		producers: make(map[string]*producer),
	}, nil
}

func (e *RTCEngine) RTPCapabilities() media.RTPCapabilities {
	return e.caps
}

func (e *RTCEngine) CreateTransport(ctx context.Context) (media.Transport, error) {
	pc, err := e.api.NewPeerConnection(e.cfg)
	if err != nil {
		return nil, err
	}

	t := &transport{
		id:     uuid.NewString(),
		engine: e,
		pc:     pc,
	}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("transport", t.id).Str("ice_state", s.String()).Msg("ICE state")
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("transport", t.id).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("remote track")
		t.bindTrack(ctx, track)
	})

	if err := t.offer(); err != nil {
		_ = pc.Close()
		return nil, err
	}
	return t, nil
}

func (e *RTCEngine) CanConsume(producerID string, caps media.RTPCapabilities) bool {
	e.mu.RLock()
	p, ok := e.producers[producerID]
	e.mu.RUnlock()
	if !ok {
		return false
	}

	var rc routerCapabilities
	if err := json.Unmarshal(caps, &rc); err != nil {
		return false
	}
	for _, c := range rc.Codecs {
		if strings.EqualFold(c.MimeType, p.mimeType()) {
			return true
		}
	}
	return false
}

func (e *RTCEngine) registerProducer(p *producer) {
	e.mu.Lock()
	e.producers[p.id] = p
	e.mu.Unlock()
}

func (e *RTCEngine) unregisterProducer(id string) {
	e.mu.Lock()
	delete(e.producers, id)
	e.mu.Unlock()
}

func (e *RTCEngine) producer(id string) (*producer, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.producers[id]
	return p, ok
}
