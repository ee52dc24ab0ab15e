package rtc

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Lecture/internal/app/media"
)

// transportParameters is the connect material relayed to the client:
// the transport id plus the server's gathered offer.
type transportParameters struct {
	ID    string                     `json:"id"`
	Offer *webrtc.SessionDescription `json:"offer"`
}

type transport struct {
	id     string
	engine *RTCEngine
	pc     *webrtc.PeerConnection

	mu      sync.Mutex
	params  json.RawMessage
	pending []*producer
}

// offer creates the server-side offer and waits for ICE gathering so
// Parameters carries the complete candidate set.
func (t *transport) offer() error {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	gatherComplete := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return err
	}
	<-gatherComplete

	params, err := json.Marshal(transportParameters{ID: t.id, Offer: t.pc.LocalDescription()})
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.params = params
	t.mu.Unlock()
	return nil
}

func (t *transport) ID() string { return t.id }

func (t *transport) Parameters() json.RawMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.params
}

// Connect applies the client's answer, completing ICE/DTLS.
func (t *transport) Connect(dtls media.DTLSParameters) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(dtls, &answer); err != nil {
		return err
	}
	return t.pc.SetRemoteDescription(answer)
}

// Produce books a producer for the next inbound track of that kind.
// The remote track lands asynchronously once the handshake finishes;
// bindTrack pairs it up and starts the relay.
func (t *transport) Produce(kind media.Kind, params media.RTPParameters) (media.Producer, error) {
	p := &producer{
		id:     uuid.NewString(),
		kind:   kind,
		engine: t.engine,
		relay:  newRelay(),
	}
	t.mu.Lock()
	t.pending = append(t.pending, p)
	t.mu.Unlock()
	t.engine.registerProducer(p)
	return p, nil
}

func (t *transport) bindTrack(ctx context.Context, track *webrtc.TrackRemote) {
	kind := media.KindAudio
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		kind = media.KindVideo
	}

	t.mu.Lock()
	var p *producer
	for i, cand := range t.pending {
		if cand.kind == kind {
			p = cand
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			break
		}
	}
	t.mu.Unlock()

	if p == nil {
		log.Warn().Str("module", "rtc").Str("transport", t.id).Str("kind", string(kind)).Msg("unclaimed remote track")
		return
	}
	p.attach(ctx, track)
}

// Consume attaches a local forwarding track for the producer's stream.
// Must run before Connect so the track is part of the negotiated offer.
func (t *transport) Consume(producerID string, caps media.RTPCapabilities) (media.Consumer, error) {
	p, ok := t.engine.producer(producerID)
	if !ok {
		return nil, media.ErrProducerNotFound
	}

	codec := webrtc.RTPCodecCapability{MimeType: p.mimeType(), ClockRate: 48000, Channels: 2}
	if p.kind == media.KindVideo {
		codec = webrtc.RTPCodecCapability{MimeType: p.mimeType(), ClockRate: 90000}
	}

	consumerID := uuid.NewString()
	local, err := webrtc.NewTrackLocalStaticRTP(codec, consumerID, "relay-"+producerID)
	if err != nil {
		return nil, err
	}
	if _, err := t.pc.AddTrack(local); err != nil {
		return nil, err
	}
	if err := t.offer(); err != nil {
		return nil, err
	}

	ot := newOutTrack(local)
	p.relay.addOutTrack(consumerID, ot)

	params, err := json.Marshal(struct {
		Codec codecCap `json:"codec"`
	}{Codec: codecCap{MimeType: codec.MimeType, ClockRate: codec.ClockRate, Channels: codec.Channels}})
	if err != nil {
		return nil, err
	}

	return &consumer{
		id:         consumerID,
		producerID: producerID,
		kind:       p.kind,
		params:     params,
		out:        ot,
	}, nil
}

func (t *transport) Close() error {
	return t.pc.Close()
}

type producer struct {
	id     string
	kind   media.Kind
	engine *RTCEngine
	relay  *relay

	mu    sync.RWMutex
	track *webrtc.TrackRemote
}

func (p *producer) ID() string       { return p.id }
func (p *producer) Kind() media.Kind { return p.kind }

func (p *producer) mimeType() string {
	p.mu.RLock()
	track := p.track
	p.mu.RUnlock()
	if track != nil {
		return track.Codec().MimeType
	}
	if p.kind == media.KindVideo {
		return webrtc.MimeTypeVP8
	}
	return webrtc.MimeTypeOpus
}

func (p *producer) attach(ctx context.Context, track *webrtc.TrackRemote) {
	p.mu.Lock()
	p.track = track
	p.mu.Unlock()
	p.relay.start(ctx, p.id, track)
}

func (p *producer) Close() error {
	p.relay.stop()
	p.engine.unregisterProducer(p.id)
	return nil
}

type consumer struct {
	id         string
	producerID string
	kind       media.Kind
	params     media.RTPParameters
	out        *outTrack
}

func (c *consumer) ID() string                         { return c.id }
func (c *consumer) ProducerID() string                 { return c.producerID }
func (c *consumer) Kind() media.Kind                   { return c.kind }
func (c *consumer) RTPParameters() media.RTPParameters { return c.params }

func (c *consumer) Close() error {
	c.out.markDelete()
	return nil
}

var _ media.Engine = (*RTCEngine)(nil)
