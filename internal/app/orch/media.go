package orch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Lecture/internal/app"
	"github.com/dkeye/Lecture/internal/app/media"
	"github.com/dkeye/Lecture/internal/core"
)

// RTPCapabilities relays the router capabilities for device loading.
func (o *Orchestrator) RTPCapabilities() media.RTPCapabilities {
	return o.Engine.RTPCapabilities()
}

// TransportInfo is what the client needs to set up its side.
type TransportInfo struct {
	ID         string              `json:"id"`
	Parameters media.RTPParameters `json:"parameters"`
}

// CreateTransportResult carries both directions.
type CreateTransportResult struct {
	Send TransportInfo `json:"send"`
	Recv TransportInfo `json:"recv"`
}

// CreateTransport creates the send and receive transports for an
// already-joined connection and stores the handles in the registry.
func (o *Orchestrator) CreateTransport(ctx context.Context, conn core.ConnID) (*CreateTransportResult, error) {
	st, ok := o.Registry.Get(conn)
	if !ok || st.RoomCode == "" {
		return nil, fmt.Errorf("%w: connection %s has no room", ErrNotApproved, conn)
	}

	send, err := o.Engine.CreateTransport(ctx)
	if err != nil {
		return nil, fmt.Errorf("create send transport: %w", err)
	}
	recv, err := o.Engine.CreateTransport(ctx)
	if err != nil {
		_ = send.Close()
		return nil, fmt.Errorf("create recv transport: %w", err)
	}

	if err := o.Registry.Set(ctx, conn, func(cs *app.ConnState) {
		cs.SendTransport = send
		cs.RecvTransport = recv
		cs.TransportConnected = false
		cs.RecvConnected = false
	}); err != nil {
		_ = send.Close()
		_ = recv.Close()
		return nil, err
	}

	log.Info().Str("module", "orch.media").Str("conn", string(conn)).
		Str("send", send.ID()).Str("recv", recv.ID()).Msg("transports created")
	return &CreateTransportResult{
		Send: TransportInfo{ID: send.ID(), Parameters: send.Parameters()},
		Recv: TransportInfo{ID: recv.ID(), Parameters: recv.Parameters()},
	}, nil
}

// ConnectTransport completes DTLS on the send transport.
func (o *Orchestrator) ConnectTransport(ctx context.Context, conn core.ConnID, dtls media.DTLSParameters) error {
	st, ok := o.Registry.Get(conn)
	if !ok || st.SendTransport == nil {
		return media.ErrNoTransport
	}
	if err := st.SendTransport.Connect(dtls); err != nil {
		return fmt.Errorf("connect send transport: %w", err)
	}
	return o.Registry.Set(ctx, conn, func(cs *app.ConnState) {
		cs.TransportConnected = true
	})
}

// ConnectRecvTransport completes DTLS on the receive transport.
func (o *Orchestrator) ConnectRecvTransport(ctx context.Context, conn core.ConnID, dtls media.DTLSParameters) error {
	st, ok := o.Registry.Get(conn)
	if !ok || st.RecvTransport == nil {
		return media.ErrNoTransport
	}
	if err := st.RecvTransport.Connect(dtls); err != nil {
		return fmt.Errorf("connect recv transport: %w", err)
	}
	return o.Registry.Set(ctx, conn, func(cs *app.ConnState) {
		cs.RecvConnected = true
	})
}

// Produce creates a producer on the send transport, records it, and
// announces it to the room.
func (o *Orchestrator) Produce(ctx context.Context, conn core.ConnID, kind media.Kind, params media.RTPParameters) (string, error) {
	st, ok := o.Registry.Get(conn)
	if !ok || st.SendTransport == nil {
		return "", media.ErrNoTransport
	}
	producer, err := st.SendTransport.Produce(kind, params)
	if err != nil {
		return "", fmt.Errorf("produce %s: %w", kind, err)
	}
	if err := o.Registry.Set(ctx, conn, func(cs *app.ConnState) {
		cs.ProducerIDs = append(cs.ProducerIDs, producer.ID())
	}); err != nil {
		return "", err
	}

	if st.RoomCode != "" {
		o.Emitter.ToRoomExcept(st.RoomCode, conn, core.EvNewProducer, producerPayload{
			ProducerID: producer.ID(),
			UserID:     st.UserID,
			Kind:       producer.Kind(),
		})
	}
	log.Info().Str("module", "orch.media").Str("conn", string(conn)).
		Str("producer", producer.ID()).Str("kind", string(kind)).Msg("producer created")
	return producer.ID(), nil
}

// ConsumeResult is returned to the requesting client. It carries the
// recv transport's refreshed connect material: adding the forwarding
// track changes the negotiated session, and the client has to answer
// the new offer before the stream can flow.
type ConsumeResult struct {
	ConsumerID          string              `json:"consumerId"`
	ProducerID          string              `json:"producerId"`
	Kind                media.Kind          `json:"kind"`
	RTPParameters       media.RTPParameters `json:"rtpParameters"`
	TransportParameters media.RTPParameters `json:"transportParameters"`
}

// Consume creates a consumer on the receive transport after the engine
// confirms capability compatibility.
func (o *Orchestrator) Consume(ctx context.Context, conn core.ConnID, producerID string, caps media.RTPCapabilities) (*ConsumeResult, error) {
	st, ok := o.Registry.Get(conn)
	if !ok || st.RecvTransport == nil {
		return nil, media.ErrNoTransport
	}
	if !o.Engine.CanConsume(producerID, caps) {
		return nil, fmt.Errorf("%w: producer %s", media.ErrCannotConsume, producerID)
	}
	consumer, err := st.RecvTransport.Consume(producerID, caps)
	if err != nil {
		return nil, fmt.Errorf("consume producer %s: %w", producerID, err)
	}
	if err := o.Registry.Set(ctx, conn, func(cs *app.ConnState) {
		cs.ConsumerIDs = append(cs.ConsumerIDs, consumer.ID())
	}); err != nil {
		return nil, err
	}
	return &ConsumeResult{
		ConsumerID:          consumer.ID(),
		ProducerID:          consumer.ProducerID(),
		Kind:                consumer.Kind(),
		RTPParameters:       consumer.RTPParameters(),
		TransportParameters: st.RecvTransport.Parameters(),
	}, nil
}

// SyncProducers reconciles a newly joined connection against its peers
// in both directions: the newcomer learns every existing producer, and
// every peer learns the newcomer's. Notices are staggered so clients
// are not flooded.
func (o *Orchestrator) SyncProducers(ctx context.Context, conn core.ConnID) {
	st, ok := o.Registry.Get(conn)
	if !ok || st.RoomCode == "" {
		return
	}
	peers := o.Registry.ListByRoom(st.RoomCode)
	stagger := o.syncStagger()

	go func() {
		i := 0
		for _, peer := range peers {
			if peer.ID == conn {
				continue
			}
			for _, pid := range peer.ProducerIDs {
				if i > 0 {
					time.Sleep(stagger)
				}
				o.Emitter.ToConn(conn, core.EvNewProducer, producerPayload{
					ProducerID: pid,
					UserID:     peer.UserID,
				})
				i++
			}
			for _, pid := range st.ProducerIDs {
				if i > 0 {
					time.Sleep(stagger)
				}
				o.Emitter.ToConn(peer.ID, core.EvNewProducer, producerPayload{
					ProducerID: pid,
					UserID:     st.UserID,
				})
				i++
			}
		}
		if i > 0 {
			log.Debug().Str("module", "orch.media").Str("conn", string(conn)).Int("notices", i).Msg("producer sync done")
		}
	}()
}

// cleanupMedia closes a connection's transports. Best-effort: errors
// are logged and swallowed, the disconnect path must always complete.
func (o *Orchestrator) cleanupMedia(_ context.Context, st app.ConnState) {
	if st.SendTransport != nil {
		if err := st.SendTransport.Close(); err != nil {
			log.Error().Err(err).Str("module", "orch.media").Str("conn", string(st.ID)).Msg("close send transport")
		}
	}
	if st.RecvTransport != nil {
		if err := st.RecvTransport.Close(); err != nil {
			log.Error().Err(err).Str("module", "orch.media").Str("conn", string(st.ID)).Msg("close recv transport")
		}
	}
}
