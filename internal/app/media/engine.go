// Package media defines the surface this server consumes from the
// media engine. The engine owns packet routing, codec negotiation and
// DTLS internals; this layer only creates and books transports,
// producers and consumers per connection.
package media

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrNoTransport means the connection has not created the
	// required transport yet. Precondition error, never silent.
	ErrNoTransport = errors.New("no transport for connection")
	// ErrCannotConsume means the engine reports the consumer's
	// capabilities cannot receive the producer's stream.
	ErrCannotConsume = errors.New("cannot consume producer")
	// ErrProducerNotFound means the referenced producer id is unknown.
	ErrProducerNotFound = errors.New("producer not found")
)

type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Opaque engine-level parameter blobs. The signaling layer relays them
// between client and engine without interpreting them.
type (
	RTPCapabilities = json.RawMessage
	RTPParameters   = json.RawMessage
	DTLSParameters  = json.RawMessage
)

type Engine interface {
	// RTPCapabilities returns the router's capabilities for client
	// device loading.
	RTPCapabilities() RTPCapabilities
	// CreateTransport creates one bounded-bitrate WebRTC transport.
	CreateTransport(ctx context.Context) (Transport, error)
	// CanConsume reports whether caps are compatible with the
	// producer's stream.
	CanConsume(producerID string, caps RTPCapabilities) bool
}

type Transport interface {
	ID() string
	// Parameters returns what the client needs to connect (ICE/DTLS
	// offer material), opaque to this layer.
	Parameters() json.RawMessage
	// Connect completes the DTLS handshake with the client's answer.
	Connect(dtls DTLSParameters) error
	Produce(kind Kind, params RTPParameters) (Producer, error)
	Consume(producerID string, caps RTPCapabilities) (Consumer, error)
	Close() error
}

type Producer interface {
	ID() string
	Kind() Kind
	Close() error
}

type Consumer interface {
	ID() string
	ProducerID() string
	Kind() Kind
	// RTPParameters is what the client needs to attach the stream.
	RTPParameters() RTPParameters
	Close() error
}
