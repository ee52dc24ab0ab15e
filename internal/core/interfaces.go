package core

import "github.com/dkeye/Lecture/internal/domain"

// Frame is a raw outbound payload (already encoded JSON).
type Frame []byte

// ConnID identifies one live signaling connection.
type ConnID string

// SignalConnection abstracts a system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Emitter delivers events to connections and rooms. Implemented by the
// signaling adapter; everything above it stays transport-agnostic.
type Emitter interface {
	ToConn(id ConnID, event string, v any)
	ToRoom(room domain.RoomCode, event string, v any)
	ToRoomExcept(room domain.RoomCode, except ConnID, event string, v any)
	// IsLive reports whether the connection is still attached.
	IsLive(id ConnID) bool
	// Disconnect tears the connection down; the usual disconnect
	// cleanup path runs as a consequence.
	Disconnect(id ConnID)
}
