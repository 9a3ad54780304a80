package transport

import (
	"context"
)

// Handler receives the events of one connection. Implementations are called
// from a transport goroutine, never concurrently for the same connection.
type Handler interface {
	HandleOpen()
	HandleData(data []byte)
	HandleClose()
	HandleError(err error)
}

// Conn is a byte-oriented connection to one remote identity.
type Conn interface {
	// RemoteIdentity returns the identity on the other end.
	RemoteIdentity() string

	// SetHandler starts event delivery. Events raised before the handler
	// is set are buffered.
	SetHandler(h Handler)

	// Send writes one message. It is safe to call from any goroutine.
	Send(data []byte) error

	// Close tears the connection down. It is idempotent.
	Close() error
}

// Transport assigns the local identity and opens or accepts connections.
type Transport interface {
	// AssignOrRecoverIdentity claims preferred, or a fresh identity when
	// preferred is empty.
	AssignOrRecoverIdentity(ctx context.Context, preferred string) (string, error)

	// Connect opens a connection to target. HandleOpen is delivered once
	// the connection is usable.
	Connect(ctx context.Context, target string) (Conn, error)

	// OnIncomingLink registers the handler for accepted connections.
	OnIncomingLink(handler func(Conn))

	// Close shuts the transport down and closes every connection.
	Close() error
}
