// Package transport provides the peer transports that carry securesignal
// frames between identities.
//
// # Architecture
//
// The session layer never sees sockets. It consumes three small contracts:
//
//	type Transport interface {
//	    AssignOrRecoverIdentity(ctx context.Context, preferred string) (string, error)
//	    Connect(ctx context.Context, target string) (Conn, error)
//	    OnIncomingLink(handler func(Conn))
//	    Close() error
//	}
//
//	type Conn interface {
//	    RemoteIdentity() string
//	    SetHandler(h Handler)
//	    Send(data []byte) error
//	    Close() error
//	}
//
//	type Handler interface {
//	    HandleOpen()
//	    HandleData(data []byte)
//	    HandleClose()
//	    HandleError(err error)
//	}
//
// Events for one connection are queued from the moment the connection exists
// and delivered in order, from a single goroutine, once SetHandler is called.
// HandleClose is always the last event delivered.
//
// # Transport Implementations
//
// Memory transport (in-process hub):
//
//	hub := transport.NewHub()
//	alice := hub.NewTransport()
//	bob := hub.NewTransport()
//	// identities are random UUIDs unless a preferred one is requested
//
// TCP transport:
//
//	tr := transport.NewTCPTransport(transport.TCPOptions{ListenHost: "0.0.0.0"})
//	id, err := tr.AssignOrRecoverIdentity(ctx, "")
//	// the identity is the listening "host:port"
//
// # Identity Collisions
//
// Both transports return ErrIdentityUnavailable when the preferred identity
// is already claimed. Callers are expected to retry once with an empty
// preference, which always asks for a fresh identity.
package transport
