package transport

import "errors"

var (
	// ErrIdentityUnavailable indicates the requested identity is already
	// claimed by another node.
	ErrIdentityUnavailable = errors.New("identity unavailable")

	// ErrNoIdentity indicates Connect was called before an identity was
	// assigned.
	ErrNoIdentity = errors.New("no local identity assigned")

	// ErrPeerUnavailable indicates the target identity could not be reached.
	ErrPeerUnavailable = errors.New("peer unavailable")

	// ErrConnClosed indicates a send on a closed connection.
	ErrConnClosed = errors.New("connection closed")

	// ErrTransportClosed indicates the transport has been shut down.
	ErrTransportClosed = errors.New("transport closed")
)
