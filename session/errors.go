package session

import "errors"

var (
	// ErrChannelNotSecure is returned when sending in direct mode before the
	// key exchange completed.
	ErrChannelNotSecure = errors.New("channel not secure")

	// ErrNotConnected is returned when there is no open link to send on.
	ErrNotConnected = errors.New("not connected")

	// ErrSelfConnect is returned when dialing the local identity.
	ErrSelfConnect = errors.New("cannot connect to own identity")

	// ErrAlreadyConnected is returned when a direct session or member
	// already has its peer.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrHostCannotDial is returned when a group host tries to open a link.
	ErrHostCannotDial = errors.New("group host does not dial")

	// ErrNotStarted is returned before Start succeeded.
	ErrNotStarted = errors.New("session not started")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("session already started")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session closed")

	// ErrInvalidConfig is returned by New for an unknown mode.
	ErrInvalidConfig = errors.New("invalid session config")
)
