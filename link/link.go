// Package link wraps one transport connection to one remote identity.
//
// A Link tracks the connection lifecycle and turns raw transport messages
// into typed frames:
//
//	Opening --open--> Open --close--> Closed
//	   |               |
//	   +----error------+--> Errored --close--> Closed
//
// A failed write moves the link to Errored and closes the connection, so
// every failure ends with OnClose.
//
// Observers registered with OnFrame, OnOpen, OnClose and OnError are called
// from the transport's delivery goroutine. They must not block for long;
// the session layer only uses them to enqueue work on its own event loop.
package link

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/securesignal/frame"
	"github.com/opd-ai/securesignal/limits"
	"github.com/opd-ai/securesignal/transport"
)

// State is the lifecycle state of a Link.
type State uint8

const (
	StateOpening State = iota
	StateOpen
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

var (
	// ErrLinkNotOpen indicates a send on a link that is not open.
	ErrLinkNotOpen = errors.New("link not open")

	// ErrTransport indicates the underlying connection failed.
	ErrTransport = errors.New("transport error")
)

// Error carries the operation and remote identity of a link failure.
type Error struct {
	Op     string
	Remote string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("link %s %s: %v", e.Op, e.Remote, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Link is one peer connection. It implements transport.Handler.
type Link struct {
	conn   transport.Conn
	remote string

	mu       sync.Mutex
	state    State
	notified bool // OnClose already fired
	onFrame  func(frame.Frame)
	onOpen   func()
	onClose  func()
	onError  func(error)
}

// New wraps conn. Observers should be registered before Attach is called.
func New(conn transport.Conn) *Link {
	return &Link{
		conn:   conn,
		remote: conn.RemoteIdentity(),
		state:  StateOpening,
	}
}

// Attach starts receiving transport events.
func (l *Link) Attach() {
	l.conn.SetHandler(l)
}

// Remote returns the identity at the other end.
func (l *Link) Remote() string { return l.remote }

// State returns the current lifecycle state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// OnFrame registers the observer for decoded frames.
func (l *Link) OnFrame(fn func(frame.Frame)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onFrame = fn
}

// OnOpen registers the observer for the transition to Open.
func (l *Link) OnOpen(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onOpen = fn
}

// OnClose registers the observer for the transition to Closed. It fires at
// most once.
func (l *Link) OnClose(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onClose = fn
}

// OnError registers the observer for transport failures and undecodable
// frames.
func (l *Link) OnError(fn func(error)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onError = fn
}

// Send encodes and writes a frame.
func (l *Link) Send(f frame.Frame) error {
	l.mu.Lock()
	state := l.state
	l.mu.Unlock()

	if state != StateOpen {
		return &Error{Op: "send", Remote: l.remote, Err: ErrLinkNotOpen}
	}

	data, err := frame.Encode(f)
	if err != nil {
		return &Error{Op: "encode", Remote: l.remote, Err: err}
	}
	// Oversized frames are the caller's problem; the link stays open.
	if err := limits.ValidateFrame(data); err != nil {
		return &Error{Op: "encode", Remote: l.remote, Err: err}
	}

	if err := l.conn.Send(data); err != nil {
		wrapped := &Error{Op: "send", Remote: l.remote, Err: fmt.Errorf("%w: %v", ErrTransport, err)}

		l.mu.Lock()
		if l.state == StateOpen {
			l.state = StateErrored
		}
		onError := l.onError
		l.mu.Unlock()

		logrus.WithFields(logrus.Fields{
			"function": "Link.Send",
			"remote":   l.remote,
			"kind":     f.Kind(),
			"error":    err.Error(),
		}).Warn("Transport write failed, closing link")

		if onError != nil {
			onError(wrapped)
		}
		l.abort()
		return wrapped
	}
	return nil
}

// abort tears down an errored link. The transport then delivers
// HandleClose, which moves the link to Closed and fires OnClose.
func (l *Link) abort() {
	if err := l.conn.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Link.abort",
			"remote":   l.remote,
			"error":    err.Error(),
		}).Debug("Close after write failure")
	}
}

// Close closes the link from any state. It is idempotent.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.state == StateClosed {
		l.mu.Unlock()
		return nil
	}
	l.state = StateClosed
	l.mu.Unlock()

	err := l.conn.Close()
	l.fireClose()
	return err
}

// HandleOpen implements transport.Handler.
func (l *Link) HandleOpen() {
	l.mu.Lock()
	if l.state != StateOpening {
		l.mu.Unlock()
		return
	}
	l.state = StateOpen
	onOpen := l.onOpen
	l.mu.Unlock()

	if onOpen != nil {
		onOpen()
	}
}

// HandleData implements transport.Handler.
func (l *Link) HandleData(data []byte) {
	l.mu.Lock()
	state := l.state
	onFrame := l.onFrame
	onError := l.onError
	l.mu.Unlock()

	if state != StateOpen {
		return
	}

	f, err := frame.Decode(data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Link.HandleData",
			"remote":   l.remote,
			"size":     len(data),
			"error":    err.Error(),
		}).Warn("Dropping malformed frame")
		if onError != nil {
			onError(&Error{Op: "decode", Remote: l.remote, Err: err})
		}
		return
	}

	if onFrame != nil {
		onFrame(f)
	}
}

// HandleError implements transport.Handler.
func (l *Link) HandleError(err error) {
	l.mu.Lock()
	if l.state == StateOpening || l.state == StateOpen {
		l.state = StateErrored
	}
	onError := l.onError
	l.mu.Unlock()

	if onError != nil {
		onError(&Error{Op: "transport", Remote: l.remote, Err: fmt.Errorf("%w: %v", ErrTransport, err)})
	}
}

// HandleClose implements transport.Handler.
func (l *Link) HandleClose() {
	l.mu.Lock()
	l.state = StateClosed
	l.mu.Unlock()

	l.fireClose()
}

func (l *Link) fireClose() {
	l.mu.Lock()
	if l.notified {
		l.mu.Unlock()
		return
	}
	l.notified = true
	onClose := l.onClose
	l.mu.Unlock()

	if onClose != nil {
		onClose()
	}
}
