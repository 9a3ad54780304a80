package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/opd-ai/securesignal/limits"
	"github.com/sirupsen/logrus"
)

// TCPOptions configures a TCPTransport.
type TCPOptions struct {
	// ListenHost is the interface fresh identities are bound to.
	ListenHost string
	// DialTimeout bounds Connect, including the identity hello.
	DialTimeout time.Duration
	// WriteTimeout bounds each Send.
	WriteTimeout time.Duration
}

// DefaultTCPOptions returns loopback-only options.
func DefaultTCPOptions() TCPOptions {
	return TCPOptions{
		ListenHost:   "127.0.0.1",
		DialTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

// TCPTransport carries frames over TCP. The identity of a node is the
// "host:port" it listens on; claiming a port that is in use fails with
// ErrIdentityUnavailable.
//
// Every message is prefixed with its length as a 4-byte big-endian integer.
// The first message a dialer sends is its own identity, so the acceptor can
// name the connection.
type TCPTransport struct {
	opts TCPOptions

	mu       sync.Mutex
	listener net.Listener
	identity string
	incoming func(Conn)
	conns    map[*tcpConn]struct{}
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewTCPTransport creates a transport. Nothing is bound until an identity is
// assigned.
func NewTCPTransport(opts TCPOptions) *TCPTransport {
	defaults := DefaultTCPOptions()
	if opts.ListenHost == "" {
		opts.ListenHost = defaults.ListenHost
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaults.DialTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &TCPTransport{
		opts:   opts,
		conns:  make(map[*tcpConn]struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// AssignOrRecoverIdentity listens on preferred, or on an ephemeral port of
// ListenHost when preferred is empty.
func (t *TCPTransport) AssignOrRecoverIdentity(ctx context.Context, preferred string) (string, error) {
	addr := preferred
	if addr == "" {
		addr = net.JoinHostPort(t.opts.ListenHost, "0")
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return "", fmt.Errorf("%w: %s", ErrIdentityUnavailable, addr)
		}
		return "", err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		listener.Close()
		return "", ErrTransportClosed
	}
	previous := t.listener
	t.listener = listener
	t.identity = listener.Addr().String()
	id := t.identity
	t.mu.Unlock()

	if previous != nil {
		previous.Close()
	}

	logrus.WithFields(logrus.Fields{
		"function": "TCPTransport.AssignOrRecoverIdentity",
		"identity": id,
	}).Info("Listening for peer links")

	go t.acceptConnections(listener)
	return id, nil
}

// OnIncomingLink registers the accept handler.
func (t *TCPTransport) OnIncomingLink(handler func(Conn)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.incoming = handler
}

// Connect dials target and announces the local identity.
func (t *TCPTransport) Connect(ctx context.Context, target string) (Conn, error) {
	t.mu.Lock()
	local := t.identity
	closed := t.closed
	t.mu.Unlock()

	if closed {
		return nil, ErrTransportClosed
	}
	if local == "" {
		return nil, ErrNoIdentity
	}

	ctx, cancel := context.WithTimeout(ctx, t.opts.DialTimeout)
	defer cancel()

	var dialer net.Dialer
	raw, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPeerUnavailable, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = raw.SetWriteDeadline(deadline)
	}
	if err := writeMessage(raw, []byte(local)); err != nil {
		raw.Close()
		return nil, fmt.Errorf("%w: hello: %v", ErrPeerUnavailable, err)
	}

	c := t.newConn(raw, target)
	c.d.push(event{kind: eventOpen})
	go c.readLoop()

	logrus.WithFields(logrus.Fields{
		"function": "TCPTransport.Connect",
		"local":    local,
		"remote":   target,
	}).Debug("TCP link established")
	return c, nil
}

// Close stops accepting and closes every connection.
func (t *TCPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.cancel()
	listener := t.listener
	conns := make([]*tcpConn, 0, len(t.conns))
	for c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	if listener != nil {
		return listener.Close()
	}
	return nil
}

// LocalAddr returns the listening address, or nil before an identity is
// assigned.
func (t *TCPTransport) LocalAddr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

func (t *TCPTransport) acceptConnections(listener net.Listener) {
	for {
		raw, err := listener.Accept()
		if err != nil {
			select {
			case <-t.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logrus.WithFields(logrus.Fields{
				"function": "TCPTransport.acceptConnections",
				"error":    err.Error(),
			}).Warn("Accept failed")
			continue
		}
		go t.handleIncoming(raw)
	}
}

// handleIncoming reads the dialer's identity hello and hands the connection
// to the accept handler.
func (t *TCPTransport) handleIncoming(raw net.Conn) {
	_ = raw.SetReadDeadline(time.Now().Add(t.opts.DialTimeout))
	hello, err := readMessage(raw)
	if err != nil || len(hello) == 0 {
		logrus.WithFields(logrus.Fields{
			"function": "TCPTransport.handleIncoming",
			"addr":     raw.RemoteAddr().String(),
		}).Warn("Dropping connection without identity hello")
		raw.Close()
		return
	}
	_ = raw.SetReadDeadline(time.Time{})

	t.mu.Lock()
	accept := t.incoming
	t.mu.Unlock()
	if accept == nil {
		raw.Close()
		return
	}

	c := t.newConn(raw, string(hello))
	c.d.push(event{kind: eventOpen})
	accept(c)
	go c.readLoop()
}

func (t *TCPTransport) newConn(raw net.Conn, remote string) *tcpConn {
	c := &tcpConn{owner: t, raw: raw, remoteID: remote, d: newDispatcher()}
	t.mu.Lock()
	t.conns[c] = struct{}{}
	t.mu.Unlock()
	return c
}

func (t *TCPTransport) forget(c *tcpConn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.conns, c)
}

type tcpConn struct {
	owner    *TCPTransport
	raw      net.Conn
	remoteID string
	d        *dispatcher

	writeMu   sync.Mutex
	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

func (c *tcpConn) RemoteIdentity() string { return c.remoteID }

func (c *tcpConn) SetHandler(h Handler) { c.d.start(h) }

func (c *tcpConn) Send(data []byte) error {
	if err := limits.ValidateFrame(data); err != nil {
		return err
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrConnClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.raw.SetWriteDeadline(time.Now().Add(c.owner.opts.WriteTimeout)); err != nil {
		return err
	}
	if err := writeMessage(c.raw, data); err != nil {
		// A partial write leaves the stream unframed.
		c.shutdown(nil)
		return err
	}
	return nil
}

func (c *tcpConn) Close() error {
	c.shutdown(nil)
	return nil
}

// shutdown closes the socket once and queues the terminal events.
func (c *tcpConn) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.raw.Close()
		if cause != nil {
			c.d.push(event{kind: eventError, err: cause})
		}
		c.d.push(event{kind: eventClose})
		c.owner.forget(c)
	})
}

func (c *tcpConn) readLoop() {
	for {
		data, err := readMessage(c.raw)
		if err != nil {
			c.mu.Lock()
			closedLocally := c.closed
			c.mu.Unlock()

			if closedLocally || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				c.shutdown(nil)
			} else {
				logrus.WithFields(logrus.Fields{
					"function": "tcpConn.readLoop",
					"remote":   c.remoteID,
					"error":    err.Error(),
				}).Warn("Read failed, closing link")
				c.shutdown(err)
			}
			return
		}
		c.d.push(event{kind: eventData, data: data})
	}
}

// writeMessage writes a length-prefixed message in a single write.
func writeMessage(w io.Writer, data []byte) error {
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)
	_, err := w.Write(buf)
	return err
}

// readMessage reads one length-prefixed message, rejecting lengths above
// limits.MaxFrameSize before allocating.
func readMessage(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > limits.MaxFrameSize {
		return nil, fmt.Errorf("%w: frame length %d", limits.ErrMessageTooLarge, length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}
