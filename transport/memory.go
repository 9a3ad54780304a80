package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Hub is an in-process rendezvous for MemoryTransports. It plays the role
// of the signaling service: it assigns identities and pairs connections.
type Hub struct {
	mu    sync.Mutex
	nodes map[string]*MemoryTransport
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{nodes: make(map[string]*MemoryTransport)}
}

// NewTransport creates a transport attached to the hub. It has no identity
// until AssignOrRecoverIdentity is called.
func (h *Hub) NewTransport() *MemoryTransport {
	return &MemoryTransport{
		hub:   h,
		conns: make(map[*memConn]struct{}),
	}
}

func (h *Hub) claim(id string, t *MemoryTransport) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if owner, taken := h.nodes[id]; taken && owner != t {
		return fmt.Errorf("%w: %s", ErrIdentityUnavailable, id)
	}
	h.nodes[id] = t
	return nil
}

func (h *Hub) release(id string, t *MemoryTransport) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.nodes[id] == t {
		delete(h.nodes, id)
	}
}

func (h *Hub) lookup(id string) (*MemoryTransport, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.nodes[id]
	return t, ok
}

// MemoryTransport is a Transport whose connections are in-memory pipes.
// Each direction preserves message order.
type MemoryTransport struct {
	hub      *Hub
	mu       sync.Mutex
	identity string
	incoming func(Conn)
	conns    map[*memConn]struct{}
	closed   bool
}

// AssignOrRecoverIdentity claims preferred on the hub, or a random UUID when
// preferred is empty.
func (t *MemoryTransport) AssignOrRecoverIdentity(_ context.Context, preferred string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return "", ErrTransportClosed
	}

	id := preferred
	if id == "" {
		id = uuid.NewString()
	}
	if err := t.hub.claim(id, t); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "MemoryTransport.AssignOrRecoverIdentity",
			"identity": id,
		}).Warn("Identity already claimed")
		return "", err
	}
	if t.identity != "" && t.identity != id {
		t.hub.release(t.identity, t)
	}
	t.identity = id

	logrus.WithFields(logrus.Fields{
		"function": "MemoryTransport.AssignOrRecoverIdentity",
		"identity": id,
	}).Debug("Identity assigned")
	return id, nil
}

// OnIncomingLink registers the accept handler.
func (t *MemoryTransport) OnIncomingLink(handler func(Conn)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.incoming = handler
}

// Connect pairs a new connection with the transport that owns target.
func (t *MemoryTransport) Connect(ctx context.Context, target string) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

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

	remote, ok := t.hub.lookup(target)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPeerUnavailable, target)
	}

	remote.mu.Lock()
	accept := remote.incoming
	remoteClosed := remote.closed
	remote.mu.Unlock()
	if accept == nil || remoteClosed {
		return nil, fmt.Errorf("%w: %s is not accepting links", ErrPeerUnavailable, target)
	}

	dialer := &memConn{owner: t, remoteID: target, d: newDispatcher()}
	acceptor := &memConn{owner: remote, remoteID: local, d: newDispatcher()}
	dialer.peer = acceptor
	acceptor.peer = dialer

	t.track(dialer)
	remote.track(acceptor)

	// Open is queued on both ends before either side can send.
	dialer.d.push(event{kind: eventOpen})
	acceptor.d.push(event{kind: eventOpen})

	logrus.WithFields(logrus.Fields{
		"function": "MemoryTransport.Connect",
		"local":    local,
		"remote":   target,
	}).Debug("In-memory link created")

	accept(acceptor)
	return dialer, nil
}

// Close closes every connection and releases the identity.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conns := make([]*memConn, 0, len(t.conns))
	for c := range t.conns {
		conns = append(conns, c)
	}
	id := t.identity
	t.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	if id != "" {
		t.hub.release(id, t)
	}
	return nil
}

func (t *MemoryTransport) track(c *memConn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns[c] = struct{}{}
}

func (t *MemoryTransport) forget(c *memConn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.conns, c)
}

// memConn is one end of an in-memory pipe.
type memConn struct {
	owner    *MemoryTransport
	remoteID string
	peer     *memConn
	d        *dispatcher

	mu     sync.Mutex
	closed bool
}

func (c *memConn) RemoteIdentity() string { return c.remoteID }

func (c *memConn) SetHandler(h Handler) { c.d.start(h) }

func (c *memConn) Send(data []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrConnClosed
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	if !c.peer.d.push(event{kind: eventData, data: buf}) {
		return ErrConnClosed
	}
	return nil
}

// Close closes both ends; each side observes HandleClose.
func (c *memConn) Close() error {
	c.shutdown()
	c.peer.shutdown()
	return nil
}

func (c *memConn) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.d.push(event{kind: eventClose})
	c.owner.forget(c)
}
