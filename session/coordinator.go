package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/securesignal/crypto"
	"github.com/opd-ai/securesignal/frame"
	"github.com/opd-ai/securesignal/limits"
	"github.com/opd-ai/securesignal/link"
	"github.com/opd-ai/securesignal/store"
	"github.com/opd-ai/securesignal/transport"
)

// Config selects the topology and, for members, the room to join.
type Config struct {
	Mode Mode
	// JoinRoom is the identity of the room host. Empty means this node
	// hosts.
	JoinRoom string
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithStateListener registers fn to receive every changed ConnectionState.
// It runs on the event loop and must not call blocking Coordinator methods.
func WithStateListener(fn func(ConnectionState)) Option {
	return func(c *Coordinator) { c.onState = fn }
}

// WithMessageListener registers fn to receive every appended message. It
// runs on the event loop and must not call blocking Coordinator methods.
func WithMessageListener(fn func(ChatMessage)) Option {
	return func(c *Coordinator) { c.onMessage = fn }
}

// WithIdentityStore sets the slot used to recover and save the identity.
func WithIdentityStore(s store.IdentityStore) Option {
	return func(c *Coordinator) { c.store = s }
}

// WithClock overrides the time source for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.clock = now }
}

// peer is one link owned by the coordinator.
type peer struct {
	remote  string
	link    *link.Link
	channel *crypto.SecureChannel
	open    bool
}

// Coordinator owns the session: its links, roster, state and message log.
// All mutations happen on a single event loop goroutine.
type Coordinator struct {
	cfg       Config
	transport transport.Transport
	strategy  Strategy
	store     store.IdentityStore
	clock     func() time.Time
	onState   func(ConnectionState)
	onMessage func(ChatMessage)

	loop *eventLoop
	log  *messageLog

	// Owned by the event loop.
	role    Role
	local   string
	room    string
	secure  bool
	status  Status
	lastErr string
	roster  roster
	peers   map[string]*peer
	started bool
	closed  bool

	mu        sync.RWMutex
	published ConnectionState
	closeOnce sync.Once
}

// New creates a coordinator over t. Start must be called before use.
func New(cfg Config, t transport.Transport, opts ...Option) (*Coordinator, error) {
	strategy, err := NewStrategy(cfg.Mode)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("%w: nil transport", ErrInvalidConfig)
	}

	c := &Coordinator{
		cfg:       cfg,
		transport: t,
		strategy:  strategy,
		store:     store.NewMemoryStore(),
		clock:     time.Now,
		log:       newMessageLog(),
		peers:     make(map[string]*peer),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.loop = newEventLoop()

	logrus.WithFields(logrus.Fields{
		"function": "New",
		"mode":     cfg.Mode,
		"strategy": strategy.Name(),
		"joining":  cfg.JoinRoom != "",
	}).Debug("Session coordinator created")
	return c, nil
}

// Start acquires an identity and assumes the configured role. A member
// then dials the room host; a failure to reach it is returned but leaves
// the session usable for a later Connect.
func (c *Coordinator) Start(ctx context.Context) error {
	var startErr error
	if err := c.loop.call(ctx, func() {
		switch {
		case c.closed:
			startErr = ErrClosed
		case c.started:
			startErr = ErrAlreadyStarted
		default:
			c.started = true
		}
	}); err != nil {
		return err
	}
	if startErr != nil {
		return startErr
	}

	c.transport.OnIncomingLink(c.incoming)

	identity, recovered, err := c.acquireIdentity(ctx)
	if err != nil {
		_ = c.loop.call(context.Background(), func() {
			c.status = StatusDisconnected
			c.reportError("Could not obtain an identity. Restart the application to try again.", err)
			c.commit()
		})
		return err
	}

	if err := c.loop.call(ctx, func() {
		c.local = identity
		c.role = RoleHost
		if c.cfg.JoinRoom != "" {
			c.role = RoleMember
		}
		if !recovered {
			c.notice("Your previous ID was in use. A new ID has been assigned.")
		}
		c.strategy.start(c)
		c.commit()
	}); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Start",
		"identity": identity,
		"mode":     c.cfg.Mode,
	}).Info("Session started")

	if c.cfg.JoinRoom != "" {
		return c.Connect(ctx, c.cfg.JoinRoom)
	}
	return nil
}

// acquireIdentity offers the saved identity first. When it is taken the
// transport is asked exactly once more for a fresh one. recovered is false
// only when that retry was needed.
func (c *Coordinator) acquireIdentity(ctx context.Context) (string, bool, error) {
	preferred, err := c.store.Load()
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		logrus.WithFields(logrus.Fields{
			"function": "acquireIdentity",
			"error":    err.Error(),
		}).Warn("Could not load saved identity")
	}

	recovered := true
	identity, err := c.transport.AssignOrRecoverIdentity(ctx, preferred)
	if errors.Is(err, transport.ErrIdentityUnavailable) {
		logrus.WithFields(logrus.Fields{
			"function":  "acquireIdentity",
			"preferred": preferred,
		}).Warn("Identity unavailable, requesting a fresh one")

		recovered = false
		identity, err = c.transport.AssignOrRecoverIdentity(ctx, "")
	}
	if err != nil {
		return "", false, fmt.Errorf("acquire identity: %w", err)
	}

	if err := c.store.Save(identity); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "acquireIdentity",
			"error":    err.Error(),
		}).Warn("Could not save identity")
	}
	return identity, recovered, nil
}

// Connect opens a link to target.
func (c *Coordinator) Connect(ctx context.Context, target string) error {
	var dialErr error
	if err := c.loop.call(ctx, func() { dialErr = c.checkDial(target) }); err != nil {
		return err
	}
	if dialErr != nil {
		return dialErr
	}

	conn, err := c.transport.Connect(ctx, target)
	if err != nil {
		wrapped := fmt.Errorf("connect to %s: %w", DisplayLabel(target), err)
		_ = c.loop.call(context.Background(), func() {
			c.reportError(fmt.Sprintf("Could not reach %s.", DisplayLabel(target)), wrapped)
			c.commit()
		})
		return wrapped
	}

	err = c.loop.call(context.Background(), func() {
		if dialErr = c.checkDial(target); dialErr != nil {
			_ = conn.Close()
			return
		}
		c.strategy.dialed(c, target)
		c.attach(conn)
		c.commit()
	})
	if err != nil {
		_ = conn.Close()
		return err
	}
	return dialErr
}

func (c *Coordinator) checkDial(target string) error {
	switch {
	case c.closed:
		return ErrClosed
	case c.local == "":
		return ErrNotStarted
	case target == "":
		return fmt.Errorf("%w: empty target", transport.ErrPeerUnavailable)
	case target == c.local:
		return ErrSelfConnect
	}
	return c.strategy.canDial(c)
}

// SendText sends text to the session and returns the local copy appended
// to the log.
func (c *Coordinator) SendText(ctx context.Context, text string) (ChatMessage, error) {
	if err := limits.ValidateTextMessage(text); err != nil {
		return ChatMessage{}, err
	}

	var (
		msg     ChatMessage
		sendErr error
	)
	if err := c.loop.call(ctx, func() {
		switch {
		case c.closed:
			sendErr = ErrClosed
		case c.local == "":
			sendErr = ErrNotStarted
		default:
			msg, sendErr = c.strategy.sendText(c, text)
			c.commit()
		}
	}); err != nil {
		return ChatMessage{}, err
	}
	return msg, sendErr
}

// Disconnect closes every link, drops the encryption state and clears the
// message log. The identity is kept.
func (c *Coordinator) Disconnect() error {
	return c.loop.call(context.Background(), func() {
		if c.closed {
			return
		}
		c.closeAll()
		c.lastErr = ""
		c.log.clear()
		c.commit()
	})
}

// ClearMessages empties the message log without touching links.
func (c *Coordinator) ClearMessages() {
	_ = c.loop.call(context.Background(), func() {
		c.log.clear()
		c.commit()
	})
}

// State returns the last committed snapshot.
func (c *Coordinator) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	state := c.published
	state.Roster = append([]string(nil), c.published.Roster...)
	return state
}

// Messages returns a copy of the message log.
func (c *Coordinator) Messages() []ChatMessage {
	return c.log.snapshot()
}

// TextContents returns the text messages as "sender: content" lines, the
// input expected by the summarizer.
func (c *Coordinator) TextContents() []string {
	return lo.Map(c.log.texts(), func(m ChatMessage, _ int) string {
		sender := m.SenderIdentity
		if m.SenderRole == SenderMe {
			sender = "Me"
		}
		return fmt.Sprintf("%s: %s", sender, m.Content)
	})
}

// Close shuts the session down and closes the transport. It is
// idempotent.
func (c *Coordinator) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.loop.call(context.Background(), func() {
			c.closed = true
			c.closeAll()
			c.commit()
		})
		err = c.transport.Close()
		c.loop.stop()

		logrus.WithFields(logrus.Fields{
			"function": "Close",
			"identity": c.local,
		}).Info("Session closed")
	})
	return err
}

// incoming is the transport accept callback.
func (c *Coordinator) incoming(conn transport.Conn) {
	if !c.loop.post(func() {
		if c.closed || c.local == "" {
			_ = conn.Close()
			return
		}
		if c.duplicate(conn) || !c.strategy.accept(c, conn) {
			_ = conn.Close()
			c.commit()
			return
		}
		c.attach(conn)
		c.commit()
	}) {
		_ = conn.Close()
	}
}

// duplicate reports whether conn claims an identity that already has a
// link. The existing link is kept.
func (c *Coordinator) duplicate(conn transport.Conn) bool {
	remote := conn.RemoteIdentity()
	if _, ok := c.peers[remote]; !ok {
		return false
	}

	logrus.WithFields(logrus.Fields{
		"function": "duplicate",
		"remote":   remote,
	}).Warn("Refusing second link for connected identity")
	c.notice(fmt.Sprintf("Refused a second connection claiming to be %s.", DisplayLabel(remote)))
	return true
}

// attach wires a new link into the event loop. Callers make sure no link to
// the same identity exists.
func (c *Coordinator) attach(conn transport.Conn) {
	remote := conn.RemoteIdentity()
	p := &peer{remote: remote, link: link.New(conn)}
	p.link.OnOpen(func() {
		c.loop.post(func() { c.handleOpen(p) })
	})
	p.link.OnFrame(func(f frame.Frame) {
		c.loop.post(func() { c.handleFrame(p, f) })
	})
	p.link.OnClose(func() {
		c.loop.post(func() { c.handleClose(p) })
	})
	p.link.OnError(func(err error) {
		c.loop.post(func() { c.handleError(p, err) })
	})

	c.peers[remote] = p
	if c.status == StatusDisconnected {
		c.status = StatusConnecting
	}

	logrus.WithFields(logrus.Fields{
		"function": "attach",
		"remote":   remote,
	}).Debug("Link attached")

	p.link.Attach()
}

func (c *Coordinator) current(p *peer) bool {
	return !c.closed && c.peers[p.remote] == p
}

func (c *Coordinator) handleOpen(p *peer) {
	if !c.current(p) {
		return
	}
	p.open = true
	c.strategy.linkOpened(c, p)
	c.commit()
}

func (c *Coordinator) handleFrame(p *peer, f frame.Frame) {
	if !c.current(p) || !p.open {
		return
	}
	c.strategy.frameReceived(c, p, f)
	c.commit()
}

func (c *Coordinator) handleClose(p *peer) {
	if !c.current(p) {
		return
	}
	delete(c.peers, p.remote)
	p.open = false
	if p.channel != nil {
		p.channel.Close()
	}

	logrus.WithFields(logrus.Fields{
		"function": "handleClose",
		"remote":   p.remote,
	}).Info("Link closed")

	c.strategy.linkClosed(c, p)
	c.commit()
}

func (c *Coordinator) handleError(p *peer, err error) {
	if !c.current(p) {
		return
	}
	label := DisplayLabel(p.remote)
	if errors.Is(err, frame.ErrMalformedFrame) {
		c.reportError(fmt.Sprintf("Received an unreadable message from %s.", label), err)
	} else {
		c.reportError(fmt.Sprintf("Connection problem with %s.", label), err)
	}
	c.commit()
}

// dropPeer forgets p without running the strategy's close handling.
func (c *Coordinator) dropPeer(p *peer) {
	delete(c.peers, p.remote)
	p.open = false
	if p.channel != nil {
		p.channel.Close()
	}
	_ = p.link.Close()
}

// closeAll drops every link and returns to the disconnected state.
func (c *Coordinator) closeAll() {
	for _, p := range lo.Values(c.peers) {
		c.dropPeer(p)
	}
	c.roster.clear()
	c.secure = false
	c.status = StatusDisconnected
}

// openPeers returns the open links in roster order.
func (c *Coordinator) openPeers() []*peer {
	return lo.FilterMap(c.roster.list(), func(id string, _ int) (*peer, bool) {
		p, ok := c.peers[id]
		return p, ok && p.open
	})
}

func (c *Coordinator) send(p *peer, f frame.Frame) error {
	if err := p.link.Send(f); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "send",
			"remote":   p.remote,
			"kind":     f.Kind(),
			"error":    err.Error(),
		}).Warn("Frame not sent")
		return err
	}
	return nil
}

// fits rejects a frame that would exceed the wire limit before any link
// sees it.
func (c *Coordinator) fits(f frame.Frame) error {
	data, err := frame.Encode(f)
	if err != nil {
		return err
	}
	return limits.ValidateFrame(data)
}

func (c *Coordinator) appendMessage(msg ChatMessage) (ChatMessage, bool) {
	stored, ok := c.log.append(msg)
	if ok && c.onMessage != nil {
		c.onMessage(stored)
	}
	return stored, ok
}

func (c *Coordinator) newTextMessage(text string) ChatMessage {
	return ChatMessage{
		ID:         uuid.NewString(),
		SenderRole: SenderMe,
		Origin:     c.local,
		Content:    text,
		Timestamp:  c.clock(),
		Kind:       KindText,
	}
}

// notice appends a system message.
func (c *Coordinator) notice(text string) {
	c.appendMessage(ChatMessage{
		ID:         uuid.NewString(),
		SenderRole: SenderSystem,
		Content:    text,
		Timestamp:  c.clock(),
		Kind:       KindSystem,
	})
}

// reportError records err in the state and tells the user about it.
func (c *Coordinator) reportError(text string, err error) {
	c.lastErr = err.Error()
	c.notice(text)

	logrus.WithFields(logrus.Fields{
		"function": "reportError",
		"identity": c.local,
		"error":    err.Error(),
	}).Warn(text)
}

// commit publishes the current state and notifies the listener when it
// changed.
func (c *Coordinator) commit() {
	state := ConnectionState{
		Role:          c.role,
		LocalIdentity: c.local,
		RoomIdentity:  c.room,
		Secure:        c.secure,
		Status:        c.status,
		Error:         c.lastErr,
		Roster:        c.roster.list(),
	}

	c.mu.Lock()
	changed := !state.equal(c.published)
	c.published = state
	c.mu.Unlock()

	if changed && c.onState != nil {
		c.onState(ConnectionState{
			Role:          state.Role,
			LocalIdentity: state.LocalIdentity,
			RoomIdentity:  state.RoomIdentity,
			Secure:        state.Secure,
			Status:        state.Status,
			Error:         state.Error,
			Roster:        append([]string(nil), state.Roster...),
		})
	}
}
