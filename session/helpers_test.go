package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opd-ai/securesignal/frame"
	"github.com/opd-ai/securesignal/transport"
)

const (
	waitTimeout = 3 * time.Second
	waitTick    = 5 * time.Millisecond
)

func waitAfter() <-chan time.Time {
	return time.After(waitTimeout)
}

func newNode(t *testing.T, hub *transport.Hub, cfg Config, opts ...Option) *Coordinator {
	t.Helper()

	c, err := New(cfg, hub.NewTransport(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func startNode(t *testing.T, hub *transport.Hub, cfg Config, opts ...Option) *Coordinator {
	t.Helper()

	c := newNode(t, hub, cfg, opts...)
	require.NoError(t, c.Start(context.Background()))
	return c
}

func eventually(t *testing.T, cond func() bool, msgAndArgs ...interface{}) {
	t.Helper()
	require.Eventually(t, cond, waitTimeout, waitTick, msgAndArgs...)
}

// findMessage returns the first message whose content contains substr.
func findMessage(c *Coordinator, substr string) (ChatMessage, bool) {
	for _, m := range c.Messages() {
		if strings.Contains(m.Content, substr) {
			return m, true
		}
	}
	return ChatMessage{}, false
}

func hasMessage(c *Coordinator, substr string) bool {
	_, ok := findMessage(c, substr)
	return ok
}

func countMessages(c *Coordinator, content string) int {
	n := 0
	for _, m := range c.Messages() {
		if m.Content == content {
			n++
		}
	}
	return n
}

func textContents(c *Coordinator) []string {
	var out []string
	for _, m := range c.Messages() {
		if m.Kind == KindText {
			out = append(out, m.Content)
		}
	}
	return out
}

// rawPeer drives one end of a link by hand.
type rawPeer struct {
	transport *transport.MemoryTransport
	identity  string
	conn      transport.Conn
	opened    chan struct{}
	frames    chan frame.Frame
	closed    chan struct{}
}

func dialRaw(t *testing.T, hub *transport.Hub, target string) *rawPeer {
	t.Helper()

	tr := hub.NewTransport()
	t.Cleanup(func() { _ = tr.Close() })

	id, err := tr.AssignOrRecoverIdentity(context.Background(), "")
	require.NoError(t, err)

	return redialRaw(t, tr, id, target)
}

// redialRaw opens another link from an existing raw transport.
func redialRaw(t *testing.T, tr *transport.MemoryTransport, id, target string) *rawPeer {
	t.Helper()

	conn, err := tr.Connect(context.Background(), target)
	require.NoError(t, err)

	r := &rawPeer{
		transport: tr,
		identity:  id,
		conn:      conn,
		opened:    make(chan struct{}),
		frames:    make(chan frame.Frame, 64),
		closed:    make(chan struct{}),
	}
	conn.SetHandler(r)

	select {
	case <-r.opened:
	case <-time.After(waitTimeout):
		t.Fatal("raw link never opened")
	}
	return r
}

func (r *rawPeer) HandleOpen() { close(r.opened) }

func (r *rawPeer) HandleData(data []byte) {
	if f, err := frame.Decode(data); err == nil {
		r.frames <- f
	}
}

func (r *rawPeer) HandleClose() { close(r.closed) }

func (r *rawPeer) HandleError(error) {}

func (r *rawPeer) send(t *testing.T, f frame.Frame) {
	t.Helper()
	data, err := frame.Encode(f)
	require.NoError(t, err)
	require.NoError(t, r.conn.Send(data))
}

// next waits for the next frame of kind k, skipping others.
func (r *rawPeer) next(t *testing.T, k frame.Kind) frame.Frame {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case f := <-r.frames:
			if f.Kind() == k {
				return f
			}
		case <-deadline:
			t.Fatalf("no %s frame received", k)
			return nil
		}
	}
}
