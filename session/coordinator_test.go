package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/securesignal/limits"
	"github.com/opd-ai/securesignal/store"
	"github.com/opd-ai/securesignal/transport"
)

// collidingTransport reports every identity as taken.
type collidingTransport struct {
	*transport.MemoryTransport
	calls     atomic.Int32
	preferred []string
	mu        sync.Mutex
}

func (c *collidingTransport) AssignOrRecoverIdentity(_ context.Context, preferred string) (string, error) {
	c.calls.Add(1)
	c.mu.Lock()
	c.preferred = append(c.preferred, preferred)
	c.mu.Unlock()
	return "", transport.ErrIdentityUnavailable
}

func TestNewRejectsUnknownMode(t *testing.T) {
	_, err := New(Config{Mode: "mesh"}, transport.NewHub().NewTransport())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(Config{Mode: ModeGroup}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewStrategy(t *testing.T) {
	s, err := NewStrategy(ModeDirect)
	require.NoError(t, err)
	assert.IsType(t, &TwoPartySecureStrategy{}, s)

	s, err = NewStrategy(ModeGroup)
	require.NoError(t, err)
	assert.IsType(t, &StarTopologyStrategy{}, s)
}

func TestIdentityRecoveredFromStore(t *testing.T) {
	slot := store.NewMemoryStore()
	require.NoError(t, slot.Save("saved-identity"))

	c := startNode(t, transport.NewHub(), Config{Mode: ModeGroup}, WithIdentityStore(slot))
	assert.Equal(t, "saved-identity", c.State().LocalIdentity)
	assert.False(t, hasMessage(c, "previous ID"))
}

func TestIdentityRetriedOnceWhenTaken(t *testing.T) {
	hub := transport.NewHub()
	first := startNode(t, hub, Config{Mode: ModeGroup}, WithIdentityStore(store.NewMemoryStore()))
	taken := first.State().LocalIdentity

	slot := store.NewMemoryStore()
	require.NoError(t, slot.Save(taken))

	second := startNode(t, hub, Config{Mode: ModeGroup}, WithIdentityStore(slot))
	fresh := second.State().LocalIdentity
	assert.NotEmpty(t, fresh)
	assert.NotEqual(t, taken, fresh)
	assert.True(t, hasMessage(second, "previous ID was in use"))

	saved, err := slot.Load()
	require.NoError(t, err)
	assert.Equal(t, fresh, saved)
}

func TestIdentityUnavailableTwiceIsFatal(t *testing.T) {
	slot := store.NewMemoryStore()
	require.NoError(t, slot.Save("wanted"))

	tr := &collidingTransport{MemoryTransport: transport.NewHub().NewTransport()}
	c, err := New(Config{Mode: ModeGroup}, tr, WithIdentityStore(slot))
	require.NoError(t, err)
	defer c.Close()

	err = c.Start(context.Background())
	require.ErrorIs(t, err, transport.ErrIdentityUnavailable)
	assert.Equal(t, int32(2), tr.calls.Load())
	assert.Equal(t, []string{"wanted", ""}, tr.preferred)

	state := c.State()
	assert.NotEmpty(t, state.Error)
	assert.Equal(t, StatusDisconnected, state.Status)
	assert.Empty(t, state.LocalIdentity)
	assert.True(t, hasMessage(c, "Could not obtain an identity"))

	_, err = c.SendText(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestStartTwice(t *testing.T) {
	c := startNode(t, transport.NewHub(), Config{Mode: ModeGroup})
	assert.ErrorIs(t, c.Start(context.Background()), ErrAlreadyStarted)
}

func TestConnectValidation(t *testing.T) {
	hub := transport.NewHub()
	ctx := context.Background()

	unstarted := newNode(t, hub, Config{Mode: ModeDirect})
	assert.ErrorIs(t, unstarted.Connect(ctx, "anyone"), ErrNotStarted)

	c := startNode(t, hub, Config{Mode: ModeDirect})
	assert.ErrorIs(t, c.Connect(ctx, c.State().LocalIdentity), ErrSelfConnect)
	assert.ErrorIs(t, c.Connect(ctx, ""), transport.ErrPeerUnavailable)
}

func TestConnectUnknownPeerIsNotFatal(t *testing.T) {
	c := startNode(t, transport.NewHub(), Config{Mode: ModeDirect})

	err := c.Connect(context.Background(), "nobody-home")
	require.ErrorIs(t, err, transport.ErrPeerUnavailable)

	state := c.State()
	assert.Equal(t, StatusDisconnected, state.Status)
	assert.NotEmpty(t, state.Error)
	assert.True(t, hasMessage(c, "Could not reach"))
}

func TestMemberStartReportsUnreachableRoom(t *testing.T) {
	c := newNode(t, transport.NewHub(), Config{Mode: ModeGroup, JoinRoom: "missing-room"})

	err := c.Start(context.Background())
	require.ErrorIs(t, err, transport.ErrPeerUnavailable)

	state := c.State()
	assert.Equal(t, RoleMember, state.Role)
	assert.Equal(t, "missing-room", state.RoomIdentity)
	assert.Equal(t, StatusDisconnected, state.Status)
}

func TestSendTextValidatesSize(t *testing.T) {
	c := startNode(t, transport.NewHub(), Config{Mode: ModeGroup})
	ctx := context.Background()

	_, err := c.SendText(ctx, "")
	assert.ErrorIs(t, err, limits.ErrMessageEmpty)

	big := make([]byte, limits.MaxTextMessage+1)
	for i := range big {
		big[i] = 'a'
	}
	_, err = c.SendText(ctx, string(big))
	assert.ErrorIs(t, err, limits.ErrMessageTooLarge)
}

func TestListenersSeeEveryChange(t *testing.T) {
	var (
		mu       sync.Mutex
		states   []ConnectionState
		messages []ChatMessage
	)
	c := startNode(t, transport.NewHub(), Config{Mode: ModeGroup},
		WithStateListener(func(s ConnectionState) {
			mu.Lock()
			defer mu.Unlock()
			states = append(states, s)
		}),
		WithMessageListener(func(m ChatMessage) {
			mu.Lock()
			defer mu.Unlock()
			messages = append(messages, m)
		}),
	)

	_, err := c.SendText(context.Background(), "note to self")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, states)
	last := states[len(states)-1]
	assert.Equal(t, StatusConnected, last.Status)
	assert.Equal(t, c.State().LocalIdentity, last.LocalIdentity)
	require.Len(t, messages, 1)
	assert.Equal(t, "note to self", messages[0].Content)
}

func TestStateIsASnapshot(t *testing.T) {
	hub := transport.NewHub()
	host := startNode(t, hub, Config{Mode: ModeGroup})
	joinRoom(t, hub, host)

	state := host.State()
	state.Roster[0] = "tampered"
	assert.NotEqual(t, "tampered", host.State().Roster[0])
}

func TestTimestampsNeverDecrease(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	var tick atomic.Int64
	clock := func() time.Time {
		// Runs backwards
		return base.Add(-time.Duration(tick.Add(1)) * time.Second)
	}

	c := startNode(t, transport.NewHub(), Config{Mode: ModeGroup}, WithClock(clock))
	ctx := context.Background()
	for _, text := range []string{"one", "two", "three"} {
		_, err := c.SendText(ctx, text)
		require.NoError(t, err)
	}

	msgs := c.Messages()
	require.Len(t, msgs, 3)
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].Timestamp.Before(msgs[i-1].Timestamp))
	}
}

func TestClearMessagesKeepsSession(t *testing.T) {
	hub := transport.NewHub()
	host := startNode(t, hub, Config{Mode: ModeGroup})
	member := joinRoom(t, hub, host)

	_, err := host.SendText(context.Background(), "to be cleared")
	require.NoError(t, err)
	host.ClearMessages()

	assert.Empty(t, host.Messages())
	assert.Equal(t, StatusConnected, host.State().Status)
	assert.Equal(t, []string{member.State().LocalIdentity}, host.State().Roster)
}

func TestClearMessagesRunsOnLoop(t *testing.T) {
	hub := transport.NewHub()
	host := startNode(t, hub, Config{Mode: ModeGroup})
	member := joinRoom(t, hub, host)
	ctx := context.Background()

	_, err := member.SendText(ctx, "before")
	require.NoError(t, err)
	eventually(t, func() bool { return hasMessage(host, "before") })

	host.ClearMessages()
	assert.Empty(t, host.Messages())

	_, err = member.SendText(ctx, "after")
	require.NoError(t, err)
	eventually(t, func() bool { return hasMessage(host, "after") })
	assert.Equal(t, []string{"after"}, textContents(host))

	require.NoError(t, host.Close())
	done := make(chan struct{})
	go func() {
		host.ClearMessages()
		close(done)
	}()
	select {
	case <-done:
	case <-waitAfter():
		t.Fatal("ClearMessages blocked after Close")
	}
}

func TestTextContents(t *testing.T) {
	hub := transport.NewHub()
	host := startNode(t, hub, Config{Mode: ModeGroup})
	member := joinRoom(t, hub, host)
	ctx := context.Background()

	_, err := member.SendText(ctx, "ping")
	require.NoError(t, err)
	eventually(t, func() bool { return hasMessage(host, "ping") })
	_, err = host.SendText(ctx, "pong")
	require.NoError(t, err)

	assert.Equal(t, []string{
		DisplayLabel(member.State().LocalIdentity) + ": ping",
		"Me: pong",
	}, host.TextContents())
}

func TestCloseIsIdempotent(t *testing.T) {
	c := startNode(t, transport.NewHub(), Config{Mode: ModeGroup})

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err := c.SendText(context.Background(), "after close")
	assert.True(t, errors.Is(err, ErrClosed))
	assert.ErrorIs(t, c.Disconnect(), ErrClosed)
	assert.Equal(t, StatusDisconnected, c.State().Status)
}

func TestDisplayLabel(t *testing.T) {
	assert.Equal(t, "abcdefgh", DisplayLabel("abcdefghijkl"))
	assert.Equal(t, "abc", DisplayLabel("abc"))
	assert.Equal(t, "", DisplayLabel(""))
}
