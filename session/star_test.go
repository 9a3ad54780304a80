package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/securesignal/frame"
	"github.com/opd-ai/securesignal/transport"
)

func joinRoom(t *testing.T, hub *transport.Hub, host *Coordinator) *Coordinator {
	t.Helper()

	before := len(host.State().Roster)
	member := startNode(t, hub, Config{Mode: ModeGroup, JoinRoom: host.State().LocalIdentity})
	eventually(t, func() bool {
		return member.State().Status == StatusConnected && len(host.State().Roster) == before+1
	}, "member did not join")
	return member
}

func TestGroupHostConnectedImmediately(t *testing.T) {
	host := startNode(t, transport.NewHub(), Config{Mode: ModeGroup})

	state := host.State()
	assert.Equal(t, RoleHost, state.Role)
	assert.Equal(t, StatusConnected, state.Status)
	assert.Equal(t, state.LocalIdentity, state.RoomIdentity)
	assert.False(t, state.Secure)

	err := host.Connect(context.Background(), "somebody")
	assert.ErrorIs(t, err, ErrHostCannotDial)
}

func TestGroupRelayReachesOthersOnly(t *testing.T) {
	hub := transport.NewHub()
	host := startNode(t, hub, Config{Mode: ModeGroup})
	b := joinRoom(t, hub, host)
	c := joinRoom(t, hub, host)
	ctx := context.Background()

	assert.Equal(t, []string{b.State().LocalIdentity, c.State().LocalIdentity}, host.State().Roster)

	sent, err := b.SendText(ctx, "hi from B")
	require.NoError(t, err)
	assert.Equal(t, SenderMe, sent.SenderRole)
	assert.False(t, sent.Encrypted)

	eventually(t, func() bool { return hasMessage(host, "hi from B") && hasMessage(c, "hi from B") })

	bLabel := DisplayLabel(b.State().LocalIdentity)
	atHost, _ := findMessage(host, "hi from B")
	assert.Equal(t, SenderPeer, atHost.SenderRole)
	assert.Equal(t, bLabel, atHost.SenderIdentity)
	assert.Equal(t, sent.ID, atHost.ID)

	atC, _ := findMessage(c, "hi from B")
	assert.Equal(t, SenderPeer, atC.SenderRole)
	assert.Equal(t, bLabel, atC.SenderIdentity)
	assert.False(t, atC.Encrypted)

	// Anything the host would have echoed to B arrives before C's reply.
	_, err = c.SendText(ctx, "hi from C")
	require.NoError(t, err)
	eventually(t, func() bool { return hasMessage(b, "hi from C") })
	assert.Equal(t, 1, countMessages(b, "hi from B"))
	assert.Equal(t, 1, countMessages(c, "hi from C"))
}

func TestGroupHostMessageReachesEveryMember(t *testing.T) {
	hub := transport.NewHub()
	host := startNode(t, hub, Config{Mode: ModeGroup})
	b := joinRoom(t, hub, host)
	c := joinRoom(t, hub, host)

	_, err := host.SendText(context.Background(), "welcome all")
	require.NoError(t, err)

	eventually(t, func() bool { return hasMessage(b, "welcome all") && hasMessage(c, "welcome all") })
	got, _ := findMessage(b, "welcome all")
	assert.Equal(t, DisplayLabel(host.State().LocalIdentity), got.SenderIdentity)
	assert.Equal(t, 1, countMessages(host, "welcome all"))
}

func TestGroupLateJoinerReplay(t *testing.T) {
	hub := transport.NewHub()
	host := startNode(t, hub, Config{Mode: ModeGroup})
	b := joinRoom(t, hub, host)
	ctx := context.Background()

	_, err := b.SendText(ctx, "first")
	require.NoError(t, err)
	_, err = b.SendText(ctx, "second")
	require.NoError(t, err)
	_, err = host.SendText(ctx, "third")
	require.NoError(t, err)
	eventually(t, func() bool { return len(textContents(host)) == 3 })

	c := joinRoom(t, hub, host)
	eventually(t, func() bool { return len(textContents(c)) == 3 })
	assert.Equal(t, []string{"first", "second", "third"}, textContents(c))

	first, _ := findMessage(c, "first")
	assert.Equal(t, DisplayLabel(b.State().LocalIdentity), first.SenderIdentity)
	third, _ := findMessage(c, "third")
	assert.Equal(t, DisplayLabel(host.State().LocalIdentity), third.SenderIdentity)

	_, err = b.SendText(ctx, "live")
	require.NoError(t, err)
	eventually(t, func() bool { return hasMessage(c, "live") })
	assert.Equal(t, []string{"first", "second", "third", "live"}, textContents(c))
}

func TestGroupReplayOfOwnMessages(t *testing.T) {
	hub := transport.NewHub()
	host := startNode(t, hub, Config{Mode: ModeGroup})
	b := joinRoom(t, hub, host)

	_, err := b.SendText(context.Background(), "mine")
	require.NoError(t, err)
	eventually(t, func() bool { return hasMessage(host, "mine") })

	// After a reconnect the replayed copy of our own message is labelled as ours.
	require.NoError(t, b.Disconnect())
	eventually(t, func() bool { return len(host.State().Roster) == 0 })
	require.NoError(t, b.Connect(context.Background(), host.State().LocalIdentity))

	eventually(t, func() bool { return hasMessage(b, "mine") })
	got, _ := findMessage(b, "mine")
	assert.Equal(t, SenderMe, got.SenderRole)
	assert.Empty(t, got.SenderIdentity)
}

func TestGroupHostStampsOrigin(t *testing.T) {
	hub := transport.NewHub()
	host := startNode(t, hub, Config{Mode: ModeGroup})
	c := joinRoom(t, hub, host)

	raw := dialRaw(t, hub, host.State().LocalIdentity)
	eventually(t, func() bool { return len(host.State().Roster) == 2 })

	raw.send(t, frame.Relay{Payload: frame.GroupPayload{
		ID:        "spoof-1",
		Content:   "trust me",
		Timestamp: 1,
		Kind:      frame.PayloadText,
		From:      host.State().LocalIdentity,
	}})

	eventually(t, func() bool { return hasMessage(c, "trust me") })
	got, _ := findMessage(c, "trust me")
	assert.Equal(t, raw.identity, got.Origin)
	assert.Equal(t, DisplayLabel(raw.identity), got.SenderIdentity)

	atHost, _ := findMessage(host, "trust me")
	assert.Equal(t, raw.identity, atHost.Origin)
}

func TestGroupHostIgnoresMemberSystemRelay(t *testing.T) {
	hub := transport.NewHub()
	host := startNode(t, hub, Config{Mode: ModeGroup})
	raw := dialRaw(t, hub, host.State().LocalIdentity)
	eventually(t, func() bool { return len(host.State().Roster) == 1 })

	raw.send(t, frame.Relay{Payload: frame.GroupPayload{ID: "s1", Content: "fake notice", Kind: frame.PayloadSystem}})
	raw.send(t, frame.Relay{Payload: frame.GroupPayload{ID: "t1", Content: "real", Kind: frame.PayloadText}})

	eventually(t, func() bool { return hasMessage(host, "real") })
	assert.False(t, hasMessage(host, "fake notice"))
}

func TestGroupMemberLeaves(t *testing.T) {
	hub := transport.NewHub()
	host := startNode(t, hub, Config{Mode: ModeGroup})
	b := joinRoom(t, hub, host)
	c := joinRoom(t, hub, host)

	require.NoError(t, b.Close())

	eventually(t, func() bool { return len(host.State().Roster) == 1 })
	state := host.State()
	assert.Equal(t, StatusConnected, state.Status)
	assert.Equal(t, []string{c.State().LocalIdentity}, state.Roster)
	assert.True(t, hasMessage(host, "left the room"))

	// The room keeps working for the remaining member
	_, err := host.SendText(context.Background(), "still here")
	require.NoError(t, err)
	eventually(t, func() bool { return hasMessage(c, "still here") })
}

func TestGroupHostLeaves(t *testing.T) {
	hub := transport.NewHub()
	host := startNode(t, hub, Config{Mode: ModeGroup})
	b := joinRoom(t, hub, host)

	require.NoError(t, host.Close())

	eventually(t, func() bool { return b.State().Status == StatusDisconnected })
	assert.Empty(t, b.State().Roster)
	assert.True(t, hasMessage(b, "Lost connection"))

	_, err := b.SendText(context.Background(), "hello?")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestGroupMemberRefusesIncoming(t *testing.T) {
	hub := transport.NewHub()
	host := startNode(t, hub, Config{Mode: ModeGroup})
	b := joinRoom(t, hub, host)

	raw := dialRaw(t, hub, b.State().LocalIdentity)
	select {
	case <-raw.closed:
	case <-waitAfter():
		t.Fatal("member kept an incoming link")
	}
	assert.Equal(t, []string{host.State().LocalIdentity}, b.State().Roster)
}

func TestGroupRefusesDuplicateIdentity(t *testing.T) {
	hub := transport.NewHub()
	host := startNode(t, hub, Config{Mode: ModeGroup})
	hostID := host.State().LocalIdentity

	raw := dialRaw(t, hub, hostID)
	eventually(t, func() bool { return len(host.State().Roster) == 1 })

	dup := redialRaw(t, raw.transport, raw.identity, hostID)
	select {
	case <-dup.closed:
	case <-waitAfter():
		t.Fatal("duplicate link was not closed")
	}

	eventually(t, func() bool { return hasMessage(host, "Refused a second connection") })
	assert.Equal(t, []string{raw.identity}, host.State().Roster)

	// The first link is untouched
	raw.send(t, frame.Relay{Payload: frame.GroupPayload{ID: "r1", Content: "still me", Timestamp: 1, Kind: frame.PayloadText}})
	eventually(t, func() bool { return hasMessage(host, "still me") })
	select {
	case <-raw.closed:
		t.Fatal("original link was closed")
	default:
	}
}
