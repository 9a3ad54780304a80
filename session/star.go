package session

import (
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/securesignal/frame"
	"github.com/opd-ai/securesignal/limits"
	"github.com/opd-ai/securesignal/transport"
)

// StarTopologyStrategy runs a group room. The host holds one link per
// member and relays every member message to the others. Members only talk
// to the host. Nothing is encrypted in this mode.
type StarTopologyStrategy struct{}

func (*StarTopologyStrategy) Name() string { return "star-topology" }

func (*StarTopologyStrategy) start(c *Coordinator) {
	if c.role == RoleHost {
		c.room = c.local
		c.status = StatusConnected
		return
	}
	c.room = c.cfg.JoinRoom
	c.status = StatusDisconnected
}

func (*StarTopologyStrategy) canDial(c *Coordinator) error {
	if c.role == RoleHost {
		return ErrHostCannotDial
	}
	if len(c.peers) > 0 {
		return ErrAlreadyConnected
	}
	return nil
}

func (*StarTopologyStrategy) dialed(c *Coordinator, target string) {
	c.room = target
}

func (*StarTopologyStrategy) accept(c *Coordinator, conn transport.Conn) bool {
	if c.role == RoleHost {
		return true
	}

	logrus.WithFields(logrus.Fields{
		"function": "StarTopologyStrategy.accept",
		"remote":   conn.RemoteIdentity(),
	}).Warn("Member refusing incoming link")
	return false
}

func (*StarTopologyStrategy) linkOpened(c *Coordinator, p *peer) {
	c.status = StatusConnected
	c.roster.add(p.remote)
	label := DisplayLabel(p.remote)

	if c.role != RoleHost {
		c.notice(fmt.Sprintf("Joined room %s.", label))
		return
	}

	c.notice(fmt.Sprintf("%s joined the room.", label))

	// History goes out before anything relayed later on this link.
	history := c.log.texts()
	for _, msg := range history {
		if err := c.send(p, frame.Relay{Payload: payloadFor(msg)}); err != nil {
			return
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "StarTopologyStrategy.linkOpened",
		"remote":   p.remote,
		"replayed": len(history),
	}).Info("Member joined")
}

func (s *StarTopologyStrategy) frameReceived(c *Coordinator, p *peer, f frame.Frame) {
	switch f := f.(type) {
	case frame.Relay:
		if c.role == RoleHost {
			s.relay(c, p, f.Payload)
			return
		}
		s.deliver(c, p, f.Payload)
	case frame.Broadcast:
		if c.role == RoleHost {
			s.ignore(p, f)
			return
		}
		s.deliver(c, p, f.Payload)
	default:
		s.ignore(p, f)
	}
}

// relay appends a member's message on the host and forwards it to every
// other member. The origin is taken from the link, never from the payload.
func (*StarTopologyStrategy) relay(c *Coordinator, p *peer, payload frame.GroupPayload) {
	if payload.Kind != frame.PayloadText {
		logrus.WithFields(logrus.Fields{
			"function": "StarTopologyStrategy.relay",
			"remote":   p.remote,
			"kind":     payload.Kind,
		}).Warn("Dropping non-text relay from member")
		return
	}
	if c.log.contains(payload.ID) {
		logrus.WithFields(logrus.Fields{
			"function": "StarTopologyStrategy.relay",
			"remote":   p.remote,
			"id":       payload.ID,
		}).Debug("Dropping repeated relay")
		return
	}
	if err := limits.ValidateTextMessage(payload.Content); err != nil {
		c.reportError(fmt.Sprintf("Dropped an invalid message from %s.", DisplayLabel(p.remote)), err)
		return
	}

	stored, ok := c.appendMessage(ChatMessage{
		ID:             payload.ID,
		SenderRole:     SenderPeer,
		SenderIdentity: DisplayLabel(p.remote),
		Origin:         p.remote,
		Content:        payload.Content,
		Timestamp:      time.UnixMilli(payload.Timestamp),
		Kind:           KindText,
	})
	if !ok {
		return
	}

	out := frame.Broadcast{Payload: payloadFor(stored)}
	others := lo.Filter(c.openPeers(), func(o *peer, _ int) bool { return o != p })
	lo.ForEach(others, func(o *peer, _ int) {
		_ = c.send(o, out)
	})
}

// deliver appends a frame received from the host on a member.
func (*StarTopologyStrategy) deliver(c *Coordinator, p *peer, payload frame.GroupPayload) {
	origin := payload.From
	if origin == "" {
		origin = p.remote
	}

	msg := ChatMessage{
		ID:             payload.ID,
		SenderRole:     SenderPeer,
		SenderIdentity: DisplayLabel(origin),
		Origin:         origin,
		Content:        payload.Content,
		Timestamp:      time.UnixMilli(payload.Timestamp),
		Kind:           KindText,
	}
	switch {
	case payload.Kind == frame.PayloadSystem:
		msg.SenderRole = SenderSystem
		msg.SenderIdentity = ""
		msg.Origin = ""
		msg.Kind = KindSystem
	case origin == c.local:
		// Our own message replayed by the host.
		msg.SenderRole = SenderMe
		msg.SenderIdentity = ""
	}
	c.appendMessage(msg)
}

func (*StarTopologyStrategy) ignore(p *peer, f frame.Frame) {
	logrus.WithFields(logrus.Fields{
		"function": "StarTopologyStrategy.frameReceived",
		"remote":   p.remote,
		"kind":     f.Kind(),
	}).Warn("Ignoring unexpected frame in group session")
}

func (*StarTopologyStrategy) linkClosed(c *Coordinator, p *peer) {
	label := DisplayLabel(p.remote)
	if c.role == RoleHost {
		c.roster.remove(p.remote)
		c.notice(fmt.Sprintf("%s left the room.", label))
		return
	}

	c.roster.clear()
	c.status = StatusDisconnected
	c.notice(fmt.Sprintf("Lost connection to room host %s.", label))
}

func (*StarTopologyStrategy) sendText(c *Coordinator, text string) (ChatMessage, error) {
	msg := c.newTextMessage(text)

	if c.role == RoleHost {
		out := frame.Broadcast{Payload: payloadFor(msg)}
		if err := c.fits(out); err != nil {
			return ChatMessage{}, err
		}
		stored, _ := c.appendMessage(msg)
		out.Payload.Timestamp = stored.Timestamp.UnixMilli()
		lo.ForEach(c.openPeers(), func(o *peer, _ int) {
			_ = c.send(o, out)
		})
		return stored, nil
	}

	host, ok := lo.Find(c.openPeers(), func(*peer) bool { return true })
	if !ok {
		return ChatMessage{}, ErrNotConnected
	}
	relay := frame.Relay{Payload: frame.GroupPayload{
		ID:        msg.ID,
		Content:   msg.Content,
		Timestamp: msg.Timestamp.UnixMilli(),
		Kind:      frame.PayloadText,
	}}
	if err := c.fits(relay); err != nil {
		return ChatMessage{}, err
	}
	if err := c.send(host, relay); err != nil {
		return ChatMessage{}, err
	}
	stored, _ := c.appendMessage(msg)
	return stored, nil
}

func payloadFor(msg ChatMessage) frame.GroupPayload {
	return frame.GroupPayload{
		ID:        msg.ID,
		Content:   msg.Content,
		Timestamp: msg.Timestamp.UnixMilli(),
		Kind:      frame.PayloadText,
		From:      msg.Origin,
	}
}
