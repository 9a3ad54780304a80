package session

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/securesignal/crypto"
	"github.com/opd-ai/securesignal/frame"
	"github.com/opd-ai/securesignal/limits"
	"github.com/opd-ai/securesignal/transport"
)

// TwoPartySecureStrategy runs an end-to-end encrypted conversation between
// exactly two nodes. Both ends send their public key when the link opens;
// text can only be sent once a session key has been derived.
type TwoPartySecureStrategy struct{}

func (*TwoPartySecureStrategy) Name() string { return "two-party-secure" }

func (*TwoPartySecureStrategy) start(c *Coordinator) {
	// A host waits disconnected until someone dials in.
	c.status = StatusDisconnected
	if c.role == RoleHost {
		c.room = c.local
	} else {
		c.room = c.cfg.JoinRoom
	}
}

func (*TwoPartySecureStrategy) canDial(c *Coordinator) error {
	if len(c.peers) > 0 {
		return ErrAlreadyConnected
	}
	return nil
}

func (*TwoPartySecureStrategy) dialed(c *Coordinator, target string) {
	c.room = target
}

func (*TwoPartySecureStrategy) accept(c *Coordinator, conn transport.Conn) bool {
	if len(c.peers) == 0 {
		return true
	}

	logrus.WithFields(logrus.Fields{
		"function": "TwoPartySecureStrategy.accept",
		"remote":   conn.RemoteIdentity(),
	}).Warn("Refusing second peer")
	c.notice(fmt.Sprintf("Refused a connection from %s. This conversation already has a partner.",
		DisplayLabel(conn.RemoteIdentity())))
	return false
}

func (s *TwoPartySecureStrategy) linkOpened(c *Coordinator, p *peer) {
	c.status = StatusConnected
	c.roster.add(p.remote)
	c.notice(fmt.Sprintf("Connected to %s. Setting up encryption...", DisplayLabel(p.remote)))
	s.sendKey(c, p)
}

// sendKey generates the local key pair for p and sends the public half.
func (*TwoPartySecureStrategy) sendKey(c *Coordinator, p *peer) bool {
	if p.channel == nil {
		p.channel = crypto.NewSecureChannel()
	}
	if p.channel.IsUnavailable() {
		return false
	}

	blob, err := p.channel.GenerateLocalKey()
	if err != nil {
		c.reportError("Encryption is not available on this device. Messages cannot be sent.", err)
		return false
	}
	return c.send(p, frame.KeyExchange{PublicKey: blob}) == nil
}

func (s *TwoPartySecureStrategy) frameReceived(c *Coordinator, p *peer, f frame.Frame) {
	label := DisplayLabel(p.remote)

	switch f := f.(type) {
	case frame.KeyExchange:
		if p.channel == nil || !p.channel.HasLocalKey() {
			if !s.sendKey(c, p) {
				return
			}
		}
		if err := p.channel.DeriveSessionKey(f.PublicKey); err != nil {
			c.reportError(fmt.Sprintf("Could not set up encryption with %s. The channel is not secure.", label), err)
			return
		}
		c.secure = true
		c.notice("End-to-end encryption established. Your messages are protected.")

		logrus.WithFields(logrus.Fields{
			"function": "TwoPartySecureStrategy.frameReceived",
			"remote":   p.remote,
		}).Info("Secure channel established")

	case frame.DirectMessage:
		if err := limits.ValidateEncryptedMessage(f.Sealed.Ciphertext); err != nil {
			c.reportError(fmt.Sprintf("Dropped an oversized message from %s.", label), err)
			return
		}
		if p.channel == nil {
			c.notice(fmt.Sprintf("A message from %s could not be decrypted.", label))
			return
		}
		plaintext, err := p.channel.Decrypt(f.Sealed)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "TwoPartySecureStrategy.frameReceived",
				"remote":   p.remote,
				"error":    err.Error(),
			}).Warn("Decryption failed")
			c.notice(fmt.Sprintf("A message from %s could not be decrypted.", label))
			return
		}
		c.appendMessage(ChatMessage{
			ID:             uuid.NewString(),
			SenderRole:     SenderPeer,
			SenderIdentity: label,
			Origin:         p.remote,
			Content:        string(plaintext),
			Timestamp:      c.clock(),
			Kind:           KindText,
			Encrypted:      true,
		})

	default:
		logrus.WithFields(logrus.Fields{
			"function": "TwoPartySecureStrategy.frameReceived",
			"remote":   p.remote,
			"kind":     f.Kind(),
		}).Warn("Ignoring group frame in direct session")
	}
}

func (*TwoPartySecureStrategy) linkClosed(c *Coordinator, p *peer) {
	c.roster.remove(p.remote)
	c.secure = false
	c.status = StatusDisconnected
	c.notice(fmt.Sprintf("%s disconnected.", DisplayLabel(p.remote)))
}

func (*TwoPartySecureStrategy) sendText(c *Coordinator, text string) (ChatMessage, error) {
	p, ok := lo.Find(c.openPeers(), func(p *peer) bool { return p.channel != nil })
	if !ok || !c.secure || !p.channel.IsEstablished() {
		return ChatMessage{}, ErrChannelNotSecure
	}

	sealed, err := p.channel.Encrypt([]byte(text))
	if err != nil {
		c.reportError("Could not encrypt the message.", err)
		return ChatMessage{}, err
	}
	if err := c.send(p, frame.DirectMessage{Sealed: sealed}); err != nil {
		return ChatMessage{}, err
	}

	msg := c.newTextMessage(text)
	msg.Encrypted = true
	stored, _ := c.appendMessage(msg)
	return stored, nil
}
