package session

import (
	"fmt"

	"github.com/opd-ai/securesignal/frame"
	"github.com/opd-ai/securesignal/transport"
)

// Strategy decides who talks to whom and how frames are handled. It is
// chosen once from the configured Mode. Every method runs on the
// coordinator's event loop.
type Strategy interface {
	Name() string

	// start sets the initial room and status once the identity is known.
	start(c *Coordinator)
	// canDial reports whether an outgoing link may be opened now.
	canDial(c *Coordinator) error
	// dialed records a successful outgoing connection to target.
	dialed(c *Coordinator, target string)
	// accept reports whether an incoming connection is taken.
	accept(c *Coordinator, conn transport.Conn) bool
	linkOpened(c *Coordinator, p *peer)
	frameReceived(c *Coordinator, p *peer, f frame.Frame)
	linkClosed(c *Coordinator, p *peer)
	sendText(c *Coordinator, text string) (ChatMessage, error)
}

// NewStrategy returns the strategy for mode.
func NewStrategy(mode Mode) (Strategy, error) {
	switch mode {
	case ModeDirect:
		return &TwoPartySecureStrategy{}, nil
	case ModeGroup:
		return &StarTopologyStrategy{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, mode)
	}
}
