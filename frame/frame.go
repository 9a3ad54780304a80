// Package frame defines the tagged wire frames exchanged over a peer link.
//
// A frame is a JSON envelope {"type": <tag>, "payload": <object>} where the
// tag selects exactly one payload shape:
//
//	KEY_EXCHANGE       exported public key blob        (direct mode)
//	ENCRYPTED_MESSAGE  {nonce, ciphertext}             (direct mode)
//	RELAY              {id, content, timestamp, kind}  (member -> host)
//	BROADCAST          {id, content, timestamp, kind}  (host -> members)
//
// Decode validates the envelope at the transport boundary. Unknown tags,
// missing payloads and payloads that do not fit their tag are reported as
// ErrMalformedFrame so that the caller never has to inspect untyped data.
package frame

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opd-ai/securesignal/crypto"
)

// Kind identifies the active variant of a Frame.
type Kind string

const (
	KindKeyExchange   Kind = "KEY_EXCHANGE"
	KindDirectMessage Kind = "ENCRYPTED_MESSAGE"
	KindRelay         Kind = "RELAY"
	KindBroadcast     Kind = "BROADCAST"
)

// Payload kinds carried by group frames.
const (
	PayloadText   = "text"
	PayloadSystem = "system"
)

// ErrMalformedFrame indicates bytes that do not decode to a valid frame.
var ErrMalformedFrame = errors.New("malformed frame")

// Frame is one discrete unit of protocol data. The set of implementations
// is closed: KeyExchange, DirectMessage, Relay and Broadcast.
type Frame interface {
	Kind() Kind
	validate() error
}

// KeyExchange carries the sender's public key for session key derivation.
type KeyExchange struct {
	PublicKey crypto.PublicKeyBlob
}

// DirectMessage carries one encrypted two-party chat message.
type DirectMessage struct {
	Sealed crypto.Sealed
}

// GroupPayload is the plaintext body of Relay and Broadcast frames.
//
// From names the originating identity. Hosts fill it in from the link a
// relay arrived on; a From value sent by a member is never trusted.
type GroupPayload struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	Kind      string `json:"kind"`
	From      string `json:"from,omitempty"`
}

// Relay is sent by a member to the host, and by the host when replaying
// history to a newcomer.
type Relay struct {
	Payload GroupPayload
}

// Broadcast is sent by the host to every member except the origin.
type Broadcast struct {
	Payload GroupPayload
}

func (KeyExchange) Kind() Kind   { return KindKeyExchange }
func (DirectMessage) Kind() Kind { return KindDirectMessage }
func (Relay) Kind() Kind         { return KindRelay }
func (Broadcast) Kind() Kind     { return KindBroadcast }

func (f KeyExchange) validate() error {
	if f.PublicKey.Kty == "" || f.PublicKey.Crv == "" || f.PublicKey.X == "" || f.PublicKey.Y == "" {
		return errors.New("incomplete public key")
	}
	return nil
}

func (f DirectMessage) validate() error {
	if len(f.Sealed.Nonce) == 0 || len(f.Sealed.Ciphertext) == 0 {
		return errors.New("missing nonce or ciphertext")
	}
	return nil
}

func (f Relay) validate() error     { return f.Payload.validate() }
func (f Broadcast) validate() error { return f.Payload.validate() }

func (p GroupPayload) validate() error {
	if p.ID == "" {
		return errors.New("missing message id")
	}
	if p.Kind != PayloadText && p.Kind != PayloadSystem {
		return fmt.Errorf("unknown payload kind %q", p.Kind)
	}
	return nil
}

type envelope struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outgoing struct {
	Type    Kind        `json:"type"`
	Payload interface{} `json:"payload"`
}

// Encode serializes a frame into its wire form.
func Encode(f Frame) ([]byte, error) {
	if f == nil {
		return nil, errors.New("nil frame")
	}
	if err := f.validate(); err != nil {
		return nil, fmt.Errorf("invalid %s frame: %w", f.Kind(), err)
	}

	var body interface{}
	switch v := f.(type) {
	case KeyExchange:
		body = v.PublicKey
	case DirectMessage:
		body = v.Sealed
	case Relay:
		body = v.Payload
	case Broadcast:
		body = v.Payload
	default:
		return nil, fmt.Errorf("unsupported frame type %T", f)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(outgoing{Type: f.Kind(), Payload: body}); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Decode parses and validates a wire frame.
func Decode(data []byte) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if len(env.Payload) == 0 || bytes.Equal(env.Payload, []byte("null")) {
		return nil, fmt.Errorf("%w: missing payload for %q", ErrMalformedFrame, env.Type)
	}

	var (
		f   Frame
		err error
	)
	switch env.Type {
	case KindKeyExchange:
		var v KeyExchange
		err = json.Unmarshal(env.Payload, &v.PublicKey)
		f = v
	case KindDirectMessage:
		var v DirectMessage
		err = json.Unmarshal(env.Payload, &v.Sealed)
		f = v
	case KindRelay:
		var v Relay
		err = json.Unmarshal(env.Payload, &v.Payload)
		f = v
	case KindBroadcast:
		var v Broadcast
		err = json.Unmarshal(env.Payload, &v.Payload)
		f = v
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedFrame, env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformedFrame, env.Type, err)
	}
	if err := f.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformedFrame, env.Type, err)
	}
	return f, nil
}
