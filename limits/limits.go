package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxTextMessage is the largest chat message a user may send, in bytes
	// of UTF-8 text.
	MaxTextMessage = 16384

	// EncryptionOverhead is the AES-GCM authentication tag appended to every
	// ciphertext. The 12-byte nonce travels in its own field.
	EncryptionOverhead = 16

	// MaxEncryptedMessage is the largest ciphertext a direct-mode peer may
	// produce for a valid text message.
	MaxEncryptedMessage = MaxTextMessage + EncryptionOverhead

	// JSONEscapeFactor is the worst-case growth of a string under JSON
	// encoding: a control byte becomes a six byte \u00XX escape.
	JSONEscapeFactor = 6

	// FrameOverhead is room for the envelope and the non-text payload
	// fields (ids, timestamps, identities).
	FrameOverhead = 4096

	// MaxFrameSize bounds one serialized wire frame. Any text that passes
	// ValidateTextMessage fits even when every byte is escaped.
	MaxFrameSize = JSONEscapeFactor*MaxTextMessage + FrameOverhead
)

var (
	// ErrMessageEmpty indicates an empty message was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("message too large")
)

// ValidateMessageSize validates a message against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), maxSize)
	}
	return nil
}

// ValidateTextMessage checks a chat message typed by the local user.
func ValidateTextMessage(text string) error {
	if len(text) == 0 {
		return ErrMessageEmpty
	}
	if len(text) > MaxTextMessage {
		return fmt.Errorf("%w: text size %d exceeds limit %d", ErrMessageTooLarge, len(text), MaxTextMessage)
	}
	return nil
}

// ValidateEncryptedMessage checks a ciphertext received from a peer before
// it is handed to the cipher.
func ValidateEncryptedMessage(ciphertext []byte) error {
	if len(ciphertext) == 0 {
		return ErrMessageEmpty
	}
	if len(ciphertext) > MaxEncryptedMessage {
		return fmt.Errorf("%w: encrypted size %d exceeds limit %d", ErrMessageTooLarge, len(ciphertext), MaxEncryptedMessage)
	}
	return nil
}

// ValidateFrame checks a raw frame read from the network. Use it on all
// untrusted input before decoding.
func ValidateFrame(data []byte) error {
	return ValidateMessageSize(data, MaxFrameSize)
}
