package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"
)

// SecureChannel holds the key material for one peer-to-peer link.
// It is safe for concurrent use, but a channel must never be shared
// between links.
type SecureChannel struct {
	mu         sync.Mutex
	random     io.Reader
	keygen     func(io.Reader) (*KeyPair, error)
	local      *KeyPair
	sessionKey []byte
	// unavailable is sticky: once primitives fail the channel is never
	// securable again.
	unavailable bool
}

// ChannelOption configures a SecureChannel.
type ChannelOption func(*SecureChannel)

// WithRandom replaces the entropy source. It exists for tests that need to
// simulate a broken platform RNG.
func WithRandom(r io.Reader) ChannelOption {
	return func(c *SecureChannel) {
		c.random = r
	}
}

// NewSecureChannel creates a channel with no key material.
func NewSecureChannel(opts ...ChannelOption) *SecureChannel {
	c := &SecureChannel{random: rand.Reader, keygen: GenerateKeyPair}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GenerateLocalKey creates the local key pair and returns its public half.
// Calling it again replaces the previous pair and forgets any session key.
func (c *SecureChannel) GenerateLocalKey() (PublicKeyBlob, error) {
	logger := NewLogger("SecureChannel.GenerateLocalKey")
	logger.Entry("generating P-256 key pair")

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.unavailable {
		return PublicKeyBlob{}, ErrCryptoUnavailable
	}

	kp, err := c.keygen(c.random)
	if err != nil {
		c.unavailable = true
		logger.WithError(err, "crypto_unavailable", "generate_key").Error("Key pair generation failed")
		if !errors.Is(err, ErrCryptoUnavailable) {
			err = fmt.Errorf("%w: %v", ErrCryptoUnavailable, err)
		}
		return PublicKeyBlob{}, err
	}

	c.wipeLocked()
	c.local = kp

	blob := kp.Public()
	logger.WithFields(SecureFieldHash([]byte(blob.X), "public_x")).Debug("Local key pair generated")
	return blob, nil
}

// HasLocalKey reports whether GenerateLocalKey has succeeded.
func (c *SecureChannel) HasLocalKey() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local != nil
}

// DeriveSessionKey imports the peer's public key and derives the session
// key. Malformed or off-curve keys fail with ErrKeyAgreement.
func (c *SecureChannel) DeriveSessionKey(peer PublicKeyBlob) error {
	logger := NewLogger("SecureChannel.DeriveSessionKey")

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.unavailable {
		return ErrCryptoUnavailable
	}
	if c.local == nil {
		return fmt.Errorf("%w: %w", ErrKeyAgreement, ErrNoLocalKey)
	}

	peerKey, err := ImportPublicKey(peer)
	if err != nil {
		logger.WithError(err, "invalid_peer_key", "import").Warn("Rejected peer public key")
		return fmt.Errorf("%w: %v", ErrKeyAgreement, err)
	}

	key, err := deriveKey(c.local, peerKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeyAgreement, err)
	}

	if c.sessionKey != nil {
		ZeroBytes(c.sessionKey)
	}
	c.sessionKey = key

	logger.Info("Session key established")
	return nil
}

// Encrypt seals plaintext under the session key with a fresh random nonce.
func (c *SecureChannel) Encrypt(plaintext []byte) (Sealed, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sessionKey == nil {
		return Sealed{}, ErrChannelNotReady
	}
	return seal(c.sessionKey, plaintext, c.random)
}

// Decrypt authenticates and opens a sealed message.
func (c *SecureChannel) Decrypt(sealed Sealed) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sessionKey == nil {
		return nil, ErrChannelNotReady
	}

	plaintext, err := open(c.sessionKey, sealed)
	if err != nil {
		NewLogger("SecureChannel.Decrypt").
			WithFields(SecureFieldHash(sealed.Nonce, "nonce")).
			WithError(err, "authentication_failed", "open").
			Warn("Discarding message that failed authentication")
		return nil, err
	}
	return plaintext, nil
}

// IsEstablished reports whether a session key has been derived.
func (c *SecureChannel) IsEstablished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionKey != nil
}

// IsUnavailable reports whether the channel has given up on encryption.
func (c *SecureChannel) IsUnavailable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unavailable
}

// Close wipes all key material. The channel can be reused by generating a
// new local key.
func (c *SecureChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wipeLocked()
}

func (c *SecureChannel) wipeLocked() {
	if c.sessionKey != nil {
		ZeroBytes(c.sessionKey)
		c.sessionKey = nil
	}
	if c.local != nil {
		c.local.wipe()
		c.local = nil
	}
}
