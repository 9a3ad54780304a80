package crypto

import "errors"

var (
	// ErrCryptoUnavailable indicates the platform could not provide the
	// primitives needed for key agreement. A channel that hits this error
	// stays unencrypted for the rest of its life.
	ErrCryptoUnavailable = errors.New("crypto unavailable")

	// ErrKeyAgreement indicates the peer's public key could not be used to
	// derive a session key.
	ErrKeyAgreement = errors.New("key agreement failed")

	// ErrNoLocalKey indicates key derivation was attempted before a local
	// key pair was generated.
	ErrNoLocalKey = errors.New("no local key pair")

	// ErrChannelNotReady indicates no session key has been derived yet.
	ErrChannelNotReady = errors.New("secure channel not established")

	// ErrAuthenticationFailed indicates a ciphertext failed tag verification.
	ErrAuthenticationFailed = errors.New("message authentication failed")
)
