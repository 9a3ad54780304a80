// Package crypto implements the per-link secure channel used by securesignal.
//
// A [SecureChannel] performs elliptic-curve Diffie-Hellman key agreement on
// P-256 with a single remote peer and then protects every chat message with
// AES-256-GCM. The symmetric session key is derived once per link with
// HKDF-SHA256 and is never re-keyed; closing the channel wipes it.
//
// # Key Agreement
//
// Each side generates a local key pair and sends the exported public half
// (a JWK-shaped [PublicKeyBlob]) to the peer. When the peer's blob arrives
// the session key is derived:
//
//	ch := crypto.NewSecureChannel()
//	blob, err := ch.GenerateLocalKey()
//	if err != nil {
//	    return err
//	}
//	// send blob to the peer, receive theirs
//	if err := ch.DeriveSessionKey(peerBlob); err != nil {
//	    return err
//	}
//
// # Encryption and Decryption
//
// Every call to [SecureChannel.Encrypt] draws a fresh random 96-bit nonce.
// Nonces are never counters because no counter state survives a restart.
//
//	sealed, err := ch.Encrypt([]byte("hello"))
//	plaintext, err := peer.Decrypt(sealed)
//
// Decryption either returns the full plaintext or [ErrAuthenticationFailed];
// partial plaintext is never returned.
//
// # Errors
//
// All failures wrap one of the package sentinels so callers can branch with
// errors.Is: [ErrCryptoUnavailable], [ErrKeyAgreement], [ErrNoLocalKey],
// [ErrChannelNotReady] and [ErrAuthenticationFailed].
//
// # Memory Safety
//
// Private scalars and derived keys are wiped with [ZeroBytes] when a channel
// is closed. Logging goes through [LoggerHelper] and [SecureFieldHash] so
// only short previews of key material ever reach the log.
package crypto
