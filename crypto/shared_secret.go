package crypto

import (
	"crypto/ecdh"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/hkdf"
)

// sessionKeyInfo binds derived keys to this protocol.
var sessionKeyInfo = []byte("securesignal/v1 aes-256-gcm session key")

// deriveKey computes the ECDH shared secret between the local key pair and
// the peer key, and expands it into a 256-bit AES key with HKDF-SHA256.
func deriveKey(local *KeyPair, peer *ecdh.PublicKey) ([]byte, error) {
	logrus.WithFields(logrus.Fields{
		"function":        "deriveKey",
		"peer_key_prefix": fmt.Sprintf("%x", peer.Bytes()[1:9]),
	}).Debug("Computing shared secret using ECDH")

	secret, err := local.sharedSecret(peer)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "deriveKey",
			"error":    err.Error(),
		}).Error("ECDH computation failed")
		return nil, fmt.Errorf("failed to compute shared secret: %w", err)
	}
	defer ZeroBytes(secret)

	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, sessionKeyInfo), key); err != nil {
		ZeroBytes(key)
		return nil, fmt.Errorf("failed to expand session key: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "deriveKey",
	}).Debug("Session key derived, shared secret wiped")

	return key, nil
}
