package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
	"io"
)

const (
	// NonceSize is the AES-GCM nonce length in bytes (96 bits).
	NonceSize = 12
	// TagSize is the AES-GCM authentication tag length in bytes (128 bits).
	TagSize = 16
	// KeySize is the session key length in bytes (AES-256).
	KeySize = 32
)

// Sealed is one encrypted message: the nonce it was sealed under and the
// ciphertext with the authentication tag appended.
type Sealed struct {
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// GenerateNonce draws a fresh random nonce from r.
func GenerateNonce(r io.Reader) ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(r, nonce); err != nil {
		return nil, err
	}
	return nonce, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, errors.New("invalid session key length")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// seal encrypts plaintext under key with a fresh random nonce.
func seal(key, plaintext []byte, r io.Reader) (Sealed, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return Sealed{}, err
	}

	nonce, err := GenerateNonce(r)
	if err != nil {
		return Sealed{}, fmt.Errorf("%w: nonce generation: %v", ErrCryptoUnavailable, err)
	}

	return Sealed{
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plaintext, nil),
	}, nil
}
