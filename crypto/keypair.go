package crypto

import (
	"crypto/ecdh"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

const (
	// KeyTypeEC is the JWK key type of exported public keys.
	KeyTypeEC = "EC"
	// CurveP256 is the JWK curve name of exported public keys.
	CurveP256 = "P-256"

	coordinateSize = 32
)

// PublicKeyBlob is the exportable half of a key-agreement key pair. It is
// shaped like a JSON Web Key so that peers can exchange it verbatim.
type PublicKeyBlob struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// KeyPair is a P-256 key-agreement key pair. The private scalar never
// leaves the process.
type KeyPair struct {
	private *ecdh.PrivateKey
}

// GenerateKeyPair creates a new random P-256 key pair using entropy from r.
func GenerateKeyPair(r io.Reader) (*KeyPair, error) {
	private, err := ecdh.P256().GenerateKey(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoUnavailable, err)
	}
	return &KeyPair{private: private}, nil
}

// Public exports the public half of the key pair.
func (kp *KeyPair) Public() PublicKeyBlob {
	// Uncompressed SEC 1 encoding: 0x04 || X || Y
	point := kp.private.PublicKey().Bytes()
	return PublicKeyBlob{
		Kty: KeyTypeEC,
		Crv: CurveP256,
		X:   base64.RawURLEncoding.EncodeToString(point[1 : 1+coordinateSize]),
		Y:   base64.RawURLEncoding.EncodeToString(point[1+coordinateSize:]),
	}
}

// sharedSecret runs ECDH against the peer key.
func (kp *KeyPair) sharedSecret(peer *ecdh.PublicKey) ([]byte, error) {
	return kp.private.ECDH(peer)
}

// wipe drops the reference to the private scalar. crypto/ecdh keeps the
// scalar internally and offers no way to zero it, so this is best effort.
func (kp *KeyPair) wipe() {
	kp.private = nil
}

// ImportPublicKey validates a peer's blob and returns the curve point.
func ImportPublicKey(blob PublicKeyBlob) (*ecdh.PublicKey, error) {
	if blob.Kty != KeyTypeEC {
		return nil, fmt.Errorf("unsupported key type %q", blob.Kty)
	}
	if blob.Crv != CurveP256 {
		return nil, fmt.Errorf("unsupported curve %q", blob.Crv)
	}

	x, err := decodeCoordinate(blob.X)
	if err != nil {
		return nil, fmt.Errorf("invalid x coordinate: %w", err)
	}
	y, err := decodeCoordinate(blob.Y)
	if err != nil {
		return nil, fmt.Errorf("invalid y coordinate: %w", err)
	}

	point := make([]byte, 0, 1+2*coordinateSize)
	point = append(point, 0x04)
	point = append(point, x...)
	point = append(point, y...)

	// NewPublicKey rejects points that are not on the curve.
	pub, err := ecdh.P256().NewPublicKey(point)
	if err != nil {
		return nil, err
	}
	return pub, nil
}

func decodeCoordinate(s string) ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != coordinateSize {
		return nil, errors.New("wrong coordinate length")
	}
	return b, nil
}
