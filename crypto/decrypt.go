package crypto

// open authenticates and decrypts a sealed message. Any structural problem
// with the input is reported as an authentication failure so that callers
// never see partial plaintext.
func open(key []byte, sealed Sealed) ([]byte, error) {
	if len(sealed.Nonce) != NonceSize || len(sealed.Ciphertext) < TagSize {
		return nil, ErrAuthenticationFailed
	}

	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, sealed.Nonce, sealed.Ciphertext, nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}
