package crypto

import (
	"crypto/subtle"
	"runtime"
)

// ZeroBytes overwrites a byte slice holding key material with zeros.
// Nil and empty slices are ignored.
func ZeroBytes(data []byte) {
	if len(data) == 0 {
		return
	}

	zeros := make([]byte, len(data))
	// The constant-time compare keeps the compiler from treating the
	// overwrite below as a dead store.
	subtle.ConstantTimeCompare(data, zeros)
	copy(data, zeros)

	runtime.KeepAlive(data)
}
