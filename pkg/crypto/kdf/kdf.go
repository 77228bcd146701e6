// Package kdf derives symmetric session keys from shared secrets via HKDF,
// the step where the hybrid post-quantum mixing happens (pkg/crypto/hybrid).
// Built on golang.org/x/crypto/hkdf.
package kdf

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Derive expands secret into n bytes of key material, bound to salt and
// info for domain separation between e.g. a handshake transcript key and a
// conversation message key.
func Derive(secret, salt, info []byte, n int) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, salt, info)
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}
	return out, nil
}
