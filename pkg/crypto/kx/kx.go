// Package kx implements X25519 Diffie-Hellman key exchange, the classical
// half of every session handshake (pkg/crypto/handshake) and the hybrid KEM
// (pkg/crypto/hybrid). Built on golang.org/x/crypto/curve25519.
package kx

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

const (
	PrivateKeySize = curve25519.ScalarSize
	PublicKeySize  = curve25519.PointSize
)

// KeyPair is an X25519 private/public scalar pair.
type KeyPair struct {
	Private [PrivateKeySize]byte
	Public  [PublicKeySize]byte
}

// Generate creates a new random X25519 key pair.
func Generate() (*KeyPair, error) {
	var priv [PrivateKeySize]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return nil, fmt.Errorf("read random scalar: %w", err)
	}
	return fromPrivate(priv)
}

// FromPrivate derives the public key for a caller-supplied private scalar,
// used when the scalar itself comes from the identity derivation path.
func FromPrivate(priv [PrivateKeySize]byte) (*KeyPair, error) {
	return fromPrivate(priv)
}

func fromPrivate(priv [PrivateKeySize]byte) (*KeyPair, error) {
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive x25519 public key: %w", err)
	}
	kp := &KeyPair{Private: priv}
	copy(kp.Public[:], pub)
	return kp, nil
}

// SharedSecret computes the X25519 shared secret with a peer's public key.
func (kp *KeyPair) SharedSecret(peerPublic [PublicKeySize]byte) ([]byte, error) {
	secret, err := curve25519.X25519(kp.Private[:], peerPublic[:])
	if err != nil {
		return nil, fmt.Errorf("compute x25519 shared secret: %w", err)
	}
	return secret, nil
}
