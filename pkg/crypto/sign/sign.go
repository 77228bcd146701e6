// Package sign wraps Ed25519 signing for device keys, message envelopes, and
// relay receipts. Built on crypto/ed25519 directly: BLS (pkg/crypto/bls) is a
// distinct curve used only for validator quorum certificates, so there is no
// pack library that also covers this single-signer scheme.
package sign

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// KeyPair holds an Ed25519 private/public key pair.
type KeyPair struct {
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
}

// Generate creates a new random Ed25519 key pair.
func Generate() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return &KeyPair{Private: priv, Public: pub}, nil
}

// FromSeed derives a key pair deterministically from a 32-byte seed, used by
// the identity derivation path (spec.md §4.B) to produce device keys from a
// master seed.
func FromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid seed size: expected %d, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &KeyPair{Private: priv, Public: priv.Public().(ed25519.PublicKey)}, nil
}

// Sign signs a message, optionally under a domain-separation prefix.
func (kp *KeyPair) Sign(domain string, message []byte) []byte {
	return ed25519.Sign(kp.Private, domainMessage(domain, message))
}

// Verify checks a signature produced by Sign against a public key.
func Verify(pub ed25519.PublicKey, domain string, message, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, domainMessage(domain, message), sig)
}

func domainMessage(domain string, message []byte) []byte {
	if domain == "" {
		return message
	}
	out := make([]byte, 0, len(domain)+1+len(message))
	out = append(out, domain...)
	out = append(out, ':')
	out = append(out, message...)
	return out
}

// LoadOrGenerate loads a hex-encoded private key from keyPath, generating and
// persisting a new one if it does not yet exist. Mirrors the on-disk key
// convention the node uses for its own Ed25519 identity key.
func LoadOrGenerate(keyPath string) (*KeyPair, error) {
	if keyPath == "" {
		return Generate()
	}

	dir := filepath.Dir(keyPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create key directory %s: %w", dir, err)
	}

	if _, err := os.Stat(keyPath); os.IsNotExist(err) {
		kp, genErr := Generate()
		if genErr != nil {
			return nil, genErr
		}
		keyHex := hex.EncodeToString(kp.Private)
		if err := os.WriteFile(keyPath, []byte(keyHex), 0600); err != nil {
			return nil, fmt.Errorf("save ed25519 key to %s: %w", keyPath, err)
		}
		return kp, nil
	}

	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read ed25519 key from %s: %w", keyPath, err)
	}
	keyBytes, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("decode ed25519 key from %s: %w", keyPath, err)
	}
	if len(keyBytes) != ed25519.PrivateKeySize {
		return nil, errors.New("invalid ed25519 key size on disk")
	}
	priv := ed25519.PrivateKey(keyBytes)
	return &KeyPair{Private: priv, Public: priv.Public().(ed25519.PublicKey)}, nil
}
