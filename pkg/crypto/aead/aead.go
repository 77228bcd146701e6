// Package aead seals and opens message plaintexts with ChaCha20-Poly1305,
// the symmetric primitive every session key derived by pkg/crypto/kdf
// ultimately feeds. Built on golang.org/x/crypto/chacha20poly1305.
package aead

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	KeySize   = chacha20poly1305.KeySize
	NonceSize = chacha20poly1305.NonceSizeX // XChaCha20: safe with random nonces
)

// Seal encrypts plaintext under key, authenticating additionalData, and
// returns nonce||ciphertext. A fresh random nonce is generated per call.
func Seal(key [KeySize]byte, additionalData, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("construct xchacha20poly1305: %w", err)
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("read random nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, additionalData), nil
}

// Open decrypts a nonce||ciphertext blob produced by Seal.
func Open(key [KeySize]byte, additionalData, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("construct xchacha20poly1305: %w", err)
	}
	if len(sealed) < NonceSize {
		return nil, fmt.Errorf("sealed blob shorter than nonce size %d", NonceSize)
	}
	nonce, ciphertext := sealed[:NonceSize], sealed[NonceSize:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, fmt.Errorf("open sealed blob: %w", err)
	}
	return plaintext, nil
}
