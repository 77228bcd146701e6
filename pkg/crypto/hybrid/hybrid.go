// Package hybrid combines the classical X25519 key exchange (pkg/crypto/kx)
// with an injectable post-quantum KEM, mixing both secrets at the KDF step
// per the "hybrid now" resolution of spec.md §9's post-quantum open
// question: no pack example wires a concrete PQ KEM, so PostQuantumKEM is an
// interface the transport/handshake layer can satisfy when a real one is
// available, and NopKEM lets the hybrid path run (classical-only) without one.
package hybrid

import (
	"fmt"

	"github.com/chikuno/dchat/pkg/crypto/kdf"
	"github.com/chikuno/dchat/pkg/crypto/kx"
)

// PostQuantumKEM is satisfied by any post-quantum key encapsulation
// mechanism (e.g. ML-KEM/Kyber) the deployment chooses to enable.
type PostQuantumKEM interface {
	// Encapsulate produces a ciphertext and shared secret under peerPublic.
	Encapsulate(peerPublic []byte) (ciphertext, secret []byte, err error)
	// Decapsulate recovers the shared secret for a ciphertext produced
	// against this KEM's own key pair.
	Decapsulate(ciphertext []byte) (secret []byte, err error)
	PublicKey() []byte
}

// NopKEM is a PostQuantumKEM that contributes no entropy of its own; it lets
// the hybrid path run in classical-only mode when no PQ KEM is configured.
type NopKEM struct{}

func (NopKEM) Encapsulate(peerPublic []byte) ([]byte, []byte, error) { return nil, nil, nil }
func (NopKEM) Decapsulate(ciphertext []byte) ([]byte, error)         { return nil, nil }
func (NopKEM) PublicKey() []byte                                     { return nil }

// Result is the output of a hybrid handshake: the mixed session key plus the
// wire material (X25519 public key and, if enabled, PQ ciphertext) the peer
// needs to recompute it.
type Result struct {
	SessionKey   []byte
	ClassicalPub [kx.PublicKeySize]byte
	PQCiphertext []byte
}

// Initiate runs the initiator side of a hybrid handshake against a peer's
// classical and (optionally) post-quantum public keys, returning a session
// key of keyLen bytes.
func Initiate(peerClassicalPub [kx.PublicKeySize]byte, pq PostQuantumKEM, peerPQPub []byte, info []byte, keyLen int) (*Result, error) {
	self, err := kx.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral x25519 key: %w", err)
	}
	classicalSecret, err := self.SharedSecret(peerClassicalPub)
	if err != nil {
		return nil, fmt.Errorf("x25519 agreement: %w", err)
	}

	mixed := classicalSecret
	var pqCiphertext []byte
	if pq != nil && peerPQPub != nil {
		ct, pqSecret, err := pq.Encapsulate(peerPQPub)
		if err != nil {
			return nil, fmt.Errorf("pq encapsulate: %w", err)
		}
		mixed = xor(classicalSecret, pqSecret)
		pqCiphertext = ct
	}

	key, err := kdf.Derive(mixed, nil, info, keyLen)
	if err != nil {
		return nil, fmt.Errorf("derive session key: %w", err)
	}
	return &Result{SessionKey: key, ClassicalPub: self.Public, PQCiphertext: pqCiphertext}, nil
}

// Respond runs the responder side: given the initiator's ephemeral public
// key material, recomputes the same session key.
func Respond(selfClassical *kx.KeyPair, initiatorClassicalPub [kx.PublicKeySize]byte, pq PostQuantumKEM, pqCiphertext []byte, info []byte, keyLen int) (*Result, error) {
	classicalSecret, err := selfClassical.SharedSecret(initiatorClassicalPub)
	if err != nil {
		return nil, fmt.Errorf("x25519 agreement: %w", err)
	}

	mixed := classicalSecret
	if pq != nil && pqCiphertext != nil {
		pqSecret, err := pq.Decapsulate(pqCiphertext)
		if err != nil {
			return nil, fmt.Errorf("pq decapsulate: %w", err)
		}
		mixed = xor(classicalSecret, pqSecret)
	}

	key, err := kdf.Derive(mixed, nil, info, keyLen)
	if err != nil {
		return nil, fmt.Errorf("derive session key: %w", err)
	}
	return &Result{SessionKey: key, ClassicalPub: selfClassical.Public, PQCiphertext: pqCiphertext}, nil
}

// xor combines two secrets byte-wise; if the PQ secret is shorter it is
// repeated-cycled, and if absent the classical secret passes through
// unchanged (NopKEM's zero-length output degrades to classical-only).
func xor(classical, pq []byte) []byte {
	if len(pq) == 0 {
		return classical
	}
	out := make([]byte, len(classical))
	for i := range out {
		out[i] = classical[i] ^ pq[i%len(pq)]
	}
	return out
}
