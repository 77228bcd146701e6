// Package handshake implements a Noise-style handshake state machine with
// patterns IK, XX, and XK, producing a pair of symmetric send/receive keys
// plus a transcript hash (spec.md §4.A). No pack example hand-rolls a Noise
// engine — go-libp2p-noise (wired in pkg/transport) covers the transport
// security layer, but the identity/session layer needs a standalone state
// machine it can drive directly for pairwise channel-key handshakes that
// never touch the libp2p stream. Built on pkg/crypto/kx, pkg/crypto/aead,
// and pkg/crypto/kdf; lifecycle (generate → use → zeroize) follows
// pkg/crypto/bls/key_manager.go's style.
package handshake

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/chikuno/dchat/pkg/crypto/aead"
	"github.com/chikuno/dchat/pkg/crypto/kdf"
	"github.com/chikuno/dchat/pkg/crypto/kx"
	"github.com/chikuno/dchat/pkg/errs"
)

// Pattern names one of the three supported handshake patterns.
type Pattern string

const (
	// PatternIK: the responder's static key is known to the initiator in
	// advance, and the initiator's static key is transmitted (encrypted) in
	// the first message, authenticating both sides in one round trip. Used when a device already trusts the peer's
	// long-term identity key.
	PatternIK Pattern = "IK"
	// PatternXX: neither side knows the other's static key in advance;
	// both are transmitted during the handshake. Used for first contact.
	PatternXX Pattern = "XX"
	// PatternXK: the responder's static key is known in advance but the
	// initiator's is not revealed until the final message.
	PatternXK Pattern = "XK"
)

type token int

const (
	tokenE token = iota
	tokenS
	tokenEE
	tokenES
	tokenSE
	tokenSS
)

type patternMessage struct {
	fromInitiator bool
	tokens        []token
}

var schedules = map[Pattern][]patternMessage{
	PatternIK: {
		{true, []token{tokenE, tokenES, tokenS, tokenSS}},
		{false, []token{tokenE, tokenEE, tokenSE}},
	},
	PatternXX: {
		{true, []token{tokenE}},
		{false, []token{tokenE, tokenEE, tokenS, tokenES}},
		{true, []token{tokenS, tokenSE}},
	},
	PatternXK: {
		{true, []token{tokenE, tokenES}},
		{false, []token{tokenE, tokenEE}},
		{true, []token{tokenS, tokenSE}},
	},
}

// TransportKeys is the output of a completed handshake: distinct keys for
// each direction, plus the transcript hash both sides can compare out of
// band to detect a man-in-the-middle.
type TransportKeys struct {
	SendKey   [32]byte
	RecvKey   [32]byte
	Transcript [32]byte
}

// State drives one handshake pattern for one party. Zero value is not
// usable; construct with New.
type State struct {
	pattern   Pattern
	initiator bool
	schedule  []patternMessage
	msgIndex  int

	localStatic     *kx.KeyPair
	localEphemeral  *kx.KeyPair
	remoteStaticPub *[kx.PublicKeySize]byte
	remoteEphemeral *[kx.PublicKeySize]byte

	ck     [32]byte
	h      [32]byte
	hasKey bool
	key    [32]byte

	done     bool
	aborted  bool
}

// New begins a handshake. For IK and XK the initiator must pass the
// responder's static key as remoteStatic (the responder's key must already
// be known); the responder may pass nil. remoteStatic is not mixed into the
// transcript for XX.
func New(pattern Pattern, initiator bool, localStatic *kx.KeyPair, remoteStatic *[kx.PublicKeySize]byte) (*State, error) {
	schedule, ok := schedules[pattern]
	if !ok {
		return nil, fmt.Errorf("unknown handshake pattern %q", pattern)
	}
	if (pattern == PatternIK || pattern == PatternXK) && initiator && remoteStatic == nil {
		return nil, fmt.Errorf("pattern %s requires the peer's static key in advance", pattern)
	}
	if localStatic == nil {
		return nil, errs.ErrInvalidKey
	}

	s := &State{
		pattern:         pattern,
		initiator:       initiator,
		schedule:        schedule,
		localStatic:     localStatic,
		remoteStaticPub: remoteStatic,
	}
	protocolName := fmt.Sprintf("Noise_%s_25519_ChaChaPoly_SHA256", pattern)
	s.h = sha256.Sum256([]byte(protocolName))
	s.ck = s.h

	// Both sides mix the responder's pre-known static key.
	if pattern == PatternIK || pattern == PatternXK {
		if initiator {
			s.mixHash(remoteStatic[:])
		} else {
			s.mixHash(localStatic.Public[:])
		}
	}
	return s, nil
}

// IsComplete reports whether the handshake has finished successfully.
func (s *State) IsComplete() bool { return s.done }

// WriteMessage produces the next handshake message this party must send,
// carrying payload (may be empty) authenticated once a key is established.
func (s *State) WriteMessage(payload []byte) ([]byte, error) {
	if s.aborted {
		return nil, errs.ErrHandshakeAborted
	}
	if s.msgIndex >= len(s.schedule) {
		return nil, fmt.Errorf("handshake already complete")
	}
	msg := s.schedule[s.msgIndex]
	if msg.fromInitiator != s.initiator {
		s.Destroy()
		return nil, errs.ErrHandshakeAborted
	}

	var out []byte
	for _, t := range msg.tokens {
		switch t {
		case tokenE:
			if s.localEphemeral == nil {
				eph, err := kx.Generate()
				if err != nil {
					return nil, fmt.Errorf("generate ephemeral key: %w", err)
				}
				s.localEphemeral = eph
			}
			s.mixHash(s.localEphemeral.Public[:])
			out = appendLP(out, s.localEphemeral.Public[:])
		case tokenS:
			ct, err := s.encryptAndHash(s.localStatic.Public[:])
			if err != nil {
				return nil, err
			}
			out = appendLP(out, ct)
		default:
			if err := s.mixDH(t); err != nil {
				return nil, err
			}
		}
	}

	payloadCt, err := s.encryptAndHash(payload)
	if err != nil {
		return nil, err
	}
	out = appendLP(out, payloadCt)

	s.msgIndex++
	if s.msgIndex == len(s.schedule) {
		s.done = true
	}
	return out, nil
}

// ReadMessage consumes a handshake message received from the peer and
// returns its payload. Messages arriving out of the pattern's expected
// order fail with ErrHandshakeAborted and zeroize handshake state.
func (s *State) ReadMessage(data []byte) ([]byte, error) {
	if s.aborted {
		return nil, errs.ErrHandshakeAborted
	}
	if s.msgIndex >= len(s.schedule) {
		return nil, fmt.Errorf("handshake already complete")
	}
	msg := s.schedule[s.msgIndex]
	if msg.fromInitiator == s.initiator {
		s.Destroy()
		return nil, errs.ErrHandshakeAborted
	}

	rest := data
	for _, t := range msg.tokens {
		switch t {
		case tokenE:
			field, tail, err := readLP(rest)
			if err != nil || len(field) != kx.PublicKeySize {
				s.Destroy()
				return nil, errs.ErrHandshakeAborted
			}
			var re [kx.PublicKeySize]byte
			copy(re[:], field)
			s.remoteEphemeral = &re
			s.mixHash(field)
			rest = tail
		case tokenS:
			field, tail, err := readLP(rest)
			if err != nil {
				s.Destroy()
				return nil, errs.ErrHandshakeAborted
			}
			pub, err := s.decryptAndHash(field)
			if err != nil || len(pub) != kx.PublicKeySize {
				s.Destroy()
				return nil, errs.ErrHandshakeAborted
			}
			var rs [kx.PublicKeySize]byte
			copy(rs[:], pub)
			s.remoteStaticPub = &rs
			rest = tail
		default:
			if err := s.mixDH(t); err != nil {
				s.Destroy()
				return nil, errs.ErrHandshakeAborted
			}
		}
	}

	payloadField, tail, err := readLP(rest)
	if err != nil {
		s.Destroy()
		return nil, errs.ErrHandshakeAborted
	}
	if len(tail) != 0 {
		s.Destroy()
		return nil, errs.ErrHandshakeAborted
	}
	payload, err := s.decryptAndHash(payloadField)
	if err != nil {
		s.Destroy()
		return nil, errs.ErrHandshakeAborted
	}

	s.msgIndex++
	if s.msgIndex == len(s.schedule) {
		s.done = true
	}
	return payload, nil
}

// Split derives the final directional transport keys once the handshake is
// complete. Must only be called after IsComplete returns true.
func (s *State) Split() (*TransportKeys, error) {
	if !s.done {
		return nil, fmt.Errorf("handshake not yet complete")
	}
	initToResp, err := kdf.Derive(s.ck[:], nil, []byte("initiator-to-responder"), 32)
	if err != nil {
		return nil, fmt.Errorf("derive initiator-to-responder key: %w", err)
	}
	respToInit, err := kdf.Derive(s.ck[:], nil, []byte("responder-to-initiator"), 32)
	if err != nil {
		return nil, fmt.Errorf("derive responder-to-initiator key: %w", err)
	}

	tk := &TransportKeys{Transcript: s.h}
	if s.initiator {
		copy(tk.SendKey[:], initToResp)
		copy(tk.RecvKey[:], respToInit)
	} else {
		copy(tk.SendKey[:], respToInit)
		copy(tk.RecvKey[:], initToResp)
	}
	return tk, nil
}

// Destroy zeroizes all secret-holding state. Safe to call multiple times,
// and called automatically on any abort.
func (s *State) Destroy() {
	s.aborted = true
	zero(s.ck[:])
	zero(s.key[:])
	if s.localEphemeral != nil {
		zero(s.localEphemeral.Private[:])
	}
}

func (s *State) mixHash(data []byte) {
	h := sha256.New()
	h.Write(s.h[:])
	h.Write(data)
	copy(s.h[:], h.Sum(nil))
}

func (s *State) mixKey(ikm []byte) error {
	newCk, err := kdf.Derive(ikm, s.ck[:], []byte("ck"), 32)
	if err != nil {
		return fmt.Errorf("derive chaining key: %w", err)
	}
	newKey, err := kdf.Derive(ikm, s.ck[:], []byte("k"), 32)
	if err != nil {
		return fmt.Errorf("derive cipher key: %w", err)
	}
	copy(s.ck[:], newCk)
	copy(s.key[:], newKey)
	s.hasKey = true
	return nil
}

func (s *State) mixDH(t token) error {
	var secret []byte
	var err error
	switch t {
	case tokenEE:
		secret, err = s.localEphemeral.SharedSecret(*s.remoteEphemeral)
	case tokenES:
		if s.initiator {
			secret, err = s.localEphemeral.SharedSecret(*s.remoteStaticPub)
		} else {
			secret, err = s.localStatic.SharedSecret(*s.remoteEphemeral)
		}
	case tokenSE:
		if s.initiator {
			secret, err = s.localStatic.SharedSecret(*s.remoteEphemeral)
		} else {
			secret, err = s.localEphemeral.SharedSecret(*s.remoteStaticPub)
		}
	case tokenSS:
		secret, err = s.localStatic.SharedSecret(*s.remoteStaticPub)
	default:
		return fmt.Errorf("unexpected token in DH step: %d", t)
	}
	if err != nil {
		return fmt.Errorf("compute handshake dh: %w", err)
	}
	return s.mixKey(secret)
}

func (s *State) encryptAndHash(plaintext []byte) ([]byte, error) {
	if !s.hasKey {
		s.mixHash(plaintext)
		return plaintext, nil
	}
	ct, err := aead.Seal(s.key, s.h[:], plaintext)
	if err != nil {
		return nil, fmt.Errorf("encrypt handshake field: %w", err)
	}
	s.mixHash(ct)
	return ct, nil
}

func (s *State) decryptAndHash(field []byte) ([]byte, error) {
	if !s.hasKey {
		s.mixHash(field)
		return field, nil
	}
	pt, err := aead.Open(s.key, s.h[:], field)
	if err != nil {
		return nil, fmt.Errorf("decrypt handshake field: %w", err)
	}
	s.mixHash(field)
	return pt, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func appendLP(buf, data []byte) []byte {
	var lenBytes [2]byte
	binary.BigEndian.PutUint16(lenBytes[:], uint16(len(data)))
	buf = append(buf, lenBytes[:]...)
	return append(buf, data...)
}

func readLP(data []byte) (field, rest []byte, err error) {
	if len(data) < 2 {
		return nil, nil, fmt.Errorf("truncated length-prefixed field")
	}
	n := int(binary.BigEndian.Uint16(data[:2]))
	if len(data) < 2+n {
		return nil, nil, fmt.Errorf("truncated length-prefixed field body")
	}
	return data[2 : 2+n], data[2+n:], nil
}
