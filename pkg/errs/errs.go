// Package errs centralizes the error-kind taxonomy shared across the node.
//
// Every fallible operation in the node returns one of these kinds wrapped
// around the underlying cause, so that callers at a component boundary can
// dispatch on Kind without parsing error strings.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error the way §7 of the design groups them.
type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindNetwork       Kind = "network"
	KindProtocol      Kind = "protocol"
	KindCryptographic Kind = "cryptographic"
	KindStorage       Kind = "storage"
	KindConsensus     Kind = "consensus"
	KindResource      Kind = "resource"
	KindCancelled     Kind = "cancelled"
)

// Error is a tagged error carrying a stable kind plus an opaque correlation
// id, so user-facing surfaces can report a short stable string without
// leaking keys or plaintexts from the wrapped cause.
type Error struct {
	Kind          Kind
	CorrelationID string
	Err           error
}

func (e *Error) Error() string {
	if e.CorrelationID == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s[%s]: %v", e.Kind, e.CorrelationID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a kind and correlation id.
func New(kind Kind, correlationID string, err error) *Error {
	return &Error{Kind: kind, CorrelationID: correlationID, Err: err}
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Transient reports whether err is a network error that is safe to retry
// at the component boundary with exponential backoff.
func Transient(err error) bool {
	return Is(err, KindNetwork)
}

// Sentinel errors referenced by name across packages (§8 invariants and
// boundary behaviors name these directly).
var (
	ErrInvalidKey          = errors.New("invalid key")
	ErrHandshakeAborted    = errors.New("handshake aborted: message out of order")
	ErrDuplicateContentHash = errors.New("duplicate content hash")
	ErrThrottled           = errors.New("rate limit exceeded")
	ErrUndeliverable       = errors.New("recipient undeliverable")
	ErrBootstrapping       = errors.New("dht bootstrapping: insufficient entry nodes")
	ErrDuplicateBatch      = errors.New("delivery batch already committed for this (relay, message) pair")
	ErrSequenceGap         = errors.New("sequence number gap")
	ErrSequenceReplay      = errors.New("sequence number replay")
	ErrQuorumNotMet        = errors.New("validator quorum not met")
	ErrZeroDevices         = errors.New("identity would be left with zero authorized devices")
)
