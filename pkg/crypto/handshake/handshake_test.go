package handshake

import (
	"bytes"
	"errors"
	"testing"

	"github.com/chikuno/dchat/pkg/crypto/kx"
	"github.com/chikuno/dchat/pkg/errs"
)

func runHandshake(t *testing.T, pattern Pattern, initiator, responder *State) (*TransportKeys, *TransportKeys) {
	t.Helper()
	current, other := initiator, responder
	for !initiator.IsComplete() || !responder.IsComplete() {
		msg, err := current.WriteMessage(nil)
		if err != nil {
			t.Fatalf("write message: %v", err)
		}
		if _, err := other.ReadMessage(msg); err != nil {
			t.Fatalf("read message: %v", err)
		}
		current, other = other, current
	}

	initKeys, err := initiator.Split()
	if err != nil {
		t.Fatalf("initiator split: %v", err)
	}
	respKeys, err := responder.Split()
	if err != nil {
		t.Fatalf("responder split: %v", err)
	}
	return initKeys, respKeys
}

func TestHandshakeIKAgreesOnTransportKeys(t *testing.T) {
	initStatic, err := kx.Generate()
	if err != nil {
		t.Fatalf("generate initiator static: %v", err)
	}
	respStatic, err := kx.Generate()
	if err != nil {
		t.Fatalf("generate responder static: %v", err)
	}

	initiator, err := New(PatternIK, true, initStatic, &respStatic.Public)
	if err != nil {
		t.Fatalf("new initiator: %v", err)
	}
	responder, err := New(PatternIK, false, respStatic, nil)
	if err != nil {
		t.Fatalf("new responder: %v", err)
	}

	initKeys, respKeys := runHandshake(t, PatternIK, initiator, responder)
	if !bytes.Equal(initKeys.SendKey[:], respKeys.RecvKey[:]) {
		t.Fatal("initiator send key must equal responder receive key")
	}
	if !bytes.Equal(initKeys.RecvKey[:], respKeys.SendKey[:]) {
		t.Fatal("initiator receive key must equal responder send key")
	}
	if initKeys.Transcript != respKeys.Transcript {
		t.Fatal("both sides should agree on the transcript hash")
	}
}

func TestHandshakeXXAgreesOnTransportKeys(t *testing.T) {
	initStatic, err := kx.Generate()
	if err != nil {
		t.Fatalf("generate initiator static: %v", err)
	}
	respStatic, err := kx.Generate()
	if err != nil {
		t.Fatalf("generate responder static: %v", err)
	}

	initiator, err := New(PatternXX, true, initStatic, nil)
	if err != nil {
		t.Fatalf("new initiator: %v", err)
	}
	responder, err := New(PatternXX, false, respStatic, nil)
	if err != nil {
		t.Fatalf("new responder: %v", err)
	}

	initKeys, respKeys := runHandshake(t, PatternXX, initiator, responder)
	if !bytes.Equal(initKeys.SendKey[:], respKeys.RecvKey[:]) {
		t.Fatal("initiator send key must equal responder receive key")
	}
}

func TestHandshakeOutOfOrderMessageAborts(t *testing.T) {
	initStatic, _ := kx.Generate()
	respStatic, _ := kx.Generate()

	initiator, _ := New(PatternIK, true, initStatic, &respStatic.Public)
	responder, _ := New(PatternIK, false, respStatic, nil)

	// Responder tries to write first, but IK's first message is from the
	// initiator.
	_, err := responder.WriteMessage(nil)
	if !errors.Is(err, errs.ErrHandshakeAborted) {
		t.Fatalf("expected ErrHandshakeAborted, got %v", err)
	}
}
