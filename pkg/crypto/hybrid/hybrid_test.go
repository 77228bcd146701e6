package hybrid

import (
	"bytes"
	"testing"

	"github.com/chikuno/dchat/pkg/crypto/kx"
)

func TestHybridHandshakeClassicalOnlyAgrees(t *testing.T) {
	responderKX, err := kx.Generate()
	if err != nil {
		t.Fatalf("generate responder key: %v", err)
	}

	initResult, err := Initiate(responderKX.Public, nil, nil, []byte("session"), 32)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	respResult, err := Respond(responderKX, initResult.ClassicalPub, nil, nil, []byte("session"), 32)
	if err != nil {
		t.Fatalf("respond: %v", err)
	}

	if !bytes.Equal(initResult.SessionKey, respResult.SessionKey) {
		t.Fatal("initiator and responder should derive the same session key")
	}
}
