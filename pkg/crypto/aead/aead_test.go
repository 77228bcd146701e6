package aead

import (
	"bytes"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	var key [KeySize]byte
	for i := range key {
		key[i] = byte(i)
	}
	plaintext := []byte("message body")
	aad := []byte("envelope-header")

	sealed, err := Seal(key, aad, plaintext)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	opened, err := Open(key, aad, sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("round trip mismatch: got %q want %q", opened, plaintext)
	}
}

func TestOpenRejectsTamperedAAD(t *testing.T) {
	var key [KeySize]byte
	sealed, err := Seal(key, []byte("correct-aad"), []byte("secret"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := Open(key, []byte("wrong-aad"), sealed); err == nil {
		t.Fatal("expected open to fail with mismatched additional data")
	}
}
