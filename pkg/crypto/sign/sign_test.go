package sign

import "testing"

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	msg := []byte("hello session")
	sig := kp.Sign("dchat-envelope", msg)
	if !Verify(kp.Public, "dchat-envelope", msg, sig) {
		t.Fatal("expected signature to verify")
	}
	if Verify(kp.Public, "wrong-domain", msg, sig) {
		t.Fatal("signature should not verify under a different domain")
	}
}

func TestFromSeedDeterministic(t *testing.T) {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i)
	}
	a, err := FromSeed(seed)
	if err != nil {
		t.Fatalf("from seed: %v", err)
	}
	b, err := FromSeed(seed)
	if err != nil {
		t.Fatalf("from seed: %v", err)
	}
	if string(a.Public) != string(b.Public) {
		t.Fatal("same seed should produce the same key pair")
	}
}

func TestLoadOrGenerateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/identity.key"

	first, err := LoadOrGenerate(path)
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	second, err := LoadOrGenerate(path)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if string(first.Public) != string(second.Public) {
		t.Fatal("reloading an existing key file should return the same key")
	}
}
