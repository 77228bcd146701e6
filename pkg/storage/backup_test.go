package storage

import (
	"testing"

	"github.com/chikuno/dchat/pkg/crypto/sign"
)

func testBackupRootSeed() []byte {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(200 - i)
	}
	return seed
}

func TestMakeBackupAndOpenRoundTrip(t *testing.T) {
	log := openTestLog(t)
	for i := uint64(0); i < 3; i++ {
		env := makeEnvelope("alice", "bob", "", i, 100+int64(i))
		if _, err := log.Append(env); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	signer, err := sign.Generate()
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}
	root := testBackupRootSeed()

	backup, err := MakeBackup(log, root, 0, signer, 0, 3, 0, 1000)
	if err != nil {
		t.Fatalf("make backup: %v", err)
	}
	if backup.Header.FromSeq != 0 || backup.Header.ToSeq != 3 {
		t.Fatalf("unexpected backup header range: %+v", backup.Header)
	}

	envs, err := OpenBackup(backup, root, 0, signer.Public)
	if err != nil {
		t.Fatalf("open backup: %v", err)
	}
	if len(envs) != 3 {
		t.Fatalf("expected 3 recovered envelopes, got %d", len(envs))
	}
}

func TestOpenBackupRejectsWrongSigner(t *testing.T) {
	log := openTestLog(t)
	if _, err := log.Append(makeEnvelope("alice", "bob", "", 0, 100)); err != nil {
		t.Fatalf("append: %v", err)
	}

	signer, err := sign.Generate()
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}
	impostor, err := sign.Generate()
	if err != nil {
		t.Fatalf("generate impostor: %v", err)
	}
	root := testBackupRootSeed()

	backup, err := MakeBackup(log, root, 0, signer, 0, 1, 0, 1000)
	if err != nil {
		t.Fatalf("make backup: %v", err)
	}

	if _, err := OpenBackup(backup, root, 0, impostor.Public); err == nil {
		t.Fatal("expected signature verification to fail for the wrong signer")
	}
}

func TestOpenBackupRejectsWrongRootSeed(t *testing.T) {
	log := openTestLog(t)
	if _, err := log.Append(makeEnvelope("alice", "bob", "", 0, 100)); err != nil {
		t.Fatalf("append: %v", err)
	}

	signer, err := sign.Generate()
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}
	root := testBackupRootSeed()
	wrongRoot := make([]byte, 32)
	copy(wrongRoot, root)
	wrongRoot[0] ^= 0xff

	backup, err := MakeBackup(log, root, 0, signer, 0, 1, 0, 1000)
	if err != nil {
		t.Fatalf("make backup: %v", err)
	}

	if _, err := OpenBackup(backup, wrongRoot, 0, signer.Public); err == nil {
		t.Fatal("expected decryption to fail under the wrong root seed")
	}
}
