package storage

import (
	"encoding/json"
	"fmt"

	"github.com/chikuno/dchat/pkg/crypto/aead"
	"github.com/chikuno/dchat/pkg/crypto/kdf"
	"github.com/chikuno/dchat/pkg/crypto/sign"
	"github.com/chikuno/dchat/pkg/identity"
)

const backupFormatVersion = 1

// BackupHeader describes the plaintext-visible metadata of a backup: the
// range of the log it covers and the checkpoint it was taken against.
// Everything else in the backup is sealed.
type BackupHeader struct {
	Version        uint8
	CheckpointIndex uint64
	FromSeq        uint64
	ToSeq          uint64
	CreatedAtUnix  int64
}

// Backup is the on-disk encrypted snapshot format: (version, header,
// AEAD-sealed ciphertext over the header, signature over the header).
type Backup struct {
	Header        BackupHeader
	SealedPayload []byte // aead.Seal(backupKey, header bytes, envelope batch)
	Signature     []byte // sign.KeyPair.Sign(domain, header bytes)
}

const backupSignatureDomain = "DCHAT_BACKUP_HEADER_V1"

// backupKey derives the symmetric key sealing a backup, under the
// `backup` purpose of the owning identity's key hierarchy.
func backupKey(rootSeed []byte, account uint32) ([32]byte, error) {
	var key [32]byte
	seed := identity.DerivePath(rootSeed, identity.PurposeBackup, account, 0, 0, 0)
	derived, err := kdf.Derive(seed, nil, []byte("backup-seal-key"), 32)
	if err != nil {
		return key, fmt.Errorf("derive backup key: %w", err)
	}
	copy(key[:], derived)
	return key, nil
}

// MakeBackup seals a range of the log [fromSeq, toSeq) into an encrypted,
// signed Backup, keyed off rootSeed's `backup` purpose and signed by
// signer (normally the identity's active device key).
func MakeBackup(log *Log, rootSeed []byte, account uint32, signer *sign.KeyPair, fromSeq, toSeq, checkpointIndex uint64, nowUnix int64) (*Backup, error) {
	envs, err := collectEnvelopesBySeq(log, fromSeq, toSeq)
	if err != nil {
		return nil, err
	}
	plaintext, err := json.Marshal(envs)
	if err != nil {
		return nil, fmt.Errorf("marshal backup payload: %w", err)
	}

	header := BackupHeader{
		Version:         backupFormatVersion,
		CheckpointIndex: checkpointIndex,
		FromSeq:         fromSeq,
		ToSeq:           toSeq,
		CreatedAtUnix:   nowUnix,
	}
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("marshal backup header: %w", err)
	}

	key, err := backupKey(rootSeed, account)
	if err != nil {
		return nil, err
	}
	sealed, err := aead.Seal(key, headerBytes, plaintext)
	if err != nil {
		return nil, fmt.Errorf("seal backup payload: %w", err)
	}

	sig := signer.Sign(backupSignatureDomain, headerBytes)

	return &Backup{
		Header:        header,
		SealedPayload: sealed,
		Signature:     sig,
	}, nil
}

// OpenBackup verifies b's header signature against signerPub, unseals its
// payload under rootSeed's backup key, and returns the recovered envelopes.
func OpenBackup(b *Backup, rootSeed []byte, account uint32, signerPub []byte) ([]*Envelope, error) {
	headerBytes, err := json.Marshal(b.Header)
	if err != nil {
		return nil, fmt.Errorf("marshal backup header: %w", err)
	}
	if !sign.Verify(signerPub, backupSignatureDomain, headerBytes, b.Signature) {
		return nil, fmt.Errorf("backup header signature invalid")
	}

	key, err := backupKey(rootSeed, account)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(key, headerBytes, b.SealedPayload)
	if err != nil {
		return nil, fmt.Errorf("unseal backup payload: %w", err)
	}

	var envs []*Envelope
	if err := json.Unmarshal(plaintext, &envs); err != nil {
		return nil, fmt.Errorf("unmarshal backup envelopes: %w", err)
	}
	return envs, nil
}

func collectEnvelopesBySeq(log *Log, fromSeq, toSeq uint64) ([]*Envelope, error) {
	log.mu.RLock()
	defer log.mu.RUnlock()

	it, err := log.db.Iterator(seqKeyFor(fromSeq), seqKeyFor(toSeq))
	if err != nil {
		return nil, fmt.Errorf("iterate sequence range: %w", err)
	}
	defer it.Close()

	var envs []*Envelope
	for ; it.Valid(); it.Next() {
		id := make([]byte, len(it.Value()))
		copy(id, it.Value())
		env, err := log.getByIDLocked(id)
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	return envs, it.Error()
}
