// Package identity implements the hierarchical key derivation path
// m/purpose/account/device/conversation/index (spec.md §4.B) and the
// identity lifecycle operations built on it: creating an identity, rotating
// devices, deriving per-conversation keys, minting unlinkable burners, and
// driving guardian-based recovery through its timelocked state machine.
// Lifecycle style (generate → persist → rotate) follows
// pkg/crypto/bls/key_manager.go.
package identity

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/chikuno/dchat/pkg/crypto/kdf"
	"github.com/chikuno/dchat/pkg/crypto/sign"
	"github.com/chikuno/dchat/pkg/errs"
)

// Purpose names one branch of the derivation path.
type Purpose uint32

const (
	PurposeIdentityRoot Purpose = iota
	PurposeDevice
	PurposeConversation
	PurposeBurner
	PurposeGuardian
	PurposeBackup
)

// DerivePath walks the hardened derivation path, folding each step's index
// into the running seed via HKDF so a leaked child key at any depth cannot
// reveal its siblings or its parent.
func DerivePath(rootSeed []byte, purpose Purpose, account, device, conversation, index uint32) []byte {
	seed := rootSeed
	for _, step := range []uint32{uint32(purpose), account, device, conversation, index} {
		var stepBytes [4]byte
		binary.BigEndian.PutUint32(stepBytes[:], step)
		next, err := kdf.Derive(seed, nil, stepBytes[:], 32)
		if err != nil {
			// kdf.Derive only fails if the HKDF reader is starved, which
			// cannot happen for a 32-byte expansion; treat as unreachable.
			panic(fmt.Sprintf("identity: derive path step: %v", err))
		}
		seed = next
	}
	return seed
}

// LogEntry is the candidate chain-log entry an identity operation emits;
// pkg/chain appends it once consensus finalizes the containing block.
type LogEntry struct {
	Kind      string
	Identity  string // hex-encoded public key of the acting identity
	Payload   map[string]string
	Signature []byte
}

// Device is one authorized device key under an identity.
type Device struct {
	Index   uint32
	Keys    *sign.KeyPair
	Revoked bool
}

// RecoveryState names a node in the guardian-recovery state machine.
type RecoveryState string

const (
	RecoveryIdle       RecoveryState = "Idle"
	RecoveryProposed   RecoveryState = "RecoveryProposed"
	RecoveryCancelled  RecoveryState = "RecoveryCancelled"
	RecoveryFinalized  RecoveryState = "RecoveryFinalized"
)

// Recovery tracks an in-flight guardian recovery for an identity.
type Recovery struct {
	State        RecoveryState
	GuardianSet  []string // hex-encoded guardian public keys
	Threshold    int
	NewRootSeed  []byte
	DeadlineBlock uint64
	Approvals    map[string]bool
}

// Identity is the root key hierarchy for one user, plus its current device
// set and any in-flight guardian recovery.
type Identity struct {
	mu sync.RWMutex

	rootSeed []byte
	account  uint32

	devices    map[uint32]*Device
	nextDevice uint32

	recovery *Recovery
}

// CreateIdentity generates the root key hierarchy and a first device key,
// returning the Identity plus the IdentityRegister log entry candidate.
func CreateIdentity(rootSeed []byte) (*Identity, *LogEntry, error) {
	if len(rootSeed) < 32 {
		return nil, nil, errs.ErrInvalidKey
	}

	id := &Identity{
		rootSeed: rootSeed,
		devices:  make(map[uint32]*Device),
		recovery: &Recovery{State: RecoveryIdle},
	}

	device, err := id.deriveDevice(0)
	if err != nil {
		return nil, nil, err
	}
	id.devices[0] = device
	id.nextDevice = 1

	entry := &LogEntry{
		Kind:     "IdentityRegister",
		Identity: hex.EncodeToString(device.Keys.Public),
		Payload: map[string]string{
			"device_index": "0",
		},
	}
	return id, entry, nil
}

func (id *Identity) deriveDevice(index uint32) (*Device, error) {
	seed := DerivePath(id.rootSeed, PurposeDevice, id.account, index, 0, 0)
	keys, err := sign.FromSeed(seed)
	if err != nil {
		return nil, fmt.Errorf("derive device %d signing key: %w", index, err)
	}
	return &Device{Index: index, Keys: keys}, nil
}

// activeDeviceCount reports how many devices are currently authorized.
func (id *Identity) activeDeviceCount() int {
	n := 0
	for _, d := range id.devices {
		if !d.Revoked {
			n++
		}
	}
	return n
}

// RotateDevice derives a new device key, emitting a DeviceRotate entry that
// revokes deviceIndex. Refuses to leave zero authorized devices unless a
// guardian recovery is in progress for this identity.
func (id *Identity) RotateDevice(deviceIndex uint32) (*LogEntry, error) {
	id.mu.Lock()
	defer id.mu.Unlock()

	old, ok := id.devices[deviceIndex]
	if !ok || old.Revoked {
		return nil, fmt.Errorf("device %d is not active", deviceIndex)
	}

	recovering := id.recovery != nil && id.recovery.State == RecoveryProposed
	// Rotation revokes one device and adds one, so the active count is unchanged.
	if id.activeDeviceCount() < 1 && !recovering {
		return nil, errs.ErrZeroDevices
	}

	newIndex := id.nextDevice
	newDevice, err := id.deriveDevice(newIndex)
	if err != nil {
		return nil, err
	}
	id.nextDevice++
	id.devices[newIndex] = newDevice
	old.Revoked = true

	entry := &LogEntry{
		Kind:     "DeviceRotate",
		Identity: hex.EncodeToString(newDevice.Keys.Public),
		Payload: map[string]string{
			"revoked_device_index": fmt.Sprintf("%d", deviceIndex),
			"new_device_index":     fmt.Sprintf("%d", newIndex),
			"revoked_device_key":   hex.EncodeToString(old.Keys.Public),
		},
	}
	return entry, nil
}

// DeriveConversationKey produces the symmetric seed feeding the Noise
// handshake for a conversation with peerIdentityPub at conversationIndex.
func (id *Identity) DeriveConversationKey(peerIdentityPub []byte, conversationIndex uint32) ([]byte, error) {
	id.mu.RLock()
	defer id.mu.RUnlock()

	seed := DerivePath(id.rootSeed, PurposeConversation, id.account, 0, conversationIndex, 0)
	key, err := kdf.Derive(seed, peerIdentityPub, []byte("conversation-seed"), 32)
	if err != nil {
		return nil, fmt.Errorf("derive conversation key: %w", err)
	}
	return key, nil
}

// CreateBurner derives a fresh, unlinkable identity under the burner
// purpose. The returned Identity's own IdentityRegister entry names only
// the burner's own public key — nothing ties it back to the root.
func CreateBurner(rootSeed []byte, burnerIndex uint32) (*Identity, *LogEntry, error) {
	seed := DerivePath(rootSeed, PurposeBurner, 0, 0, 0, burnerIndex)
	burnerRoot, err := kdf.Derive(seed, nil, []byte("burner-root"), 32)
	if err != nil {
		return nil, nil, fmt.Errorf("derive burner root: %w", err)
	}
	return CreateIdentity(burnerRoot)
}

// OpenGuardianRecovery begins a timelocked recovery for this identity,
// transitioning Idle → RecoveryProposed(deadline).
func (id *Identity) OpenGuardianRecovery(guardianSet []string, threshold int, newRootSeed []byte, currentBlock, recoverBlocks uint64) (*LogEntry, error) {
	id.mu.Lock()
	defer id.mu.Unlock()

	if id.recovery.State != RecoveryIdle && id.recovery.State != RecoveryCancelled {
		return nil, fmt.Errorf("recovery already in state %s", id.recovery.State)
	}
	if threshold <= 0 || threshold > len(guardianSet) {
		return nil, fmt.Errorf("invalid threshold %d for %d guardians", threshold, len(guardianSet))
	}

	id.recovery = &Recovery{
		State:         RecoveryProposed,
		GuardianSet:   guardianSet,
		Threshold:     threshold,
		NewRootSeed:   newRootSeed,
		DeadlineBlock: currentBlock + recoverBlocks,
		Approvals:     make(map[string]bool),
	}

	return &LogEntry{
		Kind: "GuardianRecoveryProposed",
		Payload: map[string]string{
			"threshold":      fmt.Sprintf("%d", threshold),
			"guardian_count": fmt.Sprintf("%d", len(guardianSet)),
			"deadline_block": fmt.Sprintf("%d", id.recovery.DeadlineBlock),
		},
	}, nil
}

// ApproveRecovery records a guardian's approval; returns true once the
// threshold is met. FinalizeRecovery additionally requires the deadline
// block to have been reached.
func (id *Identity) ApproveRecovery(guardianPub string) (bool, error) {
	id.mu.Lock()
	defer id.mu.Unlock()

	if id.recovery.State != RecoveryProposed {
		return false, fmt.Errorf("no recovery in progress")
	}
	found := false
	for _, g := range id.recovery.GuardianSet {
		if g == guardianPub {
			found = true
			break
		}
	}
	if !found {
		return false, fmt.Errorf("%s is not a guardian of this identity", guardianPub)
	}
	id.recovery.Approvals[guardianPub] = true
	return len(id.recovery.Approvals) >= id.recovery.Threshold, nil
}

// CancelRecovery is triggered by the target identity producing a
// DeviceRotate signed by an existing device within the recovery window.
func (id *Identity) CancelRecovery() error {
	id.mu.Lock()
	defer id.mu.Unlock()
	if id.recovery.State != RecoveryProposed {
		return fmt.Errorf("no recovery in progress")
	}
	id.recovery.State = RecoveryCancelled
	return nil
}

// FinalizeRecovery completes the recovery once the guardian threshold is
// met and currentBlock has reached the deadline, replacing the root seed
// and device set.
func (id *Identity) FinalizeRecovery(currentBlock uint64) (*LogEntry, error) {
	id.mu.Lock()
	defer id.mu.Unlock()

	if id.recovery.State != RecoveryProposed {
		return nil, fmt.Errorf("no recovery in progress")
	}
	if len(id.recovery.Approvals) < id.recovery.Threshold {
		return nil, fmt.Errorf("guardian threshold not met: %d/%d", len(id.recovery.Approvals), id.recovery.Threshold)
	}
	if currentBlock < id.recovery.DeadlineBlock {
		return nil, fmt.Errorf("recovery window has not yet elapsed")
	}

	id.rootSeed = id.recovery.NewRootSeed
	id.devices = make(map[uint32]*Device)
	id.nextDevice = 0
	device, err := id.deriveDevice(0)
	if err != nil {
		return nil, err
	}
	id.devices[0] = device
	id.nextDevice = 1
	id.recovery.State = RecoveryFinalized

	return &LogEntry{
		Kind:     "GuardianRecoveryFinalized",
		Identity: hex.EncodeToString(device.Keys.Public),
	}, nil
}

// RecoveryStateValue reports the current state of any in-flight recovery.
func (id *Identity) RecoveryStateValue() RecoveryState {
	id.mu.RLock()
	defer id.mu.RUnlock()
	return id.recovery.State
}
