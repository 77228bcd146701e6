// Ed25519 attestation strategy: the default bridge-attestation scheme for a
// currency-chain counterparty with no BLS precompile to verify an
// aggregate signature cheaply — each validator's signature is collected
// and checked individually instead (pkg/bridge/strategy's
// ChainPlatform.DefaultAttestationScheme picks this for every platform
// except EVM). Reuses the same Attestation/AggregatedAttestation/
// ThresholdConfig shapes bls_strategy.go does, over stdlib crypto/ed25519
// rather than pkg/crypto/bls.
package strategy

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// Ed25519DomainAttestation separates this strategy's general-purpose
	// signatures from DomainBridgeAttest's BLS counterpart and from every
	// other DCHAT_*_V1 domain tag pkg/crypto/bls defines.
	Ed25519DomainAttestation = "DCHAT_ATTESTATION_V1"

	// Ed25519DomainTransferRelease is the domain a validator signs a
	// bridge-transfer release authorization under.
	Ed25519DomainTransferRelease = "DCHAT_BRIDGE_TRANSFER_RELEASE_V1"
)

// Ed25519StrategyConfig configures one validator's Ed25519 attestation
// strategy instance.
type Ed25519StrategyConfig struct {
	ValidatorID    string
	ValidatorIndex uint32

	// PrivateKey is the validator's signing key; if nil, a fresh key pair
	// is generated.
	PrivateKey ed25519.PrivateKey

	// Domain is the signing domain mixed into every signature.
	Domain string

	ThresholdConfig *ThresholdConfig
}

// DefaultEd25519StrategyConfig returns the transfer-release domain with
// the chat-chain's default 2/3+1 quorum.
func DefaultEd25519StrategyConfig() *Ed25519StrategyConfig {
	return &Ed25519StrategyConfig{
		Domain:          Ed25519DomainTransferRelease,
		ThresholdConfig: DefaultThresholdConfig(),
	}
}

// Ed25519Strategy implements AttestationStrategy for bridge validators that
// sign individually rather than via BLS aggregation.
type Ed25519Strategy struct {
	mu sync.RWMutex

	config *Ed25519StrategyConfig

	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey

	initialized bool
}

// NewEd25519Strategy constructs a strategy from config, generating a fresh
// key pair when config.PrivateKey is empty.
func NewEd25519Strategy(config *Ed25519StrategyConfig) (*Ed25519Strategy, error) {
	if config == nil {
		config = DefaultEd25519StrategyConfig()
	}
	if config.ValidatorID == "" {
		return nil, fmt.Errorf("validator ID is required")
	}
	if config.Domain == "" {
		config.Domain = Ed25519DomainTransferRelease
	}
	if config.ThresholdConfig == nil {
		config.ThresholdConfig = DefaultThresholdConfig()
	}

	s := &Ed25519Strategy{config: config}

	if len(config.PrivateKey) > 0 {
		if len(config.PrivateKey) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("invalid private key size: expected %d, got %d",
				ed25519.PrivateKeySize, len(config.PrivateKey))
		}
		s.privateKey = config.PrivateKey
		s.publicKey = config.PrivateKey.Public().(ed25519.PublicKey)
	} else {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate ed25519 key pair: %w", err)
		}
		s.privateKey = priv
		s.publicKey = pub
	}

	s.initialized = true
	return s, nil
}

func (s *Ed25519Strategy) Scheme() AttestationScheme {
	return AttestationSchemeEd25519
}

// Sign produces an Ed25519 attestation over message, domain-separated by
// s.config.Domain so a signature over a transfer release can never be
// replayed as a signature over a different message class.
func (s *Ed25519Strategy) Sign(ctx context.Context, message *AttestationMessage) (*Attestation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, fmt.Errorf("ed25519 strategy not initialized")
	}

	messageHash, err := s.ComputeMessageHash(message)
	if err != nil {
		return nil, fmt.Errorf("compute message hash: %w", err)
	}

	domainMsg := s.createDomainMessage(messageHash[:])
	signature := ed25519.Sign(s.privateKey, domainMsg)

	return &Attestation{
		AttestationID:  uuid.New(),
		Scheme:         AttestationSchemeEd25519,
		ValidatorID:    s.config.ValidatorID,
		ValidatorIndex: s.config.ValidatorIndex,
		PublicKey:      []byte(s.publicKey),
		Signature:      signature,
		Message:        message,
		MessageHash:    messageHash,
		Weight:         1, // caller overrides with the validator's real stake weight
		Timestamp:      time.Now().UTC(),
	}, nil
}

// Verify checks one attestation's signature against its claimed public key.
func (s *Ed25519Strategy) Verify(ctx context.Context, attestation *Attestation) (bool, error) {
	if attestation == nil {
		return false, fmt.Errorf("attestation is nil")
	}
	if attestation.Scheme != AttestationSchemeEd25519 {
		return false, fmt.Errorf("invalid scheme: expected %s, got %s",
			AttestationSchemeEd25519, attestation.Scheme)
	}
	if len(attestation.PublicKey) != ed25519.PublicKeySize {
		return false, fmt.Errorf("invalid public key size: expected %d, got %d",
			ed25519.PublicKeySize, len(attestation.PublicKey))
	}
	if len(attestation.Signature) != ed25519.SignatureSize {
		return false, fmt.Errorf("invalid signature size: expected %d, got %d",
			ed25519.SignatureSize, len(attestation.Signature))
	}

	domainMsg := s.createDomainMessage(attestation.MessageHash[:])
	return ed25519.Verify(attestation.PublicKey, domainMsg, attestation.Signature), nil
}

// Aggregate collects attestations into one AggregatedAttestation without
// combining signatures — Ed25519 has no aggregation scheme, so
// pkg/bridge's release submission verifies each signature individually via
// VerifyAggregated.
func (s *Ed25519Strategy) Aggregate(ctx context.Context, attestations []*Attestation) (*AggregatedAttestation, error) {
	if len(attestations) == 0 {
		return nil, fmt.Errorf("no attestations to aggregate")
	}

	baseHash := attestations[0].MessageHash
	for i, att := range attestations {
		if att.Scheme != AttestationSchemeEd25519 {
			return nil, fmt.Errorf("attestation %d has wrong scheme: %s", i, att.Scheme)
		}
		if att.MessageHash != baseHash {
			return nil, fmt.Errorf("attestation %d has different message hash", i)
		}
	}

	participantIDs := make([]string, len(attestations))
	var totalWeight int64
	seenPublicKeys := make(map[string]bool, len(attestations))

	for i, att := range attestations {
		pkHex := hex.EncodeToString(att.PublicKey)
		if seenPublicKeys[pkHex] {
			return nil, fmt.Errorf("duplicate attestation from public key at index %d", i)
		}
		seenPublicKeys[pkHex] = true

		participantIDs[i] = att.ValidatorID
		totalWeight += att.Weight
	}

	bitfield := buildValidatorBitfield(attestations)

	var firstTime, lastTime time.Time
	for _, att := range attestations {
		if firstTime.IsZero() || att.Timestamp.Before(firstTime) {
			firstTime = att.Timestamp
		}
		if att.Timestamp.After(lastTime) {
			lastTime = att.Timestamp
		}
	}

	return &AggregatedAttestation{
		AggregationID:       uuid.New(),
		Scheme:              AttestationSchemeEd25519,
		MessageHash:         baseHash,
		AggregatedSignature: nil,
		AggregatedPublicKey: nil,
		Attestations:        attestations,
		ParticipantIDs:      participantIDs,
		ParticipantCount:    len(attestations),
		ValidatorBitfield:   bitfield,
		AchievedWeight:      totalWeight,
		FirstAttestation:    firstTime,
		LastAttestation:     lastTime,
		AggregatedAt:        time.Now().UTC(),
	}, nil
}

// VerifyAggregated verifies every participating signature individually,
// since Ed25519 has no combined-signature form to check in one pass.
func (s *Ed25519Strategy) VerifyAggregated(ctx context.Context, agg *AggregatedAttestation) (bool, error) {
	if agg == nil {
		return false, fmt.Errorf("aggregated attestation is nil")
	}
	if agg.Scheme != AttestationSchemeEd25519 {
		return false, fmt.Errorf("invalid scheme: expected %s, got %s",
			AttestationSchemeEd25519, agg.Scheme)
	}
	if len(agg.Attestations) == 0 {
		return false, fmt.Errorf("no attestations to verify")
	}

	for i, att := range agg.Attestations {
		valid, err := s.Verify(ctx, att)
		if err != nil {
			return false, fmt.Errorf("verify attestation %d: %w", i, err)
		}
		if !valid {
			return false, nil
		}
	}
	return true, nil
}

func (s *Ed25519Strategy) SupportsAggregation() bool { return false }

func (s *Ed25519Strategy) PublicKey() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return []byte(s.publicKey)
}

func (s *Ed25519Strategy) ValidatorID() string { return s.config.ValidatorID }

func (s *Ed25519Strategy) ValidatorIndex() uint32 { return s.config.ValidatorIndex }

// ComputeMessageHash canonicalizes message as JSON and hashes it with
// SHA-256; callers never construct this hash by hand, so field renames in
// AttestationMessage never break an existing signature format.
func (s *Ed25519Strategy) ComputeMessageHash(message *AttestationMessage) ([32]byte, error) {
	data, err := json.Marshal(message)
	if err != nil {
		return [32]byte{}, fmt.Errorf("marshal message: %w", err)
	}
	return sha256.Sum256(data), nil
}

// PrivateKeyBytes exposes the raw key for secure storage by the caller.
func (s *Ed25519Strategy) PrivateKeyBytes() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return []byte(s.privateKey)
}

func (s *Ed25519Strategy) PublicKeyHex() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return hex.EncodeToString(s.publicKey)
}

// VerifySignatureBytes verifies a signature given raw, already-hashed
// message bytes, for callers that only have the wire-level fields on hand
// (e.g. a bridge handler replaying a stored attestation).
func (s *Ed25519Strategy) VerifySignatureBytes(publicKey, signature, messageHash []byte) (bool, error) {
	if len(publicKey) != ed25519.PublicKeySize {
		return false, fmt.Errorf("invalid public key size")
	}
	if len(signature) != ed25519.SignatureSize {
		return false, fmt.Errorf("invalid signature size")
	}

	domainMsg := s.createDomainMessage(messageHash)
	return ed25519.Verify(publicKey, domainMsg, signature), nil
}

func (s *Ed25519Strategy) GetDomain() string { return s.config.Domain }

func (s *Ed25519Strategy) GetThresholdConfig() *ThresholdConfig { return s.config.ThresholdConfig }

func (s *Ed25519Strategy) createDomainMessage(messageHash []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(s.config.Domain)
	buf.Write(messageHash)

	hash := sha256.Sum256(buf.Bytes())
	return hash[:]
}

// NewEd25519StrategyFromKeyHex loads a validator's signing key from a
// hex-encoded seed-plus-key blob, the format cmd/dchatd's
// loadOrGenerateEd25519Key persists to disk.
func NewEd25519StrategyFromKeyHex(validatorID string, validatorIndex uint32, privateKeyHex string) (*Ed25519Strategy, error) {
	privateKeyBytes, err := hex.DecodeString(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %w", err)
	}
	if len(privateKeyBytes) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key size: expected %d, got %d",
			ed25519.PrivateKeySize, len(privateKeyBytes))
	}

	return NewEd25519Strategy(&Ed25519StrategyConfig{
		ValidatorID:     validatorID,
		ValidatorIndex:  validatorIndex,
		PrivateKey:      privateKeyBytes,
		Domain:          Ed25519DomainTransferRelease,
		ThresholdConfig: DefaultThresholdConfig(),
	})
}

// NewEd25519StrategyWithNewKey generates a fresh key pair for validatorID.
func NewEd25519StrategyWithNewKey(validatorID string, validatorIndex uint32) (*Ed25519Strategy, error) {
	return NewEd25519Strategy(&Ed25519StrategyConfig{
		ValidatorID:     validatorID,
		ValidatorIndex:  validatorIndex,
		Domain:          Ed25519DomainTransferRelease,
		ThresholdConfig: DefaultThresholdConfig(),
	})
}

// NewEd25519StrategyFromSeed deterministically derives a key pair from
// seed, used by test fixtures that need reproducible validator identities.
func NewEd25519StrategyFromSeed(validatorID string, validatorIndex uint32, seed []byte) (*Ed25519Strategy, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid seed size: expected %d, got %d", ed25519.SeedSize, len(seed))
	}

	return NewEd25519Strategy(&Ed25519StrategyConfig{
		ValidatorID:     validatorID,
		ValidatorIndex:  validatorIndex,
		PrivateKey:      ed25519.NewKeyFromSeed(seed),
		Domain:          Ed25519DomainTransferRelease,
		ThresholdConfig: DefaultThresholdConfig(),
	})
}
