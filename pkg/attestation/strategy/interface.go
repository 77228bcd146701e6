// Package strategy defines the scheme-agnostic shape of a bridge-transfer
// attestation: validators individually sign an AttestationMessage
// describing the transfer, and enough of those signatures (weighted by stake) are gathered
// into one AggregatedAttestation before pkg/bridge/strategy is allowed to
// release funds on the destination chain (spec.md §4.G "Attest").
//
// Adapted from the teacher's pkg/attestation/strategy package: same
// pluggable-scheme interface and threshold-weight arithmetic, generalized
// from the teacher's execution-result attestation (anchoring an intent's
// proof on an EVM/CosmWasm/Solana/Move/TON/NEAR chain) to this chain's
// currency-bridge transfer attestation.
package strategy

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AttestationScheme identifies the cryptographic scheme a validator signs
// transfer attestations with.
type AttestationScheme string

const (
	// AttestationSchemeBLS12381 aggregates every validator's signature into
	// one compact proof, used when the destination chain's light client
	// needs cheap on-chain verification of a large validator set.
	AttestationSchemeBLS12381 AttestationScheme = "bls12-381"

	// AttestationSchemeEd25519 is the default for bridge counterparties
	// without a BLS precompile: each validator's signature is collected
	// and verified individually rather than aggregated.
	AttestationSchemeEd25519 AttestationScheme = "ed25519"

	// AttestationSchemeSchnorr is reserved for a future counterparty whose
	// light client verifies Schnorr aggregates natively.
	AttestationSchemeSchnorr AttestationScheme = "schnorr"

	// AttestationSchemeThreshold is reserved for a future FROST/threshold-
	// signature counterparty where the release key itself is sharded
	// rather than each validator signing independently.
	AttestationSchemeThreshold AttestationScheme = "threshold"
)

func (s AttestationScheme) String() string { return string(s) }

// IsValid reports whether s is one of the known attestation schemes.
func (s AttestationScheme) IsValid() bool {
	switch s {
	case AttestationSchemeBLS12381, AttestationSchemeEd25519,
		AttestationSchemeSchnorr, AttestationSchemeThreshold:
		return true
	default:
		return false
	}
}

// AttestationMessage is the canonical, scheme-agnostic fact validators
// attest to: that a specific bridge transfer out of the chat-chain's
// escrow accounting was observed to complete (or should be released) on
// the named destination chain.
type AttestationMessage struct {
	// TransferID is the bridge transfer this attestation concerns,
	// matching pkg/bridge's TransferState.TransferID.
	TransferID string `json:"transfer_id"`

	// DestinationChainID identifies the currency-chain counterparty, e.g.
	// "evm:8453" or "cosmwasm:osmosis-1", matching ChainConfig.ChainID.
	DestinationChainID string `json:"destination_chain_id"`

	// RecipientAddress is the destination-chain address funds release to.
	RecipientAddress string `json:"recipient_address"`

	// Amount and Denom describe the transfer's value, carried as decimal
	// strings so no validator's signature depends on a fixed-width integer
	// encoding choice.
	Amount string `json:"amount"`
	Denom  string `json:"denom"`

	// SourceTxHash is the chat-chain transaction that locked the funds
	// being released.
	SourceTxHash string `json:"source_tx_hash"`

	// ObservedBlockNumber is the destination-chain block the validator
	// observed (or will submit) this release at.
	ObservedBlockNumber uint64 `json:"observed_block_number,omitempty"`

	// Timestamp is when the attesting validator produced this message.
	Timestamp int64 `json:"timestamp"`

	// BatchID links this attestation to a relay batch when several
	// transfers are settled together (spec.md §4.E batch submission).
	BatchID string `json:"batch_id,omitempty"`

	// MerkleRoot is the root of the batch's transfer-id merkle tree when
	// BatchID is set; empty for a single-transfer attestation.
	MerkleRoot [32]byte `json:"merkle_root,omitempty"`
}

// Hash computes validator-facing message identity; actual signing always
// goes through a strategy's own ComputeMessageHash, which canonicalizes
// the full struct (see ed25519_strategy.go, bls_strategy.go).
func (m *AttestationMessage) Hash() [32]byte {
	data, err := json.Marshal(m)
	if err != nil {
		return [32]byte{}
	}
	return sha256.Sum256(data)
}

// Attestation is a single validator's signature over an AttestationMessage.
type Attestation struct {
	AttestationID uuid.UUID `json:"attestation_id"`

	Scheme AttestationScheme `json:"scheme"`

	ValidatorID    string `json:"validator_id"`
	ValidatorIndex uint32 `json:"validator_index,omitempty"`

	// PublicKey is the validator's public key for Scheme: 96 bytes (G2
	// point) for BLS, 32 bytes for Ed25519.
	PublicKey []byte `json:"public_key"`

	// Signature is the raw signature bytes: 48 bytes (G1 point) for BLS,
	// 64 bytes for Ed25519.
	Signature []byte `json:"signature"`

	Message     *AttestationMessage `json:"message"`
	MessageHash [32]byte            `json:"message_hash"`

	// Weight is this validator's stake weight toward the release quorum.
	Weight int64 `json:"weight"`

	Timestamp time.Time `json:"timestamp"`

	Verified   bool       `json:"verified,omitempty"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
}

// AggregatedAttestation is what pkg/bridge submits to the destination
// chain as the release authorization: for BLS, every participating
// signature is combined into one; for Ed25519, they are simply collected
// and verified individually on submission.
type AggregatedAttestation struct {
	AggregationID uuid.UUID `json:"aggregation_id"`

	Scheme      AttestationScheme `json:"scheme"`
	MessageHash [32]byte          `json:"message_hash"`

	// AggregatedSignature/AggregatedPublicKey are set only for a scheme
	// that supports aggregation (see SupportsAggregation).
	AggregatedSignature []byte `json:"aggregated_signature,omitempty"`
	AggregatedPublicKey []byte `json:"aggregated_public_key,omitempty"`

	// Attestations holds every individual signature: the audit trail for
	// BLS, the verification set itself for Ed25519.
	Attestations []*Attestation `json:"attestations"`

	ParticipantIDs    []string `json:"participant_ids"`
	ParticipantCount  int      `json:"participant_count"`
	ValidatorBitfield []byte   `json:"validator_bitfield,omitempty"`

	TotalWeight     int64 `json:"total_weight"`
	AchievedWeight  int64 `json:"achieved_weight"`
	ThresholdWeight int64 `json:"threshold_weight"`
	ThresholdMet    bool  `json:"threshold_met"`

	FirstAttestation time.Time `json:"first_attestation"`
	LastAttestation  time.Time `json:"last_attestation"`
	AggregatedAt     time.Time `json:"aggregated_at"`

	Verified   bool       `json:"verified,omitempty"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`

	BatchID string `json:"batch_id,omitempty"`
}

// AttestationStrategy is the pluggable per-scheme signing/verification
// implementation a bridge validator runs. Implementations must be
// thread-safe: pkg/bridge calls into one from whichever goroutine is
// currently processing a transfer.
type AttestationStrategy interface {
	Scheme() AttestationScheme

	Sign(ctx context.Context, message *AttestationMessage) (*Attestation, error)
	Verify(ctx context.Context, attestation *Attestation) (bool, error)

	// Aggregate combines attestations into one release authorization:
	// cryptographically for BLS, by collection for Ed25519.
	Aggregate(ctx context.Context, attestations []*Attestation) (*AggregatedAttestation, error)
	VerifyAggregated(ctx context.Context, agg *AggregatedAttestation) (bool, error)

	// SupportsAggregation reports whether Aggregate actually combines
	// signatures (BLS) or only collects them (Ed25519).
	SupportsAggregation() bool

	PublicKey() []byte
	ValidatorID() string
	ValidatorIndex() uint32

	ComputeMessageHash(message *AttestationMessage) ([32]byte, error)
}

// AttestationCollector gathers attestations from the validator set for one
// pending transfer until quorum is reached or the finality window expires.
type AttestationCollector interface {
	RequestAttestation(ctx context.Context, validatorID string, message *AttestationMessage) (*Attestation, error)
	BroadcastRequest(ctx context.Context, message *AttestationMessage) ([]*Attestation, error)

	// CollectUntilThreshold blocks until ThresholdConfig's quorum is met or
	// timeout elapses, whichever comes first.
	CollectUntilThreshold(ctx context.Context, message *AttestationMessage, timeout time.Duration) (*AggregatedAttestation, error)

	GetCollectedAttestations(messageHash [32]byte) []*Attestation
	AddLocalAttestation(attestation *Attestation) error
}

// ThresholdConfig is the weighted quorum a release authorization must
// reach: at least Numerator/Denominator of total validator stake, and
// never fewer than MinValidators distinct signers.
type ThresholdConfig struct {
	Numerator     uint64 `json:"numerator"`
	Denominator   uint64 `json:"denominator"`
	MinValidators int    `json:"min_validators"`
}

// DefaultThresholdConfig is the chat-chain's standard 2/3+1 bridge quorum,
// matching the BFT consensus threshold pkg/chain enforces for blocks.
func DefaultThresholdConfig() *ThresholdConfig {
	return &ThresholdConfig{
		Numerator:     2,
		Denominator:   3,
		MinValidators: 3,
	}
}

// CalculateThresholdWeight returns the minimum stake weight a release
// authorization must carry out of totalWeight.
func (c *ThresholdConfig) CalculateThresholdWeight(totalWeight int64) int64 {
	return (totalWeight*int64(c.Numerator))/int64(c.Denominator) + 1
}

// IsThresholdMet reports whether achievedWeight clears the quorum bar.
func (c *ThresholdConfig) IsThresholdMet(achievedWeight, totalWeight int64) bool {
	return achievedWeight >= c.CalculateThresholdWeight(totalWeight)
}
