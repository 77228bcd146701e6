// Chain execution strategy interface for multi-chain bridge operations:
// EVM, CosmWasm, Solana, Move, TON, and NEAR currency-chain counterparties.
//
// Adapted from the teacher's pkg/chain/strategy/interface.go: same
// platform-identifier/ChainConfig shape and the same pluggable
// per-platform strategy interface, repurposed from the 3-step
// Create→Verify→Governance anchor workflow to the chat-chain's
// Initiate→Attest→Execute→Rollback bridge-transfer workflow (spec.md
// §4.G).
package strategy

import (
	"context"
	"time"

	attestation "github.com/chikuno/dchat/pkg/attestation/strategy"
)

// ChainPlatform identifies the currency-chain platform type.
type ChainPlatform string

const (
	ChainPlatformEVM      ChainPlatform = "evm"
	ChainPlatformCosmWasm ChainPlatform = "cosmwasm"
	ChainPlatformSolana   ChainPlatform = "solana"
	ChainPlatformMove     ChainPlatform = "move"
	ChainPlatformTON      ChainPlatform = "ton"
	ChainPlatformNEAR     ChainPlatform = "near"
)

func (p ChainPlatform) String() string { return string(p) }

func (p ChainPlatform) IsValid() bool {
	switch p {
	case ChainPlatformEVM, ChainPlatformCosmWasm, ChainPlatformSolana,
		ChainPlatformMove, ChainPlatformTON, ChainPlatformNEAR:
		return true
	default:
		return false
	}
}

// DefaultAttestationScheme returns the default attestation scheme for the
// platform: BLS for EVM (cheap on-chain aggregate verification), Ed25519
// for the rest (native support, no aggregation needed at this scale).
func (p ChainPlatform) DefaultAttestationScheme() attestation.AttestationScheme {
	if p == ChainPlatformEVM {
		return attestation.AttestationSchemeBLS12381
	}
	return attestation.AttestationSchemeEd25519
}

// ChainConfig holds configuration for one currency-chain counterparty.
type ChainConfig struct {
	Platform              ChainPlatform                  `json:"platform"`
	ChainID               string                         `json:"chain_id"`
	NetworkName           string                         `json:"network_name"`
	RPC                   string                         `json:"rpc"`
	RPCBackup             string                         `json:"rpc_backup,omitempty"`
	BridgeContractAddress string                         `json:"bridge_contract_address"`
	RequiredConfirmations int                            `json:"required_confirmations"`
	AttestationScheme     attestation.AttestationScheme  `json:"attestation_scheme,omitempty"`
	Enabled               bool                           `json:"enabled"`
}

func (c *ChainConfig) GetAttestationScheme() attestation.AttestationScheme {
	if c.AttestationScheme != "" {
		return c.AttestationScheme
	}
	return c.Platform.DefaultAttestationScheme()
}

// TransferRequest is the chain-agnostic request to initiate a bridge
// transfer out of the chat-chain's reputation/escrow accounting and onto a
// currency chain (spec.md §4.G "Initiate").
type TransferRequest struct {
	TransferID      string    `json:"transfer_id"`
	SourceIdentity  string    `json:"source_identity"`
	DestinationAddr string    `json:"destination_addr"`
	Amount          string    `json:"amount"`
	Denom           string    `json:"denom"`
	Timestamp       time.Time `json:"timestamp"`
}

// TransferResult is the chain-agnostic result of a bridge operation.
type TransferResult struct {
	TxHash         string    `json:"tx_hash"`
	BlockNumber    uint64    `json:"block_number"`
	BlockHash      string    `json:"block_hash"`
	Confirmations  int       `json:"confirmations"`
	Finalized      bool      `json:"finalized"`
	Status         uint8     `json:"status"` // 0=pending 1=success 2=failed
	ObservedAt     time.Time `json:"observed_at"`
}

// Strategy defines the interface for one currency-chain platform's bridge
// operations. Implementations must be thread-safe.
type Strategy interface {
	Platform() ChainPlatform
	ChainID() string
	Config() *ChainConfig

	// InitiateTransfer submits the locking/escrow transaction on the
	// currency chain for req.
	InitiateTransfer(ctx context.Context, req *TransferRequest) (*TransferResult, error)

	// SubmitAttestation submits a threshold-attested release authorization
	// for a previously initiated transfer.
	SubmitAttestation(ctx context.Context, transferID string, agg *attestation.AggregatedAttestation) (*TransferResult, error)

	// ExecuteTransfer finalizes the release on the currency chain once the
	// attestation has been accepted.
	ExecuteTransfer(ctx context.Context, transferID string) (*TransferResult, error)

	// RollbackTransfer reverses an initiated-but-not-executed transfer
	// after the finality window elapses without quorum attestation
	// (spec.md §3 "either both chains record the paired entry within a
	// finality window, or both roll back").
	RollbackTransfer(ctx context.Context, transferID string) (*TransferResult, error)

	// ObserveTransfer polls the currency chain for txHash's current status.
	ObserveTransfer(ctx context.Context, txHash string) (*TransferResult, error)

	GetRequiredConfirmations() int
	HealthCheck(ctx context.Context) error
}
