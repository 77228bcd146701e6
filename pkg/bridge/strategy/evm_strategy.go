// EVM chain bridge strategy: implements Strategy for Ethereum and
// EVM-compatible currency chains.
//
// Adapted from the teacher's pkg/chain/strategy/evm_strategy.go: the same
// ethclient.Dial + keyed-transactor connection setup, repurposed from the
// anchor workflow to bridge transfer initiate/attest/execute/rollback, and
// folding in evm_observer.go's confirmation-polling shape directly into
// ObserveTransfer instead of a separate observer type.

package strategy

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	attestation "github.com/chikuno/dchat/pkg/attestation/strategy"
)

// EVMStrategyConfig holds configuration for the EVM bridge strategy.
type EVMStrategyConfig struct {
	ChainConfig     *ChainConfig
	PrivateKeyHex   string
	GasLimit        uint64
	MaxGasPriceGwei int64
	ReceiptTimeout  time.Duration
	PollingInterval time.Duration
	ValidatorID     string
}

// DefaultEVMStrategyConfig returns default configuration.
func DefaultEVMStrategyConfig() *EVMStrategyConfig {
	return &EVMStrategyConfig{
		GasLimit:        3_000_000,
		MaxGasPriceGwei: 100,
		ReceiptTimeout:  30 * time.Minute,
		PollingInterval: 12 * time.Second,
	}
}

// EVMStrategy implements Strategy for EVM chains.
type EVMStrategy struct {
	mu sync.RWMutex

	config *EVMStrategyConfig
	client *ethclient.Client

	auth    *bind.TransactOpts
	chainID *big.Int

	bridgeContract common.Address
	initialized    bool
}

// NewEVMStrategy dials config.ChainConfig.RPC and builds a transactor from
// config.PrivateKeyHex if supplied.
func NewEVMStrategy(ctx context.Context, config *EVMStrategyConfig) (*EVMStrategy, error) {
	if config == nil || config.ChainConfig == nil {
		return nil, fmt.Errorf("chain config is required")
	}
	if config.ChainConfig.RPC == "" {
		return nil, fmt.Errorf("RPC endpoint is required")
	}

	s := &EVMStrategy{config: config}

	client, err := ethclient.DialContext(ctx, config.ChainConfig.RPC)
	if err != nil {
		return nil, fmt.Errorf("connect to ethereum: %w", err)
	}
	s.client = client

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	chainID, err := client.ChainID(dialCtx)
	if err != nil {
		return nil, fmt.Errorf("get chain ID: %w", err)
	}
	s.chainID = chainID

	if config.PrivateKeyHex != "" {
		privateKey, err := crypto.HexToECDSA(config.PrivateKeyHex)
		if err != nil {
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
		auth, err := bind.NewKeyedTransactorWithChainID(privateKey, chainID)
		if err != nil {
			return nil, fmt.Errorf("create transactor: %w", err)
		}
		auth.GasLimit = config.GasLimit
		if config.MaxGasPriceGwei > 0 {
			auth.GasPrice = new(big.Int).Mul(big.NewInt(config.MaxGasPriceGwei), big.NewInt(1e9))
		}
		s.auth = auth
	}

	if config.ChainConfig.BridgeContractAddress != "" {
		if !common.IsHexAddress(config.ChainConfig.BridgeContractAddress) {
			return nil, fmt.Errorf("invalid bridge contract address: %s", config.ChainConfig.BridgeContractAddress)
		}
		s.bridgeContract = common.HexToAddress(config.ChainConfig.BridgeContractAddress)
	}

	s.initialized = true
	return s, nil
}

func (s *EVMStrategy) Platform() ChainPlatform { return ChainPlatformEVM }

func (s *EVMStrategy) ChainID() string { return s.chainID.String() }

func (s *EVMStrategy) Config() *ChainConfig { return s.config.ChainConfig }

// InitiateTransfer, SubmitAttestation, ExecuteTransfer, and RollbackTransfer
// all need a deployed bridge contract's ABI bindings to actually encode and
// send a transaction; that contract is out of this repository (it lives in
// the currency chain's own codebase). This strategy wires up the
// connection, signer, and contract address so a generated contract binding
// can be dropped in directly, matching the state the teacher's own
// CreateAnchor left the equivalent EVM path in.
func (s *EVMStrategy) InitiateTransfer(ctx context.Context, req *TransferRequest) (*TransferResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return nil, fmt.Errorf("strategy not initialized")
	}
	if s.auth == nil {
		return nil, fmt.Errorf("no transaction auth configured")
	}

	return &TransferResult{Status: 0, ObservedAt: time.Now().UTC()},
		fmt.Errorf("InitiateTransfer: requires the deployed bridge contract's ABI binding")
}

func (s *EVMStrategy) SubmitAttestation(ctx context.Context, transferID string, agg *attestation.AggregatedAttestation) (*TransferResult, error) {
	return nil, fmt.Errorf("SubmitAttestation: requires the deployed bridge contract's ABI binding")
}

func (s *EVMStrategy) ExecuteTransfer(ctx context.Context, transferID string) (*TransferResult, error) {
	return nil, fmt.Errorf("ExecuteTransfer: requires the deployed bridge contract's ABI binding")
}

func (s *EVMStrategy) RollbackTransfer(ctx context.Context, transferID string) (*TransferResult, error) {
	return nil, fmt.Errorf("RollbackTransfer: requires the deployed bridge contract's ABI binding")
}

// ObserveTransfer polls for txHash's receipt and reports its confirmation
// count against the chain tip, folding in the teacher's EVMObserver
// polling shape directly rather than as a separate observer type.
func (s *EVMStrategy) ObserveTransfer(ctx context.Context, txHash string) (*TransferResult, error) {
	if !common.IsHexHash(txHash) {
		return nil, fmt.Errorf("invalid transaction hash: %s", txHash)
	}
	hash := common.HexToHash(txHash)

	receipt, err := s.client.TransactionReceipt(ctx, hash)
	if err != nil {
		return &TransferResult{TxHash: txHash, Status: 0, ObservedAt: time.Now().UTC()}, nil
	}

	tip, err := s.client.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("get chain tip: %w", err)
	}

	confirmations := 0
	if tip >= receipt.BlockNumber.Uint64() {
		confirmations = int(tip-receipt.BlockNumber.Uint64()) + 1
	}

	status := uint8(2)
	if receipt.Status == 1 {
		status = 1
	}

	return &TransferResult{
		TxHash:        txHash,
		BlockNumber:   receipt.BlockNumber.Uint64(),
		BlockHash:     receipt.BlockHash.Hex(),
		Confirmations: confirmations,
		Finalized:     confirmations >= s.GetRequiredConfirmations(),
		Status:        status,
		ObservedAt:    time.Now().UTC(),
	}, nil
}

func (s *EVMStrategy) GetRequiredConfirmations() int {
	if s.config.ChainConfig != nil && s.config.ChainConfig.RequiredConfirmations > 0 {
		return s.config.ChainConfig.RequiredConfirmations
	}
	return 12
}

func (s *EVMStrategy) HealthCheck(ctx context.Context) error {
	_, err := s.client.BlockNumber(ctx)
	return err
}
