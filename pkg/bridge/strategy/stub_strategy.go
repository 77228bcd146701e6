// Non-EVM chain bridge strategies (stub).
//
// The teacher's pkg/chain/strategy carries one near-identical stub file
// per non-EVM platform (cosmwasm_strategy.go, move_strategy.go,
// near_strategy.go, solana_strategy.go, ton_strategy.go), each just a
// config struct plus a handful of "not implemented" methods differing
// only by platform name. Consolidated here into one generic stub rather
// than five copies of the same five methods, since none of them carry any
// platform-specific logic to adapt yet — each still needs its chain's own
// SDK wired in before it does anything real.
//
// TODO: give each platform its own client once a currency-chain bridge
// contract target is chosen (CosmWasm: cosmos-sdk/CosmWasm client, Solana:
// solana-go, Move: aptos-go-sdk or sui-go-sdk, NEAR: near-api-go, TON:
// tonutils-go).
package strategy

import (
	"context"
	"fmt"

	attestation "github.com/chikuno/dchat/pkg/attestation/strategy"
)

// StubStrategyConfig holds configuration common to every non-EVM platform
// stub.
type StubStrategyConfig struct {
	ChainConfig *ChainConfig
	RPCURL      string
	ValidatorID string
}

// StubStrategy implements Strategy for a non-EVM platform that has no
// wired client yet. Every mutating operation returns an explicit
// not-implemented error rather than silently succeeding.
type StubStrategy struct {
	platform ChainPlatform
	config   *StubStrategyConfig
}

// NewStubStrategy builds a stub for platform.
func NewStubStrategy(platform ChainPlatform, config *StubStrategyConfig) (*StubStrategy, error) {
	if config == nil {
		config = &StubStrategyConfig{}
	}
	return &StubStrategy{platform: platform, config: config}, nil
}

func (s *StubStrategy) Platform() ChainPlatform { return s.platform }

func (s *StubStrategy) ChainID() string {
	if s.config.ChainConfig != nil {
		return s.config.ChainConfig.ChainID
	}
	return string(s.platform)
}

func (s *StubStrategy) Config() *ChainConfig { return s.config.ChainConfig }

func (s *StubStrategy) InitiateTransfer(ctx context.Context, req *TransferRequest) (*TransferResult, error) {
	return nil, fmt.Errorf("%s.InitiateTransfer: not implemented", s.platform)
}

func (s *StubStrategy) SubmitAttestation(ctx context.Context, transferID string, agg *attestation.AggregatedAttestation) (*TransferResult, error) {
	return nil, fmt.Errorf("%s.SubmitAttestation: not implemented", s.platform)
}

func (s *StubStrategy) ExecuteTransfer(ctx context.Context, transferID string) (*TransferResult, error) {
	return nil, fmt.Errorf("%s.ExecuteTransfer: not implemented", s.platform)
}

func (s *StubStrategy) RollbackTransfer(ctx context.Context, transferID string) (*TransferResult, error) {
	return nil, fmt.Errorf("%s.RollbackTransfer: not implemented", s.platform)
}

func (s *StubStrategy) ObserveTransfer(ctx context.Context, txHash string) (*TransferResult, error) {
	return nil, fmt.Errorf("%s.ObserveTransfer: not implemented", s.platform)
}

func (s *StubStrategy) GetRequiredConfirmations() int {
	if s.config.ChainConfig != nil && s.config.ChainConfig.RequiredConfirmations > 0 {
		return s.config.ChainConfig.RequiredConfirmations
	}
	return 1
}

func (s *StubStrategy) HealthCheck(ctx context.Context) error {
	return fmt.Errorf("%s.HealthCheck: not implemented", s.platform)
}
