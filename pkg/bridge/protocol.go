// Package bridge implements the chat-chain's currency-chain bridge: the
// Initiate → Attest → Execute → Rollback transfer protocol named in
// spec.md §4.G, threshold-attested by the validator set rather than a
// single relayer.
//
// Grounded on the teacher's anchor workflow state machine
// (pkg/chain/strategy/interface.go's AnchorWorkflowState, generalized from
// a fixed 3-step Create/Verify/Governance sequence to this 4-state
// transfer lifecycle with an explicit rollback path), combined with
// pkg/attestation/strategy's threshold-attestation primitives reused
// directly rather than reinvented.
package bridge

import (
	"fmt"
	"sync"
	"time"

	attestation "github.com/chikuno/dchat/pkg/attestation/strategy"
	"github.com/chikuno/dchat/pkg/bridge/strategy"
)

// TransferPhase names one stage of the bridge transfer lifecycle.
type TransferPhase string

const (
	PhaseInitiated TransferPhase = "initiated"
	PhaseAttesting TransferPhase = "attesting"
	PhaseExecuted  TransferPhase = "executed"
	PhaseRolledBack TransferPhase = "rolled_back"
)

// TransferState tracks one in-flight bridge transfer through its
// initiate/attest/execute/rollback lifecycle.
type TransferState struct {
	TransferID   string
	Request      *strategy.TransferRequest
	Phase        TransferPhase
	InitiatedAt  time.Time
	Attestations []*attestation.Attestation
	Aggregated   *attestation.AggregatedAttestation
	Result       *strategy.TransferResult
}

// Protocol drives the bridge transfer state machine for one currency-chain
// strategy, threshold-attesting releases the way spec.md §9's pinned
// Open Question decision resolves bridge atomicity: "threshold attestation
// with timeout rollback".
type Protocol struct {
	mu sync.Mutex

	strategy       strategy.Strategy
	threshold      *attestation.ThresholdConfig
	finalityWindow time.Duration
	validatorCount int64

	transfers map[string]*TransferState
}

// NewProtocol builds a Protocol over s, requiring threshold's quorum
// weight out of validatorCount total weight, and rolling back any
// transfer that hasn't reached quorum attestation within finalityWindow.
func NewProtocol(s strategy.Strategy, threshold *attestation.ThresholdConfig, validatorCount int64, finalityWindow time.Duration) *Protocol {
	if threshold == nil {
		threshold = attestation.DefaultThresholdConfig()
	}
	return &Protocol{
		strategy:       s,
		threshold:      threshold,
		validatorCount: validatorCount,
		finalityWindow: finalityWindow,
		transfers:      make(map[string]*TransferState),
	}
}

// Initiate begins a transfer by recording it locally in PhaseInitiated
// (spec.md §4.G "Initiate"). It does not submit the lock/escrow
// transaction to the currency chain; the Protocol's strategy is not
// called.
func (p *Protocol) Initiate(req *strategy.TransferRequest, now time.Time) (*TransferState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.transfers[req.TransferID]; exists {
		return nil, fmt.Errorf("transfer %s already initiated", req.TransferID)
	}

	ts := &TransferState{
		TransferID:  req.TransferID,
		Request:     req,
		Phase:       PhaseInitiated,
		InitiatedAt: now,
	}
	p.transfers[req.TransferID] = ts
	return ts, nil
}

// Attest records one validator's attestation for transferID, moves the
// transfer to PhaseAttesting, adds weight (the attesting validator's stake
// weight) to *achievedWeight, and reports whether the threshold and the
// MinValidators floor are now both met. It does not aggregate the
// attestations: TransferState.Aggregated is left unset.
func (p *Protocol) Attest(transferID string, att *attestation.Attestation, weight int64, achievedWeight *int64) (*TransferState, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ts, ok := p.transfers[transferID]
	if !ok {
		return nil, false, fmt.Errorf("transfer %s not initiated", transferID)
	}
	if ts.Phase == PhaseExecuted || ts.Phase == PhaseRolledBack {
		return nil, false, fmt.Errorf("transfer %s already settled (%s)", transferID, ts.Phase)
	}

	ts.Phase = PhaseAttesting
	ts.Attestations = append(ts.Attestations, att)
	*achievedWeight += weight

	quorumMet := p.threshold.IsThresholdMet(*achievedWeight, p.validatorCount) &&
		len(ts.Attestations) >= p.threshold.MinValidators
	return ts, quorumMet, nil
}

// IsExpired reports whether transferID has exceeded its finality window
// without reaching quorum attestation, meaning it must be rolled back
// rather than executed (spec.md §3's bridge-atomicity invariant).
func (p *Protocol) IsExpired(transferID string, now time.Time) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ts, ok := p.transfers[transferID]
	if !ok {
		return false, fmt.Errorf("transfer %s not initiated", transferID)
	}
	if ts.Phase == PhaseExecuted || ts.Phase == PhaseRolledBack {
		return false, nil
	}
	return now.Sub(ts.InitiatedAt) > p.finalityWindow, nil
}

// MarkExecuted transitions transferID to PhaseExecuted with result.
func (p *Protocol) MarkExecuted(transferID string, result *strategy.TransferResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ts, ok := p.transfers[transferID]
	if !ok {
		return fmt.Errorf("transfer %s not initiated", transferID)
	}
	if ts.Phase != PhaseAttesting {
		return fmt.Errorf("transfer %s must be attesting before execution, is %s", transferID, ts.Phase)
	}
	ts.Phase = PhaseExecuted
	ts.Result = result
	return nil
}

// MarkRolledBack transitions transferID to PhaseRolledBack with result.
func (p *Protocol) MarkRolledBack(transferID string, result *strategy.TransferResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ts, ok := p.transfers[transferID]
	if !ok {
		return fmt.Errorf("transfer %s not initiated", transferID)
	}
	if ts.Phase == PhaseExecuted {
		return fmt.Errorf("transfer %s already executed, cannot roll back", transferID)
	}
	ts.Phase = PhaseRolledBack
	ts.Result = result
	return nil
}

// Get returns the current state of transferID.
func (p *Protocol) Get(transferID string) (*TransferState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ts, ok := p.transfers[transferID]
	return ts, ok
}
