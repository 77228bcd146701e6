package chain

import (
	"sync"
	"time"
)

// Validator is one member of the current validator set: an identity that
// has staked at least K_validator and been admitted by governance
// (spec.md §4.F). Stake drives proposer-selection weight.
type Validator struct {
	Identity string
	Stake    int64
}

// ValidatorSet is the current BFT validator membership plus the
// proposer-priority accumulators used to pick a deterministic, stake-weighted
// proposer at every height (spec.md §4.F: "a deterministic proposer is
// chosen from the validator set (round-robin weighted by stake)"). The
// priority-accumulator algorithm follows the same shape CometBFT itself uses
// internally for weighted round-robin proposer selection — the library is
// already wired as pkg/chain's consensus engine dependency, so this
// reimplements its publicly documented selection rule rather than reaching
// into its unexported internals.
type ValidatorSet struct {
	mu         sync.Mutex
	validators []Validator
	priority   map[string]int64
	totalStake int64
}

// NewValidatorSet builds a set from the given validators, seeding every
// proposer priority at zero.
func NewValidatorSet(validators []Validator) *ValidatorSet {
	vs := &ValidatorSet{
		validators: append([]Validator(nil), validators...),
		priority:   make(map[string]int64, len(validators)),
	}
	for _, v := range validators {
		vs.priority[v.Identity] = 0
		vs.totalStake += v.Stake
	}
	return vs
}

// Size returns the current validator count n, used for quorum math.
func (vs *ValidatorSet) Size() int {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return len(vs.validators)
}

// AdvanceProposer increments every validator's priority by its stake, then
// selects and decrements the highest-priority validator by the total stake
// — the standard weighted round-robin step. Called once per round (not per
// height) so that round advancement after a timeout also advances the
// rotation.
func (vs *ValidatorSet) AdvanceProposer() string {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	if len(vs.validators) == 0 {
		return ""
	}

	for _, v := range vs.validators {
		vs.priority[v.Identity] += v.Stake
	}

	winner := vs.validators[0]
	for _, v := range vs.validators[1:] {
		if vs.priority[v.Identity] > vs.priority[winner.Identity] {
			winner = v
		}
	}
	vs.priority[winner.Identity] -= vs.totalStake
	return winner.Identity
}

// Phase names one stage of the propose/prevote/precommit/commit cycle
// (spec.md §4.F "Block production").
type Phase string

const (
	PhasePropose   Phase = "propose"
	PhasePrevote   Phase = "prevote"
	PhasePrecommit Phase = "precommit"
	PhaseCommit    Phase = "commit"
)

// RoundState tracks the height/round/proposer/phase bookkeeping for one BFT
// consensus instance, generalized from the teacher's BFTConsensusEngine
// lifecycle (pkg/consensus/bft_integration.go) down to the pure
// round-advancement state machine: the teacher wraps an actual CometBFT
// node process (node.NewNode, privval, proxy) to drive this same propose/
// prevote/precommit/commit cycle; here the cycle is tracked explicitly so
// pkg/chain/app.go's ABCI callbacks and tests can drive it directly without
// standing up a full p2p node.
type RoundState struct {
	mu sync.Mutex

	valset *ValidatorSet

	height   uint64
	round    uint32
	proposer string
	phase    Phase

	prevotes   map[string]struct{}
	precommits map[string]struct{}

	blockTime time.Duration
}

// NewRoundState builds a RoundState driving valset's proposer rotation, with
// the given target block time (spec.md §4.F default 2-3s).
func NewRoundState(valset *ValidatorSet, blockTime time.Duration) *RoundState {
	return &RoundState{
		valset:    valset,
		phase:     PhaseCommit,
		blockTime: blockTime,
	}
}

// StartHeight begins a fresh height at round 0, selecting its first
// proposer.
func (r *RoundState) StartHeight(height uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.height = height
	r.round = 0
	r.proposer = r.valset.AdvanceProposer()
	r.phase = PhasePropose
	r.prevotes = make(map[string]struct{})
	r.precommits = make(map[string]struct{})
}

// AdvanceRound is called on propose/prevote/precommit timeout: the round
// advances to the next proposer and voting resets (spec.md §4.F: "On
// timeout at any stage, the round advances to the next proposer.").
func (r *RoundState) AdvanceRound() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.round++
	r.proposer = r.valset.AdvanceProposer()
	r.phase = PhasePropose
	r.prevotes = make(map[string]struct{})
	r.precommits = make(map[string]struct{})
}

// Height, Round, Proposer, and CurrentPhase report the round state's current
// position in the cycle.
func (r *RoundState) Height() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.height
}

func (r *RoundState) Round() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.round
}

func (r *RoundState) Proposer() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.proposer
}

func (r *RoundState) CurrentPhase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// RecordPrevote registers validator's pre-vote for the current round's
// proposal and reports whether the pre-votes now reach HasQuorum
// (⌈2n/3⌉+1 of the validator set), advancing the phase to precommit if so.
func (r *RoundState) RecordPrevote(validator string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != PhasePrevote && r.phase != PhasePropose {
		return false
	}
	r.phase = PhasePrevote
	r.prevotes[validator] = struct{}{}
	if HasQuorum(len(r.prevotes), r.valset.Size()) {
		r.phase = PhasePrecommit
		return true
	}
	return false
}

// RecordPrecommit registers validator's pre-commit and reports whether the
// pre-commits now reach HasQuorum (⌈2n/3⌉+1 of the validator set), meaning
// the block is finalized.
func (r *RoundState) RecordPrecommit(validator string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != PhasePrecommit {
		return false
	}
	r.precommits[validator] = struct{}{}
	if HasQuorum(len(r.precommits), r.valset.Size()) {
		r.phase = PhaseCommit
		return true
	}
	return false
}

// BlockTime returns the configured target block time.
func (r *RoundState) BlockTime() time.Duration {
	return r.blockTime
}
