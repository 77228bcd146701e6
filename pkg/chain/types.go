// Package chain implements the chat-chain consensus layer: the BFT
// replicated log of LogEntries (spec.md §3, §4.F), its ABCI application
// (app.go, adapted from the teacher's pkg/consensus/abci_validator.go),
// round/proposer bookkeeping (bft_integration.go), invariant checking
// (invariants.go, adapted from pkg/consensus/validator_block_invariants.go),
// Merkle-checkpoint pruning (pruning.go), and dispute resolution
// (dispute.go). Chain state itself lives in the state subpackage.
package chain

import (
	"time"

	"github.com/chikuno/dchat/pkg/identity"
)

// Entry kinds, the sum-typed LogEntry.Kind values named in spec.md §3.
const (
	KindIdentityRegister     = "IdentityRegister"
	KindDeviceRotate         = "DeviceRotate"
	KindChannelCreate        = "ChannelCreate"
	KindChannelPolicyUpdate  = "ChannelPolicyUpdate"
	KindMessageCommit        = "MessageCommit"
	KindDeliveryBatch        = "DeliveryBatch"
	KindGuardianAction       = "GuardianAction"
	KindDisputeOpen          = "DisputeOpen"
	KindDisputeResolve       = "DisputeResolve"
	KindSlashEvent           = "SlashEvent"
	KindGovernanceProposal   = "GovernanceProposal"
	KindGovernanceVote       = "GovernanceVote"
	KindBridgeTransfer       = "BridgeTransfer"
)

// LogEntry is the chain's sum-typed log entry. pkg/identity already defines
// this shape for its own IdentityRegister/DeviceRotate candidates; the chain
// reuses it verbatim as the one entry type carried in every block, with
// Kind distinguishing the payload shape (decoded from Payload by callers
// that care, e.g. pkg/relay decoding a DeliveryBatch's merkle root).
type LogEntry = identity.LogEntry

// Block is one entry in the totally ordered chat-chain log (spec.md §3:
// "A block contains: height, parent hash, proposer identity, timestamp,
// state root ..., a list of LogEntries, and validator signatures
// constituting a ≥⅔ quorum.").
type Block struct {
	Height     uint64
	ParentHash []byte
	Proposer   string
	Timestamp  time.Time
	StateRoot  []byte
	Entries    []*LogEntry

	// Signatures maps validator identity (hex pubkey) to its signature over
	// the block header, accumulated during the pre-commit phase.
	Signatures map[string][]byte
}

// QuorumSize returns the finality threshold ⌈2n/3⌉+1 for a validator set of
// size n (spec.md §4.F).
func QuorumSize(n int) int {
	if n <= 0 {
		return 0
	}
	return (2*n+2)/3 + 1
}

// HasQuorum reports whether sigCount signatures out of n validators meet the
// ⌈2n/3⌉+1 finality threshold.
func HasQuorum(sigCount, n int) bool {
	return sigCount >= QuorumSize(n)
}

// IsByzantineFaultTolerant reports whether a validator set of size n
// tolerates maxFaults byzantine validators, i.e. n >= 3*maxFaults+1.
// Grounded on the teacher's pkg/consensus/types.go IsByzantineFaultTolerant.
func IsByzantineFaultTolerant(n, maxFaults int) bool {
	return n >= 3*maxFaults+1
}
