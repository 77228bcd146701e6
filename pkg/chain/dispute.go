package chain

import (
	"fmt"
	"sync"

	"github.com/chikuno/dchat/pkg/chain/state"
)

// ChallengeWindowBlocks is W_challenge, the number of blocks the accused has
// to submit an exonerating DisputeResolve before a SlashEvent fires
// automatically (spec.md §4.F "Dispute resolution").
const ChallengeWindowBlocks = 100

// DisputeTracker drives the DisputeOpen → [DisputeResolve | SlashEvent]
// lifecycle. It has no direct analogue in the teacher (validator
// misbehavior there is handled out-of-band by governance, not an on-chain
// challenge window); built directly from spec.md §4.F, using the same
// JSON-backed ChainState records pkg/chain/state already provides for
// identities and channels.
type DisputeTracker struct {
	mu    sync.Mutex
	state *state.ChainState
}

// NewDisputeTracker builds a tracker backed by st.
func NewDisputeTracker(st *state.ChainState) *DisputeTracker {
	return &DisputeTracker{state: st}
}

// OpenDispute records a DisputeOpen entry's evidence and starts its
// challenge window at openedAtHeight.
func (t *DisputeTracker) OpenDispute(id, evidence string, openedAtHeight uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := t.state.GetDispute(id); err == nil {
		return fmt.Errorf("dispute %s already open", id)
	}

	return t.state.PutDispute(&state.DisputeRecord{
		ID:                id,
		Evidence:          evidence,
		OpenedAtHeight:    openedAtHeight,
		ChallengeDeadline: openedAtHeight + ChallengeWindowBlocks,
	})
}

// ResolveDispute marks id exonerated, e.g. the accused proved the signature
// in evidence is not theirs via key history. A dispute can only be resolved
// before its challenge window elapses.
func (t *DisputeTracker) ResolveDispute(id string, atHeight uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.state.GetDispute(id)
	if err != nil {
		return fmt.Errorf("dispute %s: %w", id, err)
	}
	if rec.Resolved || rec.Slashed {
		return fmt.Errorf("dispute %s already settled", id)
	}
	if atHeight > rec.ChallengeDeadline {
		return fmt.Errorf("dispute %s: challenge window already elapsed at height %d (deadline %d)", id, atHeight, rec.ChallengeDeadline)
	}

	rec.Resolved = true
	return t.state.PutDispute(rec)
}

// ExpireUnrefuted scans for disputes whose challenge window has elapsed at
// currentHeight without a DisputeResolve, and returns the ids that should
// now emit an automatic SlashEvent (spec.md §4.F: "If unrefuted, a
// SlashEvent fires automatically at window expiry."). Callers are expected
// to track the set of currently-open dispute ids themselves (e.g. from
// DisputeOpen entries seen since the last call) since ChainState has no
// iteration primitive; id is looked up and, if expired and unsettled,
// marked slashed.
func (t *DisputeTracker) ExpireUnrefuted(id string, currentHeight uint64) (shouldSlash bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.state.GetDispute(id)
	if err != nil {
		return false, fmt.Errorf("dispute %s: %w", id, err)
	}
	if rec.Resolved || rec.Slashed {
		return false, nil
	}
	if currentHeight < rec.ChallengeDeadline {
		return false, nil
	}

	rec.Slashed = true
	if err := t.state.PutDispute(rec); err != nil {
		return false, err
	}
	return true, nil
}
