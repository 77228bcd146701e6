package chain

import (
	"testing"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/chikuno/dchat/pkg/chain/state"
)

func newTestChainState(t *testing.T) *state.ChainState {
	t.Helper()
	return state.New(dbm.NewMemDB())
}

func TestOpenDisputeRejectsReopeningSameID(t *testing.T) {
	tr := NewDisputeTracker(newTestChainState(t))

	if err := tr.OpenDispute("d1", "evidence-blob", 10); err != nil {
		t.Fatalf("unexpected error opening dispute: %v", err)
	}
	if err := tr.OpenDispute("d1", "evidence-blob-2", 20); err == nil {
		t.Fatalf("expected error reopening an already-open dispute")
	}
}

func TestResolveDisputeWithinChallengeWindow(t *testing.T) {
	tr := NewDisputeTracker(newTestChainState(t))

	if err := tr.OpenDispute("d1", "evidence", 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tr.ResolveDispute("d1", 10+ChallengeWindowBlocks-1); err != nil {
		t.Fatalf("expected resolution within the challenge window to succeed: %v", err)
	}
}

func TestResolveDisputeRejectsAfterChallengeWindow(t *testing.T) {
	tr := NewDisputeTracker(newTestChainState(t))

	if err := tr.OpenDispute("d1", "evidence", 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tr.ResolveDispute("d1", 10+ChallengeWindowBlocks+1); err == nil {
		t.Fatalf("expected resolution after the challenge window to be rejected")
	}
}

func TestExpireUnrefutedSlashesOnlyAfterDeadline(t *testing.T) {
	tr := NewDisputeTracker(newTestChainState(t))

	if err := tr.OpenDispute("d1", "evidence", 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	shouldSlash, err := tr.ExpireUnrefuted("d1", 10+ChallengeWindowBlocks-1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if shouldSlash {
		t.Fatalf("should not slash before the challenge deadline")
	}

	shouldSlash, err = tr.ExpireUnrefuted("d1", 10+ChallengeWindowBlocks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !shouldSlash {
		t.Fatalf("expected an unrefuted dispute to slash once its deadline has passed")
	}

	shouldSlash, err = tr.ExpireUnrefuted("d1", 10+ChallengeWindowBlocks+50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if shouldSlash {
		t.Fatalf("a dispute already slashed should not slash again")
	}
}

func TestExpireUnrefutedDoesNotSlashResolvedDisputes(t *testing.T) {
	tr := NewDisputeTracker(newTestChainState(t))

	if err := tr.OpenDispute("d1", "evidence", 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tr.ResolveDispute("d1", 20); err != nil {
		t.Fatalf("unexpected error resolving: %v", err)
	}

	shouldSlash, err := tr.ExpireUnrefuted("d1", 10+ChallengeWindowBlocks+1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if shouldSlash {
		t.Fatalf("a resolved dispute must never slash")
	}
}
