package chain

import (
	"context"
	"fmt"

	"github.com/chikuno/dchat/pkg/chain/state"
	"github.com/chikuno/dchat/pkg/identity"
	"github.com/chikuno/dchat/pkg/merkle"
)

// RetentionPolicy is the governance-settable pruning policy named in
// spec.md §4.F ("Pruning"): "Archive (never prune), Light (prune after 90
// days), Mobile (prune after 30 days)".
type RetentionPolicy string

const (
	RetentionArchive RetentionPolicy = "archive"
	RetentionLight   RetentionPolicy = "light"
	RetentionMobile  RetentionPolicy = "mobile"
)

// Approximate block-count horizons for each non-archive policy, assuming
// the spec's 2-3s target block time (using 2.5s as the midpoint).
const (
	blocksPerDay  = uint64(24 * 60 * 60 / 2.5)
	LightHPrune   = 90 * blocksPerDay
	MobileHPrune  = 30 * blocksPerDay
)

// hPruneFor returns H_prune, the block-count horizon after which a node
// following policy replaces MessageCommit bodies with a Merkle checkpoint.
// Archive nodes never prune locally (spec.md §4.F: "archive nodes ignore
// the prune directive locally, but still honor the on-chain pruned state
// root for cross-validation").
func hPruneFor(policy RetentionPolicy) (height uint64, prunes bool) {
	switch policy {
	case RetentionLight:
		return LightHPrune, true
	case RetentionMobile:
		return MobileHPrune, true
	default:
		return 0, false
	}
}

// Pruner replaces old MessageCommit bodies with a Merkle checkpoint once
// they fall behind H_prune, archiving the full bodies first so they remain
// queryable through ArchiveStore. Grounded on the teacher's dual-store
// split (pkg/ledger/store.go's live KV plus pkg/database's relational
// archive) generalized from "keep everything in both stores forever" to
// "move it to the archive store and compact the live copy to a checkpoint
// once it crosses H_prune", since the teacher never prunes its ledger.
type Pruner struct {
	policy  RetentionPolicy
	live    *state.ChainState
	archive *state.ArchiveStore
}

// NewPruner builds a Pruner enforcing policy against live, archiving
// pruned bodies into archive.
func NewPruner(policy RetentionPolicy, live *state.ChainState, archive *state.ArchiveStore) *Pruner {
	return &Pruner{policy: policy, live: live, archive: archive}
}

// CheckpointRoot computes the Merkle root over entries, the value that
// replaces their bodies in the live header chain once they are pruned
// (spec.md §4.F: "MessageCommit bodies older than H_prune blocks may be
// replaced by a Merkle checkpoint").
func CheckpointRoot(entries []*identity.LogEntry) ([]byte, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("checkpoint root: no entries")
	}

	leaves := make([][]byte, len(entries))
	for i, e := range entries {
		leaves[i] = merkle.HashData([]byte(e.Kind + "|" + e.Identity + "|" + string(e.Signature)))
	}

	root, err := merkle.RootFromLeaves(leaves)
	if err != nil {
		return nil, fmt.Errorf("build checkpoint tree: %w", err)
	}
	return root, nil
}

// PruneHeight archives every MessageCommit entry committed at height (other
// kinds are not archived), then reports
// whether a node under p's policy should now drop the live copy in favor
// of the checkpoint root alone. currentHeight is the chain tip; archive
// nodes always return false.
func (p *Pruner) PruneHeight(ctx context.Context, height, currentHeight uint64, entries []*identity.LogEntry) (shouldDropLive bool, root []byte, err error) {
	horizon, prunes := hPruneFor(p.policy)
	if !prunes || currentHeight < height+horizon {
		return false, nil, nil
	}

	for _, e := range entries {
		if e.Kind != KindMessageCommit {
			continue
		}
		if err := p.archive.ArchiveEntry(ctx, height, e); err != nil {
			return false, nil, fmt.Errorf("archive entry at height %d: %w", height, err)
		}
	}

	root, err = CheckpointRoot(entries)
	if err != nil {
		return false, nil, err
	}
	return true, root, nil
}
