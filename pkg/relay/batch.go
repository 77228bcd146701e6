// Batch aggregation adapted from the teacher's pkg/batch/collector.go
// (accumulate leaves, build a merkle.Tree on close, Phase 2 cadence split
// between on-cadence/on-demand) and pkg/anchor/scheduler.go (closing a batch
// on whichever threshold — count or age — is crossed first).
package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chikuno/dchat/pkg/errs"
	"github.com/chikuno/dchat/pkg/merkle"
)

// Tunable batch-closing thresholds: aggregate_receipts closes once either
// B_min receipts have accumulated or the oldest pending receipt has been
// waiting T_batch, matching spec.md §4.E.
const (
	defaultBMin   = 10
	defaultTBatch = 15 * time.Minute
)

// ProofBatch is a relay's signed aggregation of delivery receipts: the
// DeliveryBatch LogEntry candidate submitted to the consensus layer.
type ProofBatch struct {
	BatchID       uuid.UUID
	RelayIdentity string
	Receipts      []*DeliveryReceipt
	MerkleRoot    []byte
	CreatedAt     time.Time
	Signature     []byte
}

const batchSignatureDomain = "DCHAT_PROOF_BATCH_V1"

// BatchSigningPayload is the canonical payload a relay signs over a
// ProofBatch's Merkle root to produce Signature.
func BatchSigningPayload(root []byte) []byte {
	out := make([]byte, len(batchSignatureDomain)+1+len(root))
	copy(out, batchSignatureDomain)
	out[len(batchSignatureDomain)] = ':'
	copy(out[len(batchSignatureDomain)+1:], root)
	return out
}

// Aggregator accumulates delivery receipts for one relay identity and closes
// them into ProofBatches once B_min is reached or T_batch elapses.
type Aggregator struct {
	mu            sync.Mutex
	relayIdentity string
	bMin          int
	tBatch        time.Duration
	pending       []*DeliveryReceipt
	oldestAt      time.Time
	seenKeys      map[string]struct{} // (relay, message id) pairs already accepted, pending or batched
}

// NewAggregator builds an Aggregator for one relay identity with the default
// B_min/T_batch thresholds.
func NewAggregator(relayIdentity string) *Aggregator {
	return &Aggregator{
		relayIdentity: relayIdentity,
		bMin:          defaultBMin,
		tBatch:        defaultTBatch,
		seenKeys:      make(map[string]struct{}),
	}
}

// AddReceipt records a collected delivery receipt, refusing a receipt for a
// (relay, message id) pair this Aggregator has already accepted, whether it
// is still pending or was closed into a prior batch
// (spec.md §4 invariant: at most one DeliveryBatch ever contains a receipt
// for (m, r) from a given recipient).
func (a *Aggregator) AddReceipt(r *DeliveryReceipt) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := string(r.MessageID) + "|" + r.RelayIdentity
	if _, ok := a.seenKeys[key]; ok {
		return errs.New(errs.KindProtocol, "", errs.ErrDuplicateBatch)
	}
	a.seenKeys[key] = struct{}{}

	if len(a.pending) == 0 {
		a.oldestAt = time.Now()
	}
	a.pending = append(a.pending, r)
	return nil
}

// Ready reports whether the pending receipt set should be closed into a
// batch: ≥ B_min receipts accumulated, or the oldest pending receipt has
// been waiting ≥ T_batch.
func (a *Aggregator) Ready() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.pending) == 0 {
		return false
	}
	return len(a.pending) >= a.bMin || time.Since(a.oldestAt) >= a.tBatch
}

// Close builds a ProofBatch from the currently pending receipts, computing
// its Merkle root over hash(message id || signature) of each receipt, and
// clears the pending set. sign is called with BatchSigningPayload(root) to
// produce the batch's own signature.
func (a *Aggregator) Close(sign func(payload []byte) []byte) (*ProofBatch, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.pending) == 0 {
		return nil, nil
	}

	leaves := make([][]byte, len(a.pending))
	for i, r := range a.pending {
		leaves[i] = merkle.HashData(append(append([]byte{}, r.MessageID...), r.Signature...))
	}
	root, err := merkle.RootFromLeaves(leaves)
	if err != nil {
		return nil, err
	}

	batch := &ProofBatch{
		BatchID:       uuid.New(),
		RelayIdentity: a.relayIdentity,
		Receipts:      a.pending,
		MerkleRoot:    root,
		CreatedAt:     time.Now(),
	}
	if sign != nil {
		batch.Signature = sign(BatchSigningPayload(root))
	}

	a.pending = nil
	return batch, nil
}

// SubmitResult is the tagged outcome of submit_batch.
type SubmitResult struct {
	Committed bool
	Reason    string
}

// Submitter hands a closed ProofBatch to the consensus layer as a
// DeliveryBatch LogEntry candidate.
type Submitter func(batch *ProofBatch) (SubmitResult, error)

// SubmitBatch submits batch via submit and reports Committed/Rejected per
// spec.md §4.E.
func SubmitBatch(batch *ProofBatch, submit Submitter) (SubmitResult, error) {
	return submit(batch)
}
