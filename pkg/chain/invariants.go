package chain

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/chikuno/dchat/pkg/errs"
)

// InvariantChecker holds the minimal running state needed to verify
// spec.md §3's chain-wide invariants incrementally, one entry at a time, as
// blocks are finalized. It does not duplicate the full chain state store
// (pkg/chain/state) — only the small per-invariant indexes that invariant
// checking itself needs.
//
// Grounded on the teacher's VerifyValidatorBlockInvariants
// (pkg/consensus/validator_block_invariants.go), generalized from one-shot
// structural checks on a single ValidatorBlock to incremental checks across
// the whole entry stream, since our invariants span entries (duplicate
// (relay, message id) pairs, sequence monotonicity) rather than living
// entirely inside one entry.
type InvariantChecker struct {
	mu sync.Mutex

	// messageCommitHeight maps a MessageCommit's message id to the height
	// it was committed at, so a later DeliveryBatch can be checked against
	// "MessageCommit height <= batch height".
	messageCommitHeight map[string]uint64

	// deliveryBatchPairs records every (relay identity, message id) pair
	// that has already appeared in a DeliveryBatch, anywhere in the chain.
	deliveryBatchPairs map[string]struct{}

	// identitySeq tracks the last sequence number used by each identity
	// across any LogEntry it signed.
	identitySeq map[string]uint64

	// channelSeq tracks the last MessageCommit sequence number committed
	// for each channel, which must be gap-free.
	channelSeq map[string]uint64
}

// NewInvariantChecker builds an empty checker. State is rebuilt by replaying
// CheckEntry over the finalized log from genesis (or from the last
// checkpoint plus the chain state store, once pruning has run).
func NewInvariantChecker() *InvariantChecker {
	return &InvariantChecker{
		messageCommitHeight: make(map[string]uint64),
		deliveryBatchPairs:  make(map[string]struct{}),
		identitySeq:         make(map[string]uint64),
		channelSeq:          make(map[string]uint64),
	}
}

// CheckEntry verifies entry is consistent with everything previously seen,
// and if so records its effect on the running state. blockHeight is the
// height of the block entry is a candidate for.
func (c *InvariantChecker) CheckEntry(entry *LogEntry, blockHeight uint64) error {
	if entry == nil {
		return errs.New(errs.KindConsensus, "", fmt.Errorf("nil log entry"))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if seqStr, ok := entry.Payload["sequence"]; ok && entry.Identity != "" {
		seq, err := strconv.ParseUint(seqStr, 10, 64)
		if err != nil {
			return errs.New(errs.KindConsensus, "", fmt.Errorf("entry %s: invalid sequence %q: %w", entry.Kind, seqStr, err))
		}
		if prev, seen := c.identitySeq[entry.Identity]; seen && seq <= prev {
			return errs.New(errs.KindConsensus, "", fmt.Errorf("entry %s: %w: identity %s sequence %d is not greater than last seen %d", entry.Kind, errs.ErrSequenceReplay, entry.Identity, seq, prev))
		}
		c.identitySeq[entry.Identity] = seq
	}

	switch entry.Kind {
	case KindMessageCommit:
		return c.checkMessageCommit(entry, blockHeight)
	case KindDeliveryBatch:
		return c.checkDeliveryBatch(entry, blockHeight)
	default:
		return nil
	}
}

func (c *InvariantChecker) checkMessageCommit(entry *LogEntry, blockHeight uint64) error {
	messageID := entry.Payload["message_id"]
	channel := entry.Payload["channel"]
	if messageID == "" {
		return errs.New(errs.KindConsensus, "", fmt.Errorf("MessageCommit missing message_id"))
	}

	if channel != "" {
		seqStr := entry.Payload["channel_sequence"]
		seq, err := strconv.ParseUint(seqStr, 10, 64)
		if err != nil {
			return errs.New(errs.KindConsensus, "", fmt.Errorf("MessageCommit: invalid channel_sequence %q: %w", seqStr, err))
		}
		prev := c.channelSeq[channel]
		if prev != 0 && seq != prev+1 {
			return errs.New(errs.KindConsensus, "", fmt.Errorf("MessageCommit on channel %s: %w: expected %d, got %d", channel, errs.ErrSequenceGap, prev+1, seq))
		}
		if prev == 0 && seq != 1 {
			return errs.New(errs.KindConsensus, "", fmt.Errorf("MessageCommit on channel %s: %w: expected first sequence 1, got %d", channel, errs.ErrSequenceGap, seq))
		}
		c.channelSeq[channel] = seq
	}

	c.messageCommitHeight[messageID] = blockHeight
	return nil
}

func (c *InvariantChecker) checkDeliveryBatch(entry *LogEntry, blockHeight uint64) error {
	relay := entry.Payload["relay_identity"]
	idsJoined := entry.Payload["message_ids"]
	if relay == "" || idsJoined == "" {
		return errs.New(errs.KindConsensus, "", fmt.Errorf("DeliveryBatch missing relay_identity or message_ids"))
	}

	for _, messageID := range strings.Split(idsJoined, ",") {
		messageID = strings.TrimSpace(messageID)
		if messageID == "" {
			continue
		}

		if commitHeight, ok := c.messageCommitHeight[messageID]; ok && commitHeight > blockHeight {
			return errs.New(errs.KindConsensus, "", fmt.Errorf("DeliveryBatch at height %d references MessageCommit %s committed later at height %d", blockHeight, messageID, commitHeight))
		}

		pairKey := relay + "|" + messageID
		if _, seen := c.deliveryBatchPairs[pairKey]; seen {
			return errs.New(errs.KindConsensus, "", fmt.Errorf("%w: relay %s already submitted a batch for message %s", errs.ErrDuplicateBatch, relay, messageID))
		}
		c.deliveryBatchPairs[pairKey] = struct{}{}
	}

	return nil
}

// Reputation scores are not tracked by InvariantChecker: pkg/chain/state
// holds them as a stored per-identity score (PutReputation/GetReputation)
// and does not recompute them from the finalized log.
//
// Bridge-transfer atomicity (spec.md §3: "either both chains record the
// paired entry within a finality window, or both roll back") is checked by
// pkg/bridge's protocol state machine, not here: it spans two chains and
// cannot be verified from this chain's log alone.
