package chain

import (
	"errors"
	"testing"

	"github.com/chikuno/dchat/pkg/errs"
)

func messageCommit(channel, messageID, seq string) *LogEntry {
	return &LogEntry{
		Kind:     KindMessageCommit,
		Identity: "alice",
		Payload: map[string]string{
			"message_id":       messageID,
			"channel":          channel,
			"channel_sequence": seq,
		},
	}
}

func deliveryBatch(relay, messageIDs string) *LogEntry {
	return &LogEntry{
		Kind:     KindDeliveryBatch,
		Identity: relay,
		Payload: map[string]string{
			"relay_identity": relay,
			"message_ids":    messageIDs,
		},
	}
}

func TestCheckEntryRejectsChannelSequenceGap(t *testing.T) {
	c := NewInvariantChecker()

	if err := c.CheckEntry(messageCommit("general", "m1", "1"), 1); err != nil {
		t.Fatalf("unexpected error on first commit: %v", err)
	}
	if err := c.CheckEntry(messageCommit("general", "m2", "3"), 2); err == nil {
		t.Fatalf("expected a sequence gap error")
	} else if !errors.Is(err, errs.ErrSequenceGap) {
		t.Fatalf("expected ErrSequenceGap, got %v", err)
	}
}

func TestCheckEntryAcceptsGapFreeChannelSequence(t *testing.T) {
	c := NewInvariantChecker()

	if err := c.CheckEntry(messageCommit("general", "m1", "1"), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.CheckEntry(messageCommit("general", "m2", "2"), 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckEntryRejectsDuplicateDeliveryBatchPair(t *testing.T) {
	c := NewInvariantChecker()

	if err := c.CheckEntry(messageCommit("general", "m1", "1"), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.CheckEntry(deliveryBatch("relay-1", "m1"), 2); err != nil {
		t.Fatalf("unexpected error on first batch: %v", err)
	}
	if err := c.CheckEntry(deliveryBatch("relay-1", "m1"), 3); err == nil {
		t.Fatalf("expected duplicate batch error")
	} else if !errors.Is(err, errs.ErrDuplicateBatch) {
		t.Fatalf("expected ErrDuplicateBatch, got %v", err)
	}
}

func TestCheckEntryAllowsDifferentRelaysToBatchSameMessage(t *testing.T) {
	c := NewInvariantChecker()

	if err := c.CheckEntry(messageCommit("general", "m1", "1"), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.CheckEntry(deliveryBatch("relay-1", "m1"), 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.CheckEntry(deliveryBatch("relay-2", "m1"), 2); err != nil {
		t.Fatalf("a different relay delivering the same message should not collide: %v", err)
	}
}

func TestCheckEntryRejectsDeliveryBatchBeforeItsMessageCommit(t *testing.T) {
	c := NewInvariantChecker()

	if err := c.CheckEntry(messageCommit("general", "m1", "1"), 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.CheckEntry(deliveryBatch("relay-1", "m1"), 4); err == nil {
		t.Fatalf("expected error: batch height precedes its message commit height")
	}
}

func TestCheckEntryRejectsIdentitySequenceReplay(t *testing.T) {
	c := NewInvariantChecker()
	entry := &LogEntry{Kind: KindIdentityRegister, Identity: "alice", Payload: map[string]string{"sequence": "5"}}

	if err := c.CheckEntry(entry, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	replay := &LogEntry{Kind: KindIdentityRegister, Identity: "alice", Payload: map[string]string{"sequence": "5"}}
	if err := c.CheckEntry(replay, 2); err == nil {
		t.Fatalf("expected sequence replay error")
	} else if !errors.Is(err, errs.ErrSequenceReplay) {
		t.Fatalf("expected ErrSequenceReplay, got %v", err)
	}
}
