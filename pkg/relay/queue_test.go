package relay

import (
	"context"
	"testing"

	"github.com/chikuno/dchat/pkg/storage"
	"github.com/chikuno/dchat/pkg/transport/ratelimit"
)

func testEnvelope(sender string, id byte) *storage.Envelope {
	return &storage.Envelope{ID: []byte{id}, Sender: sender, Recipient: "bob"}
}

func alwaysVerify(env *storage.Envelope) bool { return true }

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewQueue(ctx, ratelimit.New(1000, 100_000), alwaysVerify, nil)
}

func TestEnqueueAndNextOrdersByPriority(t *testing.T) {
	q := newTestQueue(t)
	if _, err := q.Enqueue(testEnvelope("alice", 1), ClassBulk); err != nil {
		t.Fatalf("enqueue bulk: %v", err)
	}
	if _, err := q.Enqueue(testEnvelope("alice", 2), ClassCritical); err != nil {
		t.Fatalf("enqueue critical: %v", err)
	}
	if _, err := q.Enqueue(testEnvelope("alice", 3), ClassNormal); err != nil {
		t.Fatalf("enqueue normal: %v", err)
	}

	item, ok := q.next()
	if !ok || item.class != ClassCritical {
		t.Fatalf("expected critical item first, got %+v ok=%v", item, ok)
	}
	item, ok = q.next()
	if !ok || item.class != ClassNormal {
		t.Fatalf("expected normal item second, got %+v", item)
	}
	item, ok = q.next()
	if !ok || item.class != ClassBulk {
		t.Fatalf("expected bulk item third, got %+v", item)
	}
}

func TestEnqueuePreservesPerSenderFIFO(t *testing.T) {
	q := newTestQueue(t)
	q.Enqueue(testEnvelope("alice", 1), ClassNormal)
	q.Enqueue(testEnvelope("alice", 2), ClassNormal)

	item1, _ := q.next()
	item2, _ := q.next()
	if item1.env.ID[0] != 1 || item2.env.ID[0] != 2 {
		t.Fatalf("expected FIFO order within sender, got %v then %v", item1.env.ID, item2.env.ID)
	}
}

func TestEnqueueRoundRobinsAcrossSenders(t *testing.T) {
	q := newTestQueue(t)
	q.Enqueue(testEnvelope("alice", 1), ClassNormal)
	q.Enqueue(testEnvelope("bob", 2), ClassNormal)
	q.Enqueue(testEnvelope("alice", 3), ClassNormal)

	first, _ := q.next()
	second, _ := q.next()
	if first.env.Sender == second.env.Sender {
		t.Fatalf("expected round robin across senders, got %s then %s", first.env.Sender, second.env.Sender)
	}
}

func TestEnqueueRejectsRateLimitedSender(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	limiter := ratelimit.New(0, 1000) // zero per-peer rate/burst: immediately exhausted
	q := NewQueue(ctx, limiter, alwaysVerify, nil)

	if _, err := q.Enqueue(testEnvelope("alice", 1), ClassNormal); err == nil {
		t.Fatal("expected rate-limited sender to be refused")
	}
}

func TestEnqueueRejectsInvalidSignature(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	reject := func(env *storage.Envelope) bool { return false }
	q := NewQueue(ctx, ratelimit.New(1000, 100_000), reject, nil)

	if _, err := q.Enqueue(testEnvelope("alice", 1), ClassNormal); err == nil {
		t.Fatal("expected invalid signature to be refused")
	}
}

func TestHardCapDropsAndNotifies(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	var dropped []QueueDropped
	q := newQueueWithCap(ctx, ratelimit.New(1000, 100_000), alwaysVerify, func(d QueueDropped) { dropped = append(dropped, d) }, 1)

	if _, err := q.Enqueue(testEnvelope("alice", 1), ClassNormal); err != nil {
		t.Fatalf("first enqueue should succeed: %v", err)
	}
	if _, err := q.Enqueue(testEnvelope("alice", 2), ClassNormal); err == nil {
		t.Fatal("expected second enqueue to be dropped at hard cap")
	}
	if len(dropped) != 1 {
		t.Fatalf("expected one QueueDropped notification, got %d", len(dropped))
	}
}

func TestSizeReflectsPendingEnvelopes(t *testing.T) {
	q := newTestQueue(t)
	if q.Size() != 0 {
		t.Fatalf("expected empty queue, got size %d", q.Size())
	}
	q.Enqueue(testEnvelope("alice", 1), ClassNormal)
	q.Enqueue(testEnvelope("bob", 2), ClassNormal)
	if q.Size() != 2 {
		t.Fatalf("expected size 2, got %d", q.Size())
	}
	q.next()
	if q.Size() != 1 {
		t.Fatalf("expected size 1 after one pop, got %d", q.Size())
	}
}
