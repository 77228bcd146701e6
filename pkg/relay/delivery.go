package relay

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/chikuno/dchat/pkg/storage"
)

// DeliveryOutcome is the tagged result of one deliver_attempt call, per
// spec.md §4.E's {Delivered(receipt) | Pending | Undeliverable} contract.
type DeliveryOutcome int

const (
	OutcomePending DeliveryOutcome = iota
	OutcomeDelivered
	OutcomeUndeliverable
)

// receiptSignatureDomain domain-separates the recipient's signature over a
// delivery receipt from every other signature purpose in the node.
const receiptSignatureDomain = "DCHAT_DELIVERY_RECEIPT_V1"

// DeliveryReceipt binds message id, relay identity, and receipt timestamp
// under the recipient's own signature (spec.md §4.E: "signature by recipient
// over (message id ‖ relay identity ‖ receipt timestamp)").
type DeliveryReceipt struct {
	MessageID         []byte
	RelayIdentity      string
	RecipientIdentity string
	TimestampUnix     int64
	Signature         []byte
}

// ReceiptSigningPayload builds the canonical bytes a recipient signs to
// produce a DeliveryReceipt's Signature.
func ReceiptSigningPayload(messageID []byte, relayIdentity string, timestampUnix int64) []byte {
	out := make([]byte, 0, len(receiptSignatureDomain)+1+len(messageID)+1+len(relayIdentity)+1+8)
	out = append(out, receiptSignatureDomain...)
	out = append(out, ':')
	out = append(out, messageID...)
	out = append(out, 0)
	out = append(out, relayIdentity...)
	out = append(out, 0)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(timestampUnix))
	out = append(out, ts[:]...)
	return out
}

// Deliverer attempts to hand env to its recipient over the transport layer
// (directly or via further gossip) and returns the recipient's signed
// receipt if delivery succeeded. A nil receipt with a nil error means the
// recipient is currently unreachable (Pending).
type Deliverer func(ctx context.Context, env *storage.Envelope) (*DeliveryReceipt, error)

const (
	maxAttempts             = 6
	backoffInitial          = 2 * time.Second
	backoffCap              = 2 * time.Minute
	storeAndForwardWindow   = 24 * time.Hour
	storeAndForwardInterval = 30 * time.Minute
)

// Attempter drives deliver_attempt retries for envelopes pulled off a Queue.
type Attempter struct {
	queue   *Queue
	deliver Deliverer
}

// NewAttempter builds an Attempter that pulls envelopes from queue and hands
// them to deliver.
func NewAttempter(queue *Queue, deliver Deliverer) *Attempter {
	return &Attempter{queue: queue, deliver: deliver}
}

// AttemptNext pulls the next due envelope off the queue and attempts
// delivery once, applying exponential backoff on failure and escalating to
// reduced-frequency store-and-forward once max_attempts is exceeded. Returns
// ok=false only if the queue is empty; a head item that is not yet due is
// requeued without an attempt and reported as Pending with ok=true.
func (a *Attempter) AttemptNext(ctx context.Context) (outcome DeliveryOutcome, receipt *DeliveryReceipt, ok bool) {
	item, found := a.queue.next()
	if !found {
		return OutcomePending, nil, false
	}

	now := time.Now()
	if !item.nextAttempt.IsZero() && now.Before(item.nextAttempt) {
		a.queue.requeue(item)
		return OutcomePending, nil, true
	}

	receipt, err := a.deliver(ctx, item.env)
	if err == nil && receipt != nil {
		return OutcomeDelivered, receipt, true
	}

	item.attempts++
	if item.attempts >= maxAttempts {
		if time.Since(item.enqueuedAt) >= storeAndForwardWindow {
			return OutcomeUndeliverable, nil, true
		}
		// Escalated to long-term store-and-forward: retry far less often.
		item.nextAttempt = now.Add(storeAndForwardInterval)
		a.queue.requeue(item)
		return OutcomePending, nil, true
	}

	item.nextAttempt = now.Add(backoffDuration(item.attempts))
	a.queue.requeue(item)
	return OutcomePending, nil, true
}

func backoffDuration(attempts int) time.Duration {
	d := backoffInitial
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}
	return d
}
