// Package relay implements the message relay engine of spec.md §4.E:
// per-sender FIFO queues with a global priority class, delivery attempts
// with exponential backoff, receipt aggregation into signed proof batches,
// and incentive accounting. The queue is a single-writer actor per spec.md
// §9's redesign flag naming "relay queue" as one of the bounded-channel
// actors, generalized from the teacher's mutex-guarded batch accumulation in
// pkg/batch/collector.go (on-cadence/on-demand batches, in-memory leaf
// slices indexed for Merkle proofs).
package relay

import (
	"context"
	"time"

	"github.com/chikuno/dchat/pkg/errs"
	"github.com/chikuno/dchat/pkg/storage"
	"github.com/chikuno/dchat/pkg/transport/ratelimit"
)

// PriorityClass orders envelopes for delivery: critical drains before
// normal, normal before bulk.
type PriorityClass int

const (
	ClassBulk PriorityClass = iota
	ClassNormal
	ClassCritical

	numClasses = 3
)

const (
	defaultHardCap          = 10_000
	defaultDeliveryDeadline = 30 * time.Second
)

// SignatureVerifier checks an envelope's signature at enqueue time; a relay
// refuses envelopes that fail this check.
type SignatureVerifier func(env *storage.Envelope) bool

// QueueDropped is emitted when a queue exceeds its hard cap and a message is
// dropped instead of queued.
type QueueDropped struct {
	Sender string
	ID     []byte
	Class  PriorityClass
	Reason string
}

// Ack is returned by Enqueue on acceptance.
type Ack struct {
	Position int
	Deadline time.Time
}

type queuedItem struct {
	env         *storage.Envelope
	class       PriorityClass
	enqueuedAt  time.Time
	deadline    time.Time
	attempts    int
	nextAttempt time.Time
}

// classBucket round-robins across senders within one priority class while
// preserving FIFO order per sender.
type classBucket struct {
	senders  []string
	bySender map[string][]*queuedItem
	rrPos    int
}

func newClassBucket() *classBucket {
	return &classBucket{bySender: make(map[string][]*queuedItem)}
}

func (b *classBucket) push(sender string, item *queuedItem) {
	if _, ok := b.bySender[sender]; !ok {
		b.senders = append(b.senders, sender)
	}
	b.bySender[sender] = append(b.bySender[sender], item)
}

func (b *classBucket) size() int {
	n := 0
	for _, items := range b.bySender {
		n += len(items)
	}
	return n
}

func (b *classBucket) pop() (*queuedItem, bool) {
	n := len(b.senders)
	for i := 0; i < n; i++ {
		idx := (b.rrPos + i) % n
		sender := b.senders[idx]
		items := b.bySender[sender]
		if len(items) == 0 {
			continue
		}
		item := items[0]
		b.bySender[sender] = items[1:]
		if len(b.bySender[sender]) == 0 {
			delete(b.bySender, sender)
			b.senders = append(b.senders[:idx], b.senders[idx+1:]...)
			if b.rrPos > idx {
				b.rrPos--
			}
		} else {
			b.rrPos = (idx + 1) % n
		}
		return item, true
	}
	return nil, false
}

type qRequest struct {
	kind  string
	env   *storage.Envelope
	class PriorityClass
	reply chan qResponse
}

type qResponse struct {
	ack   *Ack
	item  *queuedItem
	count int
	ok    bool
	err   error
}

// Queue is the single-writer relay-queue actor.
type Queue struct {
	reqCh            chan qRequest
	limiter          *ratelimit.Limiter
	verify           SignatureVerifier
	hardCap          int
	deliveryDeadline time.Duration
	onDropped        func(QueueDropped)
}

// NewQueue starts the queue actor goroutine. ctx cancellation stops it.
func NewQueue(ctx context.Context, limiter *ratelimit.Limiter, verify SignatureVerifier, onDropped func(QueueDropped)) *Queue {
	return newQueueWithCap(ctx, limiter, verify, onDropped, defaultHardCap)
}

func newQueueWithCap(ctx context.Context, limiter *ratelimit.Limiter, verify SignatureVerifier, onDropped func(QueueDropped), hardCap int) *Queue {
	q := &Queue{
		reqCh:            make(chan qRequest),
		limiter:          limiter,
		verify:           verify,
		hardCap:          hardCap,
		deliveryDeadline: defaultDeliveryDeadline,
		onDropped:        onDropped,
	}
	go q.run(ctx)
	return q
}

func (q *Queue) run(ctx context.Context) {
	buckets := [numClasses]*classBucket{newClassBucket(), newClassBucket(), newClassBucket()}
	size := 0

	for {
		select {
		case <-ctx.Done():
			return

		case req := <-q.reqCh:
			switch req.kind {
			case "enqueue":
				if size >= q.hardCap {
					if q.onDropped != nil {
						q.onDropped(QueueDropped{Sender: req.env.Sender, ID: req.env.ID, Class: req.class, Reason: "queue hard cap exceeded"})
					}
					req.reply <- qResponse{err: errs.New(errs.KindResource, "", errs.ErrThrottled)}
					continue
				}
				now := time.Now()
				item := &queuedItem{env: req.env, class: req.class, enqueuedAt: now, deadline: now.Add(q.deliveryDeadline)}
				buckets[req.class].push(req.env.Sender, item)
				size++
				req.reply <- qResponse{ack: &Ack{Position: buckets[req.class].size(), Deadline: item.deadline}}

			case "next":
				var found *queuedItem
				for c := numClasses - 1; c >= 0; c-- {
					if item, ok := buckets[c].pop(); ok {
						found = item
						break
					}
				}
				if found == nil {
					req.reply <- qResponse{ok: false}
					continue
				}
				size--
				req.reply <- qResponse{item: found, ok: true}

			case "requeue":
				// Attempts/backoff bookkeeping is the caller's responsibility
				// (Attempter updates item before requeuing); this only
				// re-admits the item for a later pop.
				buckets[req.item.class].push(req.item.env.Sender, req.item)
				size++
				req.reply <- qResponse{ok: true}

			case "size":
				req.reply <- qResponse{count: size, ok: true}
			}
		}
	}
}

// Enqueue admits env into the queue at the given priority class, refusing if
// the sender is rate-limited or the envelope's signature fails verification.
func (q *Queue) Enqueue(env *storage.Envelope, class PriorityClass) (*Ack, error) {
	if q.limiter != nil && !q.limiter.Allow(env.Sender) {
		return nil, errs.New(errs.KindResource, "", errs.ErrThrottled)
	}
	if q.verify != nil && !q.verify(env) {
		return nil, errs.New(errs.KindCryptographic, "", errs.ErrInvalidKey)
	}

	reply := make(chan qResponse, 1)
	q.reqCh <- qRequest{kind: "enqueue", env: env, class: class, reply: reply}
	r := <-reply
	if r.err != nil {
		return nil, r.err
	}
	return r.ack, nil
}

// next pops the next envelope to attempt delivery for, highest priority
// class first, round-robin across senders within a class.
func (q *Queue) next() (*queuedItem, bool) {
	reply := make(chan qResponse, 1)
	q.reqCh <- qRequest{kind: "next", reply: reply}
	r := <-reply
	return r.item, r.ok
}

// requeue puts item back for a later delivery attempt.
func (q *Queue) requeue(item *queuedItem) {
	reply := make(chan qResponse, 1)
	q.reqCh <- qRequest{kind: "requeue", item: item, reply: reply}
	<-reply
}

// Size reports the total number of envelopes currently queued across all
// priority classes.
func (q *Queue) Size() int {
	reply := make(chan qResponse, 1)
	q.reqCh <- qRequest{kind: "size", reply: reply}
	return (<-reply).count
}
