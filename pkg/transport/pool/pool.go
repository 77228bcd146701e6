// Package pool implements the connection pool of spec.md §4.D: up to
// C_max=50 peer connections with a soft target C_target=30, weighted
// reputation scoring, a 30s health monitor, and exponential-backoff
// reconnection with a circuit breaker. Peer bookkeeping (mutex-guarded map,
// add/remove/mark-active/mark-inactive) is grounded on the teacher's
// pkg/batch/peer_manager.go HTTPPeerManager, generalized from HTTP
// validator peers to libp2p transport peers and reorganized as a
// single-writer actor owning a request channel, per spec.md §9's redesign
// flag on actor-style shared mutable state.
package pool

import (
	"context"
	"time"

	"github.com/chikuno/dchat/pkg/transport/diversity"
)

const (
	// CMax is the hard cap on simultaneous peer connections.
	CMax = 50
	// CTarget is the soft target the pool steers toward.
	CTarget = 30

	weightReputation = 0.40
	weightActivity   = 0.30
	weightAge        = 0.20
	weightLatency    = 0.10

	healthCheckInterval = 30 * time.Second
	missedPingsUnhealthy = 3
	backoffInitial       = 1 * time.Second
	backoffCap           = 16 * time.Second
	circuitBreakerFailures = 5
)

// Health names a peer's liveness state.
type Health string

const (
	HealthHealthy   Health = "Healthy"
	HealthUnhealthy Health = "Unhealthy"
	HealthCircuitOpen Health = "CircuitOpen"
)

// Peer is one pooled connection's bookkeeping record.
type Peer struct {
	ID          string
	Origin      diversity.PeerOrigin
	ConnectedAt time.Time
	LastActive  time.Time
	LatencyMs   float64
	Reputation  float64 // 0..1, externally updated from delivery outcomes

	Health          Health
	MissedPings     int
	FailedAttempts  int
	NextBackoff     time.Duration
}

// score computes the weighted reputation score spec.md §4.D defines:
// reputation 40%, recent activity 30%, age 20%, inverse latency 10%.
func (p *Peer) score(now time.Time) float64 {
	activity := 1.0 / (1.0 + now.Sub(p.LastActive).Hours())
	age := 1.0 - 1.0/(1.0+now.Sub(p.ConnectedAt).Hours())
	invLatency := 1.0 / (1.0 + p.LatencyMs/100.0)

	return weightReputation*p.Reputation +
		weightActivity*activity +
		weightAge*age +
		weightLatency*invLatency
}

type request struct {
	kind    string
	peer    *Peer
	id      string
	reply   chan response
}

type response struct {
	peer *Peer
	peers []*Peer
	ok   bool
}

// Pool is the single-writer actor owning the connected-peer set. All state
// mutation happens on the goroutine started by Run; callers interact only
// through the exported methods, which send requests over reqCh.
type Pool struct {
	reqCh chan request

	diversity *diversity.Tracker
}

// New starts the pool actor goroutine and returns a handle to it. ctx
// cancellation stops the actor.
func New(ctx context.Context, tracker *diversity.Tracker) *Pool {
	p := &Pool{
		reqCh:     make(chan request),
		diversity: tracker,
	}
	go p.run(ctx)
	return p
}

func (p *Pool) run(ctx context.Context) {
	peers := make(map[string]*Peer)
	healthTicker := time.NewTicker(healthCheckInterval)
	defer healthTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-healthTicker.C:
			// The transport layer's ping probe calls MarkPingReply /
			// MarkPingMissed via separate requests; this tick only
			// advances pending backoff timers for unhealthy peers.
			for _, peer := range peers {
				if peer.Health == HealthUnhealthy && peer.NextBackoff > 0 {
					peer.NextBackoff = minDuration(peer.NextBackoff*2, backoffCap)
				}
			}

		case req := <-p.reqCh:
			switch req.kind {
			case "admit":
				if len(peers) >= CMax {
					req.reply <- response{ok: false}
					continue
				}
				if !p.diversity.Admit(req.peer.Origin) {
					req.reply <- response{ok: false}
					continue
				}
				req.peer.ConnectedAt = time.Now()
				req.peer.LastActive = time.Now()
				req.peer.Health = HealthHealthy
				req.peer.NextBackoff = backoffInitial
				peers[req.peer.ID] = req.peer
				p.diversity.Record(req.peer.Origin)
				req.reply <- response{ok: true}

			case "remove":
				if peer, ok := peers[req.id]; ok {
					p.diversity.Forget(peer.Origin)
					delete(peers, req.id)
				}
				req.reply <- response{ok: true}

			case "ping_reply":
				if peer, ok := peers[req.id]; ok {
					peer.MissedPings = 0
					peer.LastActive = time.Now()
					if peer.Health == HealthUnhealthy {
						peer.Health = HealthHealthy
						peer.NextBackoff = backoffInitial
					}
				}
				req.reply <- response{ok: true}

			case "ping_missed":
				if peer, ok := peers[req.id]; ok {
					peer.MissedPings++
					if peer.MissedPings >= missedPingsUnhealthy {
						peer.Health = HealthUnhealthy
						peer.FailedAttempts++
						if peer.FailedAttempts >= circuitBreakerFailures {
							peer.Health = HealthCircuitOpen
						}
					}
				}
				req.reply <- response{ok: true}

			case "get":
				peer, ok := peers[req.id]
				req.reply <- response{peer: peer, ok: ok}

			case "list":
				out := make([]*Peer, 0, len(peers))
				for _, peer := range peers {
					out = append(out, peer)
				}
				req.reply <- response{peers: out}

			case "overfull":
				req.reply <- response{ok: len(peers) > CTarget}
			}
		}
	}
}

// Admit tries to add peer to the pool, returning false if C_max or a
// diversity cap would be violated.
func (p *Pool) Admit(peer *Peer) bool {
	reply := make(chan response, 1)
	p.reqCh <- request{kind: "admit", peer: peer, reply: reply}
	return (<-reply).ok
}

// Remove drops a peer from the pool.
func (p *Pool) Remove(id string) {
	reply := make(chan response, 1)
	p.reqCh <- request{kind: "remove", id: id, reply: reply}
	<-reply
}

// MarkPingReply resets a peer's missed-ping counter after a successful
// health probe.
func (p *Pool) MarkPingReply(id string) {
	reply := make(chan response, 1)
	p.reqCh <- request{kind: "ping_reply", id: id, reply: reply}
	<-reply
}

// MarkPingMissed records a missed health probe, marking the peer Unhealthy
// after 3 consecutive misses. Each missed probe from the third consecutive
// one on counts as one failed attempt, and the circuit breaker opens at 5.
// The pool itself makes no reconnection attempts.
func (p *Pool) MarkPingMissed(id string) {
	reply := make(chan response, 1)
	p.reqCh <- request{kind: "ping_missed", id: id, reply: reply}
	<-reply
}

// Get returns a snapshot of one peer's bookkeeping record.
func (p *Pool) Get(id string) (*Peer, bool) {
	reply := make(chan response, 1)
	p.reqCh <- request{kind: "get", id: id, reply: reply}
	r := <-reply
	return r.peer, r.ok
}

// List returns every currently pooled peer, ranked by score descending.
func (p *Pool) List() []*Peer {
	reply := make(chan response, 1)
	p.reqCh <- request{kind: "list", reply: reply}
	peers := (<-reply).peers

	now := time.Now()
	sortByScoreDesc(peers, now)
	return peers
}

// Overfull reports whether the pool has drifted above C_target and should
// shed lower-scoring connections back toward the soft target.
func (p *Pool) Overfull() bool {
	reply := make(chan response, 1)
	p.reqCh <- request{kind: "overfull", reply: reply}
	return (<-reply).ok
}

func sortByScoreDesc(peers []*Peer, now time.Time) {
	for i := 1; i < len(peers); i++ {
		j := i
		for j > 0 && peers[j-1].score(now) < peers[j].score(now) {
			peers[j-1], peers[j] = peers[j], peers[j-1]
			j--
		}
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
