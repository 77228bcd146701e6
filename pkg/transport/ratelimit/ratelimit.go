// Package ratelimit enforces the token-bucket limits of spec.md §4.D:
// 10 msg/s per peer by default, 1000 msg/s globally, continuous refill.
// Built on golang.org/x/time/rate, the teacher's own golang.org/x dependency
// family.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

const (
	// DefaultPerPeerRate is the default sustained per-peer message rate.
	DefaultPerPeerRate = 10
	// DefaultGlobalRate is the default sustained global message rate.
	DefaultGlobalRate = 1000
	// burstMultiplier lets a peer or the whole node absorb a short spike
	// equal to one second's worth of its sustained rate.
	burstMultiplier = 1
)

// Limiter enforces both a per-peer and a global token bucket.
type Limiter struct {
	mu       sync.Mutex
	global   *rate.Limiter
	perPeer  map[string]*rate.Limiter
	peerRate rate.Limit
	peerBurst int
}

// New builds a limiter with the given per-peer and global sustained rates
// (messages per second).
func New(perPeerRate, globalRate float64) *Limiter {
	return &Limiter{
		global:    rate.NewLimiter(rate.Limit(globalRate), int(globalRate)*burstMultiplier),
		perPeer:   make(map[string]*rate.Limiter),
		peerRate:  rate.Limit(perPeerRate),
		peerBurst: int(perPeerRate) * burstMultiplier,
	}
}

// Default builds a limiter using spec.md's defaults (10 msg/s per peer,
// 1000 msg/s globally).
func Default() *Limiter {
	return New(DefaultPerPeerRate, DefaultGlobalRate)
}

// Allow reports whether a message from peer may proceed right now,
// consuming one token from both the peer's bucket and the global bucket if
// so. Both must have capacity; a miss on either counts as throttled.
func (l *Limiter) Allow(peer string) bool {
	l.mu.Lock()
	peerLimiter, ok := l.perPeer[peer]
	if !ok {
		peerLimiter = rate.NewLimiter(l.peerRate, l.peerBurst)
		l.perPeer[peer] = peerLimiter
	}
	l.mu.Unlock()

	// Check the global bucket first so it is shared fairly, then the
	// per-peer bucket. rate.Limiter.Allow is non-blocking and itself safe
	// for concurrent use.
	if !l.global.Allow() {
		return false
	}
	return peerLimiter.Allow()
}

// Forget drops a peer's bucket, e.g. once it disconnects, so the limiter's
// memory does not grow unbounded across churn.
func (l *Limiter) Forget(peer string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.perPeer, peer)
}
