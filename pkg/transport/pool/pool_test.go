package pool

import (
	"context"
	"fmt"
	"testing"

	"github.com/chikuno/dchat/pkg/transport/diversity"
)

func newTestPool(t *testing.T) (*Pool, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	p := New(ctx, diversity.NewTracker(nil))
	t.Cleanup(cancel)
	return p, cancel
}

func TestAdmitAndGet(t *testing.T) {
	p, _ := newTestPool(t)

	peer := &Peer{ID: "peer-1", Origin: diversity.PeerOrigin{ASN: "AS1", Region: "eu"}, Reputation: 0.8}
	if !p.Admit(peer) {
		t.Fatal("expected first peer to be admitted")
	}

	got, ok := p.Get("peer-1")
	if !ok {
		t.Fatal("expected peer-1 to be retrievable")
	}
	if got.Health != HealthHealthy {
		t.Fatalf("expected newly admitted peer to be Healthy, got %s", got.Health)
	}
}

func TestAdmitRejectsBeyondCMax(t *testing.T) {
	p, _ := newTestPool(t)

	for i := 0; i < CMax; i++ {
		peer := &Peer{
			ID:     fmt.Sprintf("peer-%d", i),
			Origin: diversity.PeerOrigin{ASN: fmt.Sprintf("AS-%d", i), Region: fmt.Sprintf("region-%d", i)},
		}
		if !p.Admit(peer) {
			t.Fatalf("expected peer %d to be admitted while under C_max", i)
		}
	}

	overflow := &Peer{ID: "overflow-peer", Origin: diversity.PeerOrigin{ASN: "overflow", Region: "overflow"}}
	if p.Admit(overflow) {
		t.Fatal("expected admission to fail once C_max is reached")
	}
}

func TestMarkPingMissedEventuallyOpensCircuit(t *testing.T) {
	p, _ := newTestPool(t)
	peer := &Peer{ID: "peer-1", Origin: diversity.PeerOrigin{ASN: "AS1", Region: "eu"}}
	p.Admit(peer)

	for i := 0; i < missedPingsUnhealthy; i++ {
		p.MarkPingMissed("peer-1")
	}
	got, _ := p.Get("peer-1")
	if got.Health != HealthUnhealthy {
		t.Fatalf("expected Unhealthy after %d missed pings, got %s", missedPingsUnhealthy, got.Health)
	}

	// Drive enough additional missed-ping rounds to trip the circuit
	// breaker (5 total failed attempts).
	for got.FailedAttempts < circuitBreakerFailures {
		p.MarkPingMissed("peer-1")
		got, _ = p.Get("peer-1")
	}
	if got.Health != HealthCircuitOpen {
		t.Fatalf("expected CircuitOpen after %d failed attempts, got %s", circuitBreakerFailures, got.Health)
	}
}

func TestRemoveDropsPeer(t *testing.T) {
	p, _ := newTestPool(t)
	peer := &Peer{ID: "peer-1", Origin: diversity.PeerOrigin{ASN: "AS1", Region: "eu"}}
	p.Admit(peer)
	p.Remove("peer-1")

	if _, ok := p.Get("peer-1"); ok {
		t.Fatal("expected peer-1 to be gone after Remove")
	}
}
