package bridge

import (
	"testing"
	"time"

	"github.com/google/uuid"

	attestation "github.com/chikuno/dchat/pkg/attestation/strategy"
	"github.com/chikuno/dchat/pkg/bridge/strategy"
)

func testThreshold() *attestation.ThresholdConfig {
	return &attestation.ThresholdConfig{Numerator: 2, Denominator: 3, MinValidators: 3}
}

func testRequest(id string) *strategy.TransferRequest {
	return &strategy.TransferRequest{
		TransferID:      id,
		SourceIdentity:  "identity-1",
		DestinationAddr: "0xabc",
		Amount:          "100",
		Denom:           "uatom",
		Timestamp:       time.Unix(1000, 0),
	}
}

func testAttestation(validatorID string, weight int64) *attestation.Attestation {
	return &attestation.Attestation{
		AttestationID: uuid.New(),
		Scheme:        attestation.AttestationSchemeEd25519,
		ValidatorID:   validatorID,
		Weight:        weight,
		Timestamp:     time.Unix(1000, 0),
	}
}

func TestInitiateRejectsDuplicateTransferID(t *testing.T) {
	p := NewProtocol(nil, testThreshold(), 100, time.Hour)
	now := time.Unix(1000, 0)

	if _, err := p.Initiate(testRequest("t1"), now); err != nil {
		t.Fatalf("first initiate: %v", err)
	}
	if _, err := p.Initiate(testRequest("t1"), now); err == nil {
		t.Fatal("expected error on duplicate initiate")
	}
}

func TestAttestReachesQuorumAtThresholdWeight(t *testing.T) {
	p := NewProtocol(nil, testThreshold(), 100, time.Hour)
	now := time.Unix(1000, 0)
	if _, err := p.Initiate(testRequest("t1"), now); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	var achieved int64
	var quorum bool
	for i, w := range []int64{30, 30, 10} {
		validator := string(rune('a' + i))
		var ts *TransferState
		var err error
		ts, quorum, err = p.Attest("t1", testAttestation(validator, w), w, &achieved)
		if err != nil {
			t.Fatalf("attest %d: %v", i, err)
		}
		if ts.Phase != PhaseAttesting {
			t.Fatalf("expected attesting phase, got %s", ts.Phase)
		}
	}

	if !quorum {
		t.Fatalf("expected quorum met at achieved weight %d of 100 (threshold 2/3, min 3 validators)", achieved)
	}
}

func TestAttestDoesNotReachQuorumBelowMinValidators(t *testing.T) {
	p := NewProtocol(nil, testThreshold(), 100, time.Hour)
	now := time.Unix(1000, 0)
	if _, err := p.Initiate(testRequest("t1"), now); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	var achieved int64
	_, quorum, err := p.Attest("t1", testAttestation("a", 90), 90, &achieved)
	if err != nil {
		t.Fatalf("attest: %v", err)
	}
	if quorum {
		t.Fatal("expected quorum not met with only one attesting validator despite high weight")
	}
}

func TestAttestRejectsAfterSettlement(t *testing.T) {
	p := NewProtocol(nil, testThreshold(), 100, time.Hour)
	now := time.Unix(1000, 0)
	p.Initiate(testRequest("t1"), now)

	var achieved int64
	p.Attest("t1", testAttestation("a", 70), 70, &achieved)
	p.Attest("t1", testAttestation("b", 10), 10, &achieved)
	p.Attest("t1", testAttestation("c", 10), 10, &achieved)

	if err := p.MarkExecuted("t1", &strategy.TransferResult{Status: 1}); err != nil {
		t.Fatalf("mark executed: %v", err)
	}

	if _, _, err := p.Attest("t1", testAttestation("d", 5), 5, &achieved); err == nil {
		t.Fatal("expected error attesting to an already-executed transfer")
	}
}

func TestIsExpiredBeforeAndAfterFinalityWindow(t *testing.T) {
	p := NewProtocol(nil, testThreshold(), 100, time.Minute)
	start := time.Unix(1000, 0)
	p.Initiate(testRequest("t1"), start)

	expired, err := p.IsExpired("t1", start.Add(30*time.Second))
	if err != nil {
		t.Fatalf("is expired: %v", err)
	}
	if expired {
		t.Fatal("expected not expired within finality window")
	}

	expired, err = p.IsExpired("t1", start.Add(90*time.Second))
	if err != nil {
		t.Fatalf("is expired: %v", err)
	}
	if !expired {
		t.Fatal("expected expired after finality window elapses")
	}
}

func TestIsExpiredFalseOnceSettled(t *testing.T) {
	p := NewProtocol(nil, testThreshold(), 100, time.Minute)
	start := time.Unix(1000, 0)
	p.Initiate(testRequest("t1"), start)

	var achieved int64
	p.Attest("t1", testAttestation("a", 70), 70, &achieved)
	p.Attest("t1", testAttestation("b", 10), 10, &achieved)
	p.Attest("t1", testAttestation("c", 10), 10, &achieved)
	if err := p.MarkExecuted("t1", &strategy.TransferResult{Status: 1}); err != nil {
		t.Fatalf("mark executed: %v", err)
	}

	expired, err := p.IsExpired("t1", start.Add(time.Hour))
	if err != nil {
		t.Fatalf("is expired: %v", err)
	}
	if expired {
		t.Fatal("expected settled transfer to never report as expired")
	}
}

func TestMarkExecutedRequiresAttestingPhase(t *testing.T) {
	p := NewProtocol(nil, testThreshold(), 100, time.Hour)
	now := time.Unix(1000, 0)
	p.Initiate(testRequest("t1"), now)

	if err := p.MarkExecuted("t1", &strategy.TransferResult{Status: 1}); err == nil {
		t.Fatal("expected error executing a transfer still in initiated phase")
	}
}

func TestMarkRolledBackRejectsAlreadyExecuted(t *testing.T) {
	p := NewProtocol(nil, testThreshold(), 100, time.Hour)
	now := time.Unix(1000, 0)
	p.Initiate(testRequest("t1"), now)

	var achieved int64
	p.Attest("t1", testAttestation("a", 70), 70, &achieved)
	p.Attest("t1", testAttestation("b", 10), 10, &achieved)
	p.Attest("t1", testAttestation("c", 10), 10, &achieved)
	if err := p.MarkExecuted("t1", &strategy.TransferResult{Status: 1}); err != nil {
		t.Fatalf("mark executed: %v", err)
	}

	if err := p.MarkRolledBack("t1", &strategy.TransferResult{Status: 2}); err == nil {
		t.Fatal("expected error rolling back an already-executed transfer")
	}
}

func TestMarkRolledBackOnExpiry(t *testing.T) {
	p := NewProtocol(nil, testThreshold(), 100, time.Minute)
	start := time.Unix(1000, 0)
	p.Initiate(testRequest("t1"), start)

	expired, err := p.IsExpired("t1", start.Add(90*time.Second))
	if err != nil {
		t.Fatalf("is expired: %v", err)
	}
	if !expired {
		t.Fatal("expected expired")
	}

	if err := p.MarkRolledBack("t1", &strategy.TransferResult{Status: 2}); err != nil {
		t.Fatalf("mark rolled back: %v", err)
	}

	ts, ok := p.Get("t1")
	if !ok {
		t.Fatal("expected transfer to be retrievable")
	}
	if ts.Phase != PhaseRolledBack {
		t.Fatalf("expected rolled back phase, got %s", ts.Phase)
	}
}

func TestGetUnknownTransferReturnsFalse(t *testing.T) {
	p := NewProtocol(nil, testThreshold(), 100, time.Hour)
	if _, ok := p.Get("nope"); ok {
		t.Fatal("expected ok=false for unknown transfer")
	}
}
