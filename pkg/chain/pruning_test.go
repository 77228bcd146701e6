package chain

import (
	"bytes"
	"testing"

	"github.com/chikuno/dchat/pkg/identity"
)

func TestCheckpointRootIsDeterministic(t *testing.T) {
	entries := []*identity.LogEntry{
		{Kind: KindMessageCommit, Identity: "alice", Signature: []byte("sig-a")},
		{Kind: KindMessageCommit, Identity: "bob", Signature: []byte("sig-b")},
	}

	root1, err := CheckpointRoot(entries)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	root2, err := CheckpointRoot(entries)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(root1, root2) {
		t.Fatalf("expected checkpoint root to be deterministic for the same entries")
	}
}

func TestCheckpointRootChangesWithEntries(t *testing.T) {
	a := []*identity.LogEntry{{Kind: KindMessageCommit, Identity: "alice", Signature: []byte("sig-a")}}
	b := []*identity.LogEntry{{Kind: KindMessageCommit, Identity: "bob", Signature: []byte("sig-b")}}

	rootA, err := CheckpointRoot(a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rootB, err := CheckpointRoot(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bytes.Equal(rootA, rootB) {
		t.Fatalf("expected different entries to produce different checkpoint roots")
	}
}

func TestCheckpointRootRejectsEmptyEntries(t *testing.T) {
	if _, err := CheckpointRoot(nil); err == nil {
		t.Fatalf("expected an error computing a checkpoint root over no entries")
	}
}

func TestHPruneForArchivePolicyNeverPrunes(t *testing.T) {
	_, prunes := hPruneFor(RetentionArchive)
	if prunes {
		t.Fatalf("archive policy must never prune")
	}
}

func TestHPruneForLightAndMobilePolicies(t *testing.T) {
	lightHorizon, prunes := hPruneFor(RetentionLight)
	if !prunes {
		t.Fatalf("light policy must prune")
	}
	mobileHorizon, prunes := hPruneFor(RetentionMobile)
	if !prunes {
		t.Fatalf("mobile policy must prune")
	}
	if mobileHorizon >= lightHorizon {
		t.Fatalf("mobile's 30-day horizon should be shorter than light's 90-day horizon, got mobile=%d light=%d", mobileHorizon, lightHorizon)
	}
}
