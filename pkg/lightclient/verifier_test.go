package lightclient

import (
	"context"
	"testing"
	"time"

	"github.com/chikuno/dchat/pkg/chain/state"
	"github.com/chikuno/dchat/pkg/merkle"
)

type fakeHeaderSource struct {
	byHeight map[uint64]*state.Header
	latest   uint64
}

func newFakeHeaderSource() *fakeHeaderSource {
	return &fakeHeaderSource{byHeight: make(map[uint64]*state.Header)}
}

func (f *fakeHeaderSource) add(h *state.Header) {
	f.byHeight[h.Height] = h
	if h.Height > f.latest {
		f.latest = h.Height
	}
}

func (f *fakeHeaderSource) GetHeader(height uint64) (*state.Header, error) {
	h, ok := f.byHeight[height]
	if !ok {
		return nil, state.ErrNotFound
	}
	return h, nil
}

func (f *fakeHeaderSource) LatestHeader() (*state.Header, error) {
	return f.GetHeader(f.latest)
}

func chainedHeaders(n int) *fakeHeaderSource {
	src := newFakeHeaderSource()
	var parentHash []byte
	for i := 0; i < n; i++ {
		hash := merkle.HashData([]byte{byte(i)})
		src.add(&state.Header{
			Height:     uint64(i),
			Hash:       hash,
			ParentHash: parentHash,
			StateRoot:  merkle.HashData([]byte{byte(i), byte(i)}),
			Time:       time.Unix(int64(1000+i), 0),
		})
		parentHash = hash
	}
	return src
}

func TestVerifyInclusionSucceedsWhenProofMatchesHeaderStateRoot(t *testing.T) {
	leafData := []byte("message-commit-1")
	leaf := merkle.HashData(leafData)
	tree, err := merkle.BuildTree([][]byte{leaf, merkle.HashData([]byte("message-commit-2"))})
	if err != nil {
		t.Fatalf("build tree: %v", err)
	}
	proof, err := tree.GenerateProof(0)
	if err != nil {
		t.Fatalf("generate proof: %v", err)
	}

	src := newFakeHeaderSource()
	src.add(&state.Header{Height: 5, Hash: []byte("h5"), StateRoot: tree.Root(), Time: time.Now()})

	v := NewVerifier(src, false)
	report, err := v.VerifyInclusion(context.Background(), leaf, proof, HeightOrTime{Mode: "height", Height: 5})
	if err != nil {
		t.Fatalf("verify inclusion: %v", err)
	}
	if !report.Verified {
		t.Fatalf("expected verified report, got %+v", report)
	}
	if report.Strategy != "checkpoint-inclusion" {
		t.Fatalf("expected checkpoint-inclusion strategy, got %s", report.Strategy)
	}
}

func TestVerifyInclusionFallsBackWhenHeaderMissing(t *testing.T) {
	src := chainedHeaders(5)
	v := NewVerifier(src, false)

	_, err := v.VerifyInclusion(context.Background(), []byte("leaf"), nil, HeightOrTime{Mode: "height", Height: 100})
	if err == nil {
		t.Fatal("expected error for a height the header source never reached")
	}
}

func TestVerifyInclusionRejectsMismatchedStateRoot(t *testing.T) {
	leaf := merkle.HashData([]byte("message-commit-1"))
	tree, _ := merkle.BuildTree([][]byte{leaf, merkle.HashData([]byte("message-commit-2"))})
	proof, _ := tree.GenerateProof(0)

	src := newFakeHeaderSource()
	src.add(&state.Header{Height: 1, Hash: []byte("h1"), StateRoot: merkle.HashData([]byte("wrong-root")), Time: time.Now()})

	v := NewVerifier(src, false)
	report, err := v.VerifyInclusion(context.Background(), leaf, proof, HeightOrTime{Mode: "height", Height: 1})
	if err == nil {
		t.Fatal("expected error for mismatched state root")
	}
	if report.Verified {
		t.Fatal("expected unverified report")
	}
}

func TestHeaderChainContinuityAcceptsUnbrokenChain(t *testing.T) {
	src := chainedHeaders(10)
	v := NewVerifier(src, false)

	ok, hops := v.strategyHeaderChainContinuity(context.Background(), HeightOrTime{Mode: "height", Height: 3})
	if !ok {
		t.Fatalf("expected continuity to hold, hops: %+v", hops)
	}
	for _, h := range hops {
		if !h.Ok {
			t.Fatalf("expected every hop to succeed, got failing hop: %+v", h)
		}
	}
}

func TestHeaderChainContinuityDetectsBrokenLink(t *testing.T) {
	src := chainedHeaders(5)
	tampered := *src.byHeight[2]
	tampered.ParentHash = []byte("not-the-real-parent-hash")
	src.byHeight[2] = &tampered

	v := NewVerifier(src, false)
	ok, hops := v.strategyHeaderChainContinuity(context.Background(), HeightOrTime{Mode: "height", Height: 0})
	if ok {
		t.Fatal("expected continuity check to fail on tampered parent hash")
	}

	var sawFailure bool
	for _, h := range hops {
		if !h.Ok {
			sawFailure = true
		}
	}
	if !sawFailure {
		t.Fatal("expected at least one failing hop")
	}
}

func TestResolveHeightRejectsTimeMode(t *testing.T) {
	src := chainedHeaders(3)
	v := NewVerifier(src, false)
	if _, err := v.resolveHeight(HeightOrTime{Mode: "time", Time: time.Now()}); err == nil {
		t.Fatal("expected error resolving height by wall-clock time")
	}
}

func TestResolveHeightLatestUsesHeaderSourceTip(t *testing.T) {
	src := chainedHeaders(3)
	v := NewVerifier(src, false)
	height, err := v.resolveHeight(HeightOrTime{Mode: "latest"})
	if err != nil {
		t.Fatalf("resolve height: %v", err)
	}
	if height != 2 {
		t.Fatalf("expected tip height 2, got %d", height)
	}
}
