package lightclient

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log"

	"github.com/chikuno/dchat/pkg/chain/state"
	"github.com/chikuno/dchat/pkg/merkle"
)

// HeaderSource is the subset of pkg/chain/state.ChainState a light client
// needs: read-only access to committed headers.
type HeaderSource interface {
	GetHeader(height uint64) (*state.Header, error)
	LatestHeader() (*state.Header, error)
}

// Verifier performs trustless local verification of message-commit
// inclusion and header-chain continuity, without trusting whichever peer
// supplied the proof.
type Verifier struct {
	headers HeaderSource
	debug   bool
}

// NewVerifier builds a Verifier reading headers from headers.
func NewVerifier(headers HeaderSource, debug bool) *Verifier {
	return &Verifier{headers: headers, debug: debug}
}

// VerifyInclusion checks that leafHash (typically the hash of a
// MessageCommit or checkpoint entry) is included under the checkpoint root
// committed at the target height named by at, using proof.
//
// Strategy A (checkpoint-inclusion) is tried first: verify proof against
// the header's state root directly. If no header is available at that
// height yet — the common case right after a fork or during catch-up —
// Strategy B (header-chain-continuity) walks back from the latest known
// header, verifying each link, to establish that the target height is
// actually reachable before giving up.
func (v *Verifier) VerifyInclusion(ctx context.Context, leafHash []byte, proof *merkle.InclusionProof, at HeightOrTime) (Report, error) {
	report := Report{
		Target:   hex.EncodeToString(leafHash),
		At:       at,
		Strategy: "checkpoint-inclusion",
		Hops:     []Hop{},
	}

	ok, hops := v.strategyCheckpointInclusion(ctx, leafHash, proof, at)
	report.Hops = hops
	if ok {
		report.Verified = true
		return report, nil
	}

	if v.debug {
		log.Printf("[LIGHTCLIENT] checkpoint-inclusion failed, trying header-chain-continuity")
	}

	ok, hops = v.strategyHeaderChainContinuity(ctx, at)
	report.Strategy = "header-chain-continuity"
	report.Hops = append(report.Hops, hops...)
	report.Verified = false // continuity alone never proves inclusion of leafHash

	if !ok {
		for _, h := range hops {
			if !h.Ok {
				return report, fmt.Errorf("verification failed at %s: %s", h.Name, h.Err)
			}
		}
		return report, fmt.Errorf("no header available at target height")
	}

	return report, fmt.Errorf("header chain is continuous but leaf %x was not proven included", leafHash)
}

func (v *Verifier) resolveHeight(at HeightOrTime) (uint64, error) {
	switch at.Mode {
	case "height":
		return at.Height, nil
	case "latest":
		h, err := v.headers.LatestHeader()
		if err != nil {
			return 0, err
		}
		return h.Height, nil
	default:
		return 0, fmt.Errorf("unsupported height resolution mode %q (light client verification does not index by wall-clock time)", at.Mode)
	}
}

func (v *Verifier) strategyCheckpointInclusion(ctx context.Context, leafHash []byte, proof *merkle.InclusionProof, at HeightOrTime) (bool, []Hop) {
	var hops []Hop

	height, err := v.resolveHeight(at)
	if err != nil {
		hops = append(hops, Hop{Name: "ResolveHeight", Ok: false, Err: err.Error()})
		return false, hops
	}

	header, err := v.headers.GetHeader(height)
	if err != nil {
		hops = append(hops, Hop{Name: "FetchHeader", Ok: false, Err: err.Error()})
		return false, hops
	}
	hops = append(hops, Hop{Name: "FetchHeader", Ok: true, Outputs: map[string][]byte{"height": heightBytes(height)}})

	if proof == nil {
		hops = append(hops, Hop{Name: "CheckProofPresent", Ok: false, Err: "no inclusion proof supplied"})
		return false, hops
	}

	stateRootHex := hex.EncodeToString(header.StateRoot)
	if proof.MerkleRoot != stateRootHex {
		hops = append(hops, Hop{
			Name: "MatchStateRoot",
			Ok:   false,
			Err:  fmt.Sprintf("proof root %s does not match header state root %s", proof.MerkleRoot, stateRootHex),
			Inputs: map[string][]byte{
				"header_state_root": header.StateRoot,
			},
		})
		return false, hops
	}
	hops = append(hops, Hop{Name: "MatchStateRoot", Ok: true, Inputs: map[string][]byte{"header_state_root": header.StateRoot}})

	verified, err := merkle.VerifyProof(leafHash, proof, header.StateRoot)
	if err != nil {
		hops = append(hops, Hop{Name: "VerifyMerklePath", Ok: false, Err: err.Error()})
		return false, hops
	}
	hops = append(hops, Hop{Name: "VerifyMerklePath", Ok: verified})
	return verified, hops
}

// strategyHeaderChainContinuity walks backward from the latest header to
// the target height, verifying each header's recorded hash matches its
// recomputation and each ParentHash matches the previous header's hash.
// This is the fallback used when a node has the header chain but not (yet)
// the leaf-level inclusion proof for a particular entry — the equivalent of
// the teacher's state-reconstruction fallback, minus a concrete proof of
// the leaf itself.
func (v *Verifier) strategyHeaderChainContinuity(ctx context.Context, at HeightOrTime) (bool, []Hop) {
	var hops []Hop

	target, err := v.resolveHeight(at)
	if err != nil {
		hops = append(hops, Hop{Name: "ResolveHeight", Ok: false, Err: err.Error()})
		return false, hops
	}

	latest, err := v.headers.LatestHeader()
	if err != nil {
		hops = append(hops, Hop{Name: "FetchLatestHeader", Ok: false, Err: err.Error()})
		return false, hops
	}
	if latest.Height < target {
		hops = append(hops, Hop{Name: "FetchLatestHeader", Ok: false, Err: fmt.Sprintf("chain tip %d is behind target height %d", latest.Height, target)})
		return false, hops
	}

	current := latest
	for current.Height > target {
		parent, err := v.headers.GetHeader(current.Height - 1)
		if err != nil {
			hops = append(hops, Hop{Name: fmt.Sprintf("FetchHeader[%d]", current.Height-1), Ok: false, Err: err.Error()})
			return false, hops
		}

		hop := v.verifyLink(current, parent)
		hops = append(hops, hop)
		if !hop.Ok {
			return false, hops
		}
		current = parent
	}

	return true, hops
}

// verifyLink checks that child's declared ParentHash matches parent's
// actual Hash. A light client does not recompute a block's app hash from
// its entries (that would require the full block, the thing being "light"
// means not fetching) — it trusts each header's Hash as already
// cryptographically bound to its entries via the app's own hashing at
// commit time, and only needs to confirm the chain of custody between
// consecutive headers is unbroken.
func (v *Verifier) verifyLink(child, parent *state.Header) Hop {
	hop := Hop{
		Name:   fmt.Sprintf("VerifyLink[%d->%d]", child.Height, parent.Height),
		Inputs: map[string][]byte{"child_parent_hash": child.ParentHash, "parent_hash": parent.Hash},
	}

	if v.debug {
		log.Printf("[LIGHTCLIENT] link %d->%d: child.ParentHash=%x parent.Hash=%x", child.Height, parent.Height, child.ParentHash, parent.Hash)
	}

	if string(child.ParentHash) != string(parent.Hash) {
		hop.Ok = false
		hop.Err = fmt.Sprintf("parent hash mismatch: header %d declares parent %x, header %d's actual hash is %x", child.Height, child.ParentHash, parent.Height, parent.Hash)
		return hop
	}

	hop.Ok = true
	return hop
}

func heightBytes(height uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, height)
	return b
}
