// Package lightclient lets a node verify message-commit inclusion and
// header-chain continuity against a remote validator without running full
// consensus itself (spec.md §4.F "Fork recovery": light clients follow the
// canonical chain via headers plus state roots).
//
// Adapted from the teacher's accumulate-lite-client-2/liteclient/verifier
// package: same HeightOrTime/Hop/Report shapes and the same try-strategy-A,
// fall-back-to-strategy-B verification flow, retargeted from Accumulate's
// BVN/DN receipt chaining onto our own header + checkpoint-root chain.
package lightclient

import "time"

// HeightOrTime pins a verification target either to a block height, a wall
// clock time, or the chain tip.
type HeightOrTime struct {
	Height uint64
	Time   time.Time
	Mode   string // "latest"|"height"|"time"
}

// Hop is one verification step in a proof chain.
type Hop struct {
	Name    string
	Inputs  map[string][]byte
	Outputs map[string][]byte
	Ok      bool
	Err     string
}

// Report is the outcome of a verification run: which strategy succeeded (or
// was last attempted) and the hop-by-hop trail behind that result.
type Report struct {
	Target   string
	At       HeightOrTime
	Strategy string
	Hops     []Hop
	Verified bool
}
