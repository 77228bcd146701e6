// Package diversity enforces the eclipse-resistance caps of spec.md §4.D:
// no more than 30% of connected peers sharing an originating AS, no more
// than 50% sharing a coarse geographic region, plus an anomaly detector for
// sudden concentration shifts. Pure bookkeeping — no pack library covers
// AS/geo diversity accounting, so this is built directly against the
// connection pool's own peer records.
package diversity

import (
	"sync"
)

const (
	maxASNShare = 0.30
	maxGeoShare = 0.50

	// anomalyShiftThreshold is how much a single AS or region's share may
	// jump between consecutive snapshots before the anomaly detector fires.
	anomalyShiftThreshold = 0.15
)

// PeerOrigin is the diversity-relevant metadata of one connected peer.
type PeerOrigin struct {
	ASN    string
	Region string
}

// Tracker maintains per-AS and per-region connected-peer counts.
type Tracker struct {
	mu        sync.Mutex
	byASN     map[string]int
	byRegion  map[string]int
	total     int
	lastASNShare map[string]float64
	lastRegionShare map[string]float64
	hasSnapshot bool
	guardPeers []string // long-lived peers used for diverse reconnection
}

// NewTracker builds an empty diversity tracker, optionally seeded with a
// set of long-lived guard peers used when an anomaly triggers reconnection.
func NewTracker(guardPeers []string) *Tracker {
	return &Tracker{
		byASN:           make(map[string]int),
		byRegion:        make(map[string]int),
		lastASNShare:    make(map[string]float64),
		lastRegionShare: make(map[string]float64),
		guardPeers:      guardPeers,
	}
}

// Admit reports whether adding a peer with the given origin would violate
// the AS or region concentration caps; it does not mutate state.
func (t *Tracker) Admit(origin PeerOrigin) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	nextTotal := t.total + 1
	nextASN := t.byASN[origin.ASN] + 1
	nextRegion := t.byRegion[origin.Region] + 1

	if float64(nextASN)/float64(nextTotal) > maxASNShare {
		return false
	}
	if float64(nextRegion)/float64(nextTotal) > maxGeoShare {
		return false
	}
	return true
}

// Record adds an admitted peer's origin to the tracker's counts.
func (t *Tracker) Record(origin PeerOrigin) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byASN[origin.ASN]++
	t.byRegion[origin.Region]++
	t.total++
}

// Forget removes a disconnected peer's origin from the tracker's counts.
func (t *Tracker) Forget(origin PeerOrigin) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.byASN[origin.ASN] > 0 {
		t.byASN[origin.ASN]--
	}
	if t.byRegion[origin.Region] > 0 {
		t.byRegion[origin.Region]--
	}
	if t.total > 0 {
		t.total--
	}
}

// AnomalyDetected compares the current AS/region shares against the last
// snapshot and reports true if any single AS or region jumped by more than
// anomalyShiftThreshold — a sign of a coordinated eclipse attempt. Calling
// it also refreshes the snapshot.
func (t *Tracker) AnomalyDetected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.total == 0 {
		return false
	}

	// The very first call only establishes a baseline: there is no prior
	// snapshot to compare against, so it can never itself be an anomaly.
	first := !t.hasSnapshot
	t.hasSnapshot = true

	anomaly := false
	for asn, count := range t.byASN {
		share := float64(count) / float64(t.total)
		if !first && share-t.lastASNShare[asn] > anomalyShiftThreshold {
			anomaly = true
		}
		t.lastASNShare[asn] = share
	}
	for region, count := range t.byRegion {
		share := float64(count) / float64(t.total)
		if !first && share-t.lastRegionShare[region] > anomalyShiftThreshold {
			anomaly = true
		}
		t.lastRegionShare[region] = share
	}
	return anomaly
}

// GuardPeers returns the configured long-lived guard peers to reconnect
// through when an anomaly is detected.
func (t *Tracker) GuardPeers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.guardPeers))
	copy(out, t.guardPeers)
	return out
}
