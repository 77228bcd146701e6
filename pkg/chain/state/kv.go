// Package state is the chat-chain's state store: live identity, channel,
// reputation, and dispute records plus recent block headers, all held in a
// key-value store with column families (spec.md §6: "Chain state store: a
// key-value store with column families for identities, channels,
// reputation, pending disputes, and block headers"), and an archival
// relational store (ArchiveStore) for entries pruned out of live state.
//
// Grounded on the teacher's dual-store split: pkg/ledger/store.go's KV
// column-family layout (prefix-plus-marshaled-JSON keys, a "latest" pointer
// alongside per-height keys) for the live store, and
// pkg/database/client.go's lib/pq connection for the archive.
package state

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	dbm "github.com/cometbft/cometbft-db"
)

// ErrNotFound is returned when a record does not exist in the live store.
var ErrNotFound = errors.New("chain state: record not found")

var (
	prefixIdentity   = []byte("identity:")
	prefixChannel    = []byte("channel:")
	prefixReputation = []byte("reputation:")
	prefixDispute    = []byte("dispute:")
	prefixHeader     = []byte("header:")
	keyLatestHeader  = []byte("header:latest")
)

// IdentityRecord is the on-chain identity record named in spec.md §3: "root
// public key, monotonically increasing sequence number, optional human
// handle, current reputation score, and the set of currently authorized
// device public keys."
type IdentityRecord struct {
	RootPublicKey     string
	Sequence          uint64
	Handle            string
	Reputation        float64
	AuthorizedDevices []string
}

// ChannelRecord is the on-chain channel record (spec.md §3: creator
// identity, monotonically increasing message sequence number, access
// policy).
type ChannelRecord struct {
	Name     string
	Creator  string
	Sequence uint64
	Policy   string
}

// DisputeRecord tracks one open or resolved DisputeOpen entry (spec.md
// §4.F).
type DisputeRecord struct {
	ID                string
	Evidence          string
	OpenedAtHeight    uint64
	ChallengeDeadline uint64
	Resolved          bool
	Slashed           bool
}

// Header is the Merkle-summarized, signature-stripped block header kept
// live so light clients and pruned nodes can verify against a state root
// without the full entry list (spec.md §4.F "Fork recovery": "Light clients
// follow the canonical chain via the headers-plus-state-root chain").
type Header struct {
	Height     uint64
	Hash       []byte
	ParentHash []byte
	StateRoot  []byte
	Time       time.Time
}

// ChainState is the live KV-backed state store. It assumes single-writer
// access from the chain's commit thread, the same discipline the teacher's
// LedgerStore documents for the same reason: all ledger updates happen on
// the BFT commit path.
type ChainState struct {
	db dbm.DB
}

// New wraps db as a ChainState. Callers typically construct db via
// pkg/kvdb or an in-memory cometbft-db implementation for tests.
func New(db dbm.DB) *ChainState {
	return &ChainState{db: db}
}

func identityKey(pubKey string) []byte   { return append(append([]byte{}, prefixIdentity...), pubKey...) }
func channelKey(name string) []byte      { return append(append([]byte{}, prefixChannel...), name...) }
func reputationKey(identity string) []byte {
	return append(append([]byte{}, prefixReputation...), identity...)
}
func disputeKey(id string) []byte { return append(append([]byte{}, prefixDispute...), id...) }
func headerKey(height uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, height)
	return append(append([]byte{}, prefixHeader...), b...)
}

func (s *ChainState) putJSON(key []byte, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return s.db.SetSync(key, b)
}

func (s *ChainState) getJSON(key []byte, v interface{}) error {
	b, err := s.db.Get(key)
	if err != nil {
		return fmt.Errorf("get: %w", err)
	}
	if len(b) == 0 {
		return ErrNotFound
	}
	return json.Unmarshal(b, v)
}

// PutIdentity writes or overwrites rec.
func (s *ChainState) PutIdentity(rec *IdentityRecord) error {
	return s.putJSON(identityKey(rec.RootPublicKey), rec)
}

// GetIdentity reads the identity record for pubKey.
func (s *ChainState) GetIdentity(pubKey string) (*IdentityRecord, error) {
	var rec IdentityRecord
	if err := s.getJSON(identityKey(pubKey), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// PutChannel writes or overwrites rec.
func (s *ChainState) PutChannel(rec *ChannelRecord) error {
	return s.putJSON(channelKey(rec.Name), rec)
}

// GetChannel reads the channel record for name.
func (s *ChainState) GetChannel(name string) (*ChannelRecord, error) {
	var rec ChannelRecord
	if err := s.getJSON(channelKey(name), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// PutReputation writes identity's reputation score. Reputation is always
// recomputed deterministically from chain history (spec.md §3); this is the
// cached result of that computation, not an independent input.
func (s *ChainState) PutReputation(identity string, score float64) error {
	return s.db.SetSync(reputationKey(identity), []byte(fmt.Sprintf("%f", score)))
}

// GetReputation reads identity's cached reputation score.
func (s *ChainState) GetReputation(identity string) (float64, error) {
	b, err := s.db.Get(reputationKey(identity))
	if err != nil {
		return 0, fmt.Errorf("get: %w", err)
	}
	if len(b) == 0 {
		return 0, ErrNotFound
	}
	var score float64
	if _, err := fmt.Sscanf(string(b), "%f", &score); err != nil {
		return 0, fmt.Errorf("parse reputation: %w", err)
	}
	return score, nil
}

// PutDispute writes or overwrites rec.
func (s *ChainState) PutDispute(rec *DisputeRecord) error {
	return s.putJSON(disputeKey(rec.ID), rec)
}

// GetDispute reads the dispute record for id.
func (s *ChainState) GetDispute(id string) (*DisputeRecord, error) {
	var rec DisputeRecord
	if err := s.getJSON(disputeKey(id), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// PutHeader writes h both under its height key and as the latest pointer.
func (s *ChainState) PutHeader(h *Header) error {
	if err := s.putJSON(headerKey(h.Height), h); err != nil {
		return err
	}
	return s.putJSON(keyLatestHeader, h)
}

// GetHeader reads the header at height.
func (s *ChainState) GetHeader(height uint64) (*Header, error) {
	var h Header
	if err := s.getJSON(headerKey(height), &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// LatestHeader reads the most recently written header.
func (s *ChainState) LatestHeader() (*Header, error) {
	var h Header
	if err := s.getJSON(keyLatestHeader, &h); err != nil {
		return nil, err
	}
	return &h, nil
}
