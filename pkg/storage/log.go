// Package storage is the local append-only log of message envelopes
// (spec.md §4.C): keyed by content hash, with secondary indexes by
// (peer, sequence), (channel, sequence), and receive time, periodic Merkle
// checkpoints, and encrypted backups. Built on
// github.com/cometbft/cometbft-db, the same embedded KV store the teacher
// uses for its own ledger (pkg/consensus/bft_integration.go's
// dbm.NewGoLevelDB, pkg/kvdb/adapter.go's wrapping style).
package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	dbm "github.com/cometbft/cometbft-db"
	"lukechampine.com/blake3"

	"github.com/chikuno/dchat/pkg/errs"
)

var (
	prefixEnvelope = []byte("env/")  // env/<content-hash>        -> Envelope JSON
	prefixSeq      = []byte("seq/")  // seq/<local-seq, 8 bytes>  -> content-hash
)

// Envelope is one immutable message record in the log, keyed by its
// content hash (spec.md §3's Message.id).
type Envelope struct {
	ID        []byte // BLAKE3 over canonical fields below
	Sender    string
	Recipient string // identity, channel name, or stealth address
	Channel   string // empty unless this envelope belongs to a channel
	Ciphertext []byte
	Tag       []byte
	Signature []byte
	Epoch     uint64
	ReceivedAtUnix int64
}

// ContentHash computes the canonical BLAKE3 id for an envelope's fields,
// matching the "globally unique id (content hash over canonical fields)"
// contract in spec.md §3.
func ContentHash(sender, recipient string, ciphertext []byte, epoch uint64) []byte {
	h := blake3.New(32, nil)
	h.Write([]byte(sender))
	h.Write([]byte{0})
	h.Write([]byte(recipient))
	h.Write([]byte{0})
	h.Write(ciphertext)
	var epochBytes [8]byte
	binary.BigEndian.PutUint64(epochBytes[:], epoch)
	h.Write(epochBytes[:])
	return h.Sum(nil)
}

// Log is the single-writer, concurrent-reader append-only envelope store.
type Log struct {
	mu      sync.RWMutex
	db      dbm.DB
	nextSeq uint64

	byPeer    *peerIndex
	byChannel *channelIndex
	byTime    *timeIndex
}

// Open opens (or creates) a GoLevelDB-backed log at dir/name.
func Open(dir, name string) (*Log, error) {
	db, err := dbm.NewGoLevelDB(name, dir)
	if err != nil {
		return nil, fmt.Errorf("open log database: %w", err)
	}
	l := &Log{
		db:        db,
		byPeer:    newPeerIndex(db),
		byChannel: newChannelIndex(db),
		byTime:    newTimeIndex(db),
	}
	if err := l.restoreNextSeq(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Log) restoreNextSeq() error {
	it, err := l.db.ReverseIterator(prefixSeq, prefixUpperBound(prefixSeq))
	if err != nil {
		return fmt.Errorf("iterate sequence index: %w", err)
	}
	defer it.Close()
	if it.Valid() {
		seq := binary.BigEndian.Uint64(it.Key()[len(prefixSeq):])
		l.nextSeq = seq + 1
	}
	return nil
}

// Append stores envelope atomically, assigning it the next local sequence
// number. Fails with ErrDuplicateContentHash if the id already exists.
func (l *Log) Append(env *Envelope) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	envKey := append(append([]byte{}, prefixEnvelope...), env.ID...)
	existing, err := l.db.Get(envKey)
	if err != nil {
		return 0, fmt.Errorf("check existing envelope: %w", err)
	}
	if existing != nil {
		return 0, errs.ErrDuplicateContentHash
	}

	seq := l.nextSeq
	data, err := json.Marshal(env)
	if err != nil {
		return 0, fmt.Errorf("marshal envelope: %w", err)
	}

	batch := l.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(envKey, data); err != nil {
		return 0, fmt.Errorf("stage envelope write: %w", err)
	}
	var seqKey [8]byte
	binary.BigEndian.PutUint64(seqKey[:], seq)
	if err := batch.Set(append(append([]byte{}, prefixSeq...), seqKey[:]...), env.ID); err != nil {
		return 0, fmt.Errorf("stage sequence write: %w", err)
	}
	if err := l.byPeer.stage(batch, env.Recipient, seq, env.ID); err != nil {
		return 0, err
	}
	if env.Channel != "" {
		if err := l.byChannel.stage(batch, env.Channel, seq, env.ID); err != nil {
			return 0, err
		}
	}
	if err := l.byTime.stage(batch, env.ReceivedAtUnix, seq, env.ID); err != nil {
		return 0, err
	}

	if err := batch.WriteSync(); err != nil {
		return 0, fmt.Errorf("commit envelope batch: %w", err)
	}
	l.nextSeq++
	return seq, nil
}

// GetByID returns the envelope with the given content hash.
func (l *Log) GetByID(id []byte) (*Envelope, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.getByIDLocked(id)
}

func (l *Log) getByIDLocked(id []byte) (*Envelope, error) {
	data, err := l.db.Get(append(append([]byte{}, prefixEnvelope...), id...))
	if err != nil {
		return nil, fmt.Errorf("get envelope: %w", err)
	}
	if data == nil {
		return nil, fmt.Errorf("envelope not found")
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return &env, nil
}

// RangeByPeer returns envelopes addressed to peer with sequence numbers in
// [fromSeq, toSeq).
func (l *Log) RangeByPeer(peer string, fromSeq, toSeq uint64) ([]*Envelope, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids, err := l.byPeer.rangeSeq(peer, fromSeq, toSeq)
	if err != nil {
		return nil, err
	}
	return l.resolve(ids)
}

// RangeByChannel returns envelopes posted to channel with sequence numbers
// in [fromSeq, toSeq).
func (l *Log) RangeByChannel(channel string, fromSeq, toSeq uint64) ([]*Envelope, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids, err := l.byChannel.rangeSeq(channel, fromSeq, toSeq)
	if err != nil {
		return nil, err
	}
	return l.resolve(ids)
}

func (l *Log) resolve(ids [][]byte) ([]*Envelope, error) {
	out := make([]*Envelope, 0, len(ids))
	for _, id := range ids {
		env, err := l.getByIDLocked(id)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, nil
}

// NextSeq returns the sequence number that would be assigned to the next
// appended envelope.
func (l *Log) NextSeq() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nextSeq
}

// Close releases the underlying database handle.
func (l *Log) Close() error {
	return l.db.Close()
}

func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte{}, prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] < 0xff {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil // prefix is all 0xff, unbounded
}
