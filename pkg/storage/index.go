package storage

import (
	"encoding/binary"
	"fmt"

	dbm "github.com/cometbft/cometbft-db"
)

// peerIndex maps (peer, sequence) -> content hash.
type peerIndex struct {
	db     dbm.DB
	prefix []byte
}

func newPeerIndex(db dbm.DB) *peerIndex {
	return &peerIndex{db: db, prefix: []byte("idx/peer/")}
}

func (p *peerIndex) key(peer string, seq uint64) []byte {
	k := append([]byte{}, p.prefix...)
	k = append(k, []byte(peer)...)
	k = append(k, 0)
	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], seq)
	return append(k, seqBytes[:]...)
}

func (p *peerIndex) stage(batch dbm.Batch, peer string, seq uint64, id []byte) error {
	if err := batch.Set(p.key(peer, seq), id); err != nil {
		return fmt.Errorf("stage peer index entry: %w", err)
	}
	return nil
}

func (p *peerIndex) rangeSeq(peer string, fromSeq, toSeq uint64) ([][]byte, error) {
	return scanRange(p.db, p.key(peer, fromSeq), p.key(peer, toSeq))
}

// channelIndex maps (channel, sequence) -> content hash.
type channelIndex struct {
	db     dbm.DB
	prefix []byte
}

func newChannelIndex(db dbm.DB) *channelIndex {
	return &channelIndex{db: db, prefix: []byte("idx/chan/")}
}

func (c *channelIndex) key(channel string, seq uint64) []byte {
	k := append([]byte{}, c.prefix...)
	k = append(k, []byte(channel)...)
	k = append(k, 0)
	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], seq)
	return append(k, seqBytes[:]...)
}

func (c *channelIndex) stage(batch dbm.Batch, channel string, seq uint64, id []byte) error {
	if err := batch.Set(c.key(channel, seq), id); err != nil {
		return fmt.Errorf("stage channel index entry: %w", err)
	}
	return nil
}

func (c *channelIndex) rangeSeq(channel string, fromSeq, toSeq uint64) ([][]byte, error) {
	return scanRange(c.db, c.key(channel, fromSeq), c.key(channel, toSeq))
}

// timeIndex maps (receive time, sequence) -> content hash, for retention
// pruning and time-ordered replay.
type timeIndex struct {
	db     dbm.DB
	prefix []byte
}

func newTimeIndex(db dbm.DB) *timeIndex {
	return &timeIndex{db: db, prefix: []byte("idx/time/")}
}

func (ti *timeIndex) key(unixTime int64, seq uint64) []byte {
	k := append([]byte{}, ti.prefix...)
	var timeBytes [8]byte
	binary.BigEndian.PutUint64(timeBytes[:], uint64(unixTime))
	k = append(k, timeBytes[:]...)
	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], seq)
	return append(k, seqBytes[:]...)
}

func (ti *timeIndex) stage(batch dbm.Batch, unixTime int64, seq uint64, id []byte) error {
	if err := batch.Set(ti.key(unixTime, seq), id); err != nil {
		return fmt.Errorf("stage time index entry: %w", err)
	}
	return nil
}

// Before returns every content hash received strictly before cutoffUnix,
// oldest first — used by checkpoint retention pruning.
func (ti *timeIndex) Before(cutoffUnix int64) ([][]byte, error) {
	return scanRange(ti.db, ti.prefix, ti.key(cutoffUnix, 0))
}

func scanRange(db dbm.DB, start, end []byte) ([][]byte, error) {
	it, err := db.Iterator(start, end)
	if err != nil {
		return nil, fmt.Errorf("iterate index range: %w", err)
	}
	defer it.Close()

	var ids [][]byte
	for ; it.Valid(); it.Next() {
		id := make([]byte, len(it.Value()))
		copy(id, it.Value())
		ids = append(ids, id)
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("index iterator error: %w", err)
	}
	return ids, nil
}
