package storage

import (
	"encoding/binary"
	"fmt"

	dbm "github.com/cometbft/cometbft-db"
	"gopkg.in/yaml.v3"

	"github.com/chikuno/dchat/pkg/merkle"
)

var prefixCheckpoint = []byte("ckpt/")

// CheckpointManifest is the sidecar record describing one checkpoint: its
// Merkle root over the envelope ids it covers, and the retention horizon
// applied at the time it was taken.
type CheckpointManifest struct {
	Index        uint64   `yaml:"index"`
	FromSeq      uint64   `yaml:"from_seq"`
	ToSeq        uint64   `yaml:"to_seq"`
	MerkleRoot   string   `yaml:"merkle_root"`
	LeafIDs      []string `yaml:"leaf_ids"`
	RetainedDays int      `yaml:"retained_days"`
}

// Checkpointer emits periodic Merkle snapshots of the log and prunes
// envelopes older than the retention horizon (spec.md §4.C).
type Checkpointer struct {
	log          *Log
	db           dbm.DB
	nextIndex    uint64
	everyN       int // emit after every N messages
	everyBytes   int // or every M bytes, whichever comes first
	sinceLast    int
	bytesSince   int
}

// NewCheckpointer builds a checkpointer over log, triggering a snapshot
// every everyN appended envelopes or everyBytes of ciphertext, whichever
// comes first.
func NewCheckpointer(log *Log, everyN, everyBytes int) *Checkpointer {
	return &Checkpointer{log: log, db: log.db, everyN: everyN, everyBytes: everyBytes}
}

// Observe is called after each successful Append; it emits a checkpoint
// once the trigger thresholds are crossed.
func (c *Checkpointer) Observe(envelopeSize int) (*CheckpointManifest, error) {
	c.sinceLast++
	c.bytesSince += envelopeSize

	if c.sinceLast < c.everyN && c.bytesSince < c.everyBytes {
		return nil, nil
	}

	manifest, err := c.snapshot()
	if err != nil {
		return nil, err
	}
	c.sinceLast = 0
	c.bytesSince = 0
	return manifest, nil
}

func (c *Checkpointer) snapshot() (*CheckpointManifest, error) {
	c.log.mu.RLock()
	toSeq := c.log.nextSeq
	c.log.mu.RUnlock()

	var fromSeq uint64
	if c.nextIndex > 0 {
		prev, err := c.loadManifest(c.nextIndex - 1)
		if err != nil {
			return nil, err
		}
		fromSeq = prev.ToSeq
	}
	if fromSeq >= toSeq {
		return nil, nil // nothing new since the last checkpoint
	}

	ids, err := c.collectIDs(fromSeq, toSeq)
	if err != nil {
		return nil, err
	}
	leaves := make([][]byte, len(ids))
	leafHex := make([]string, len(ids))
	for i, id := range ids {
		leaves[i] = merkle.HashData(id)
		leafHex[i] = fmt.Sprintf("%x", id)
	}

	rootHex, err := merkle.RootHexFromLeaves(leaves)
	if err != nil {
		return nil, fmt.Errorf("build checkpoint merkle tree: %w", err)
	}

	manifest := &CheckpointManifest{
		Index:      c.nextIndex,
		FromSeq:    fromSeq,
		ToSeq:      toSeq,
		MerkleRoot: rootHex,
		LeafIDs:    leafHex,
	}
	if err := c.storeManifest(manifest); err != nil {
		return nil, err
	}
	c.nextIndex++
	return manifest, nil
}

func (c *Checkpointer) collectIDs(fromSeq, toSeq uint64) ([][]byte, error) {
	it, err := c.db.Iterator(seqKeyFor(fromSeq), seqKeyFor(toSeq))
	if err != nil {
		return nil, fmt.Errorf("iterate sequence range: %w", err)
	}
	defer it.Close()

	var ids [][]byte
	for ; it.Valid(); it.Next() {
		id := make([]byte, len(it.Value()))
		copy(id, it.Value())
		ids = append(ids, id)
	}
	return ids, it.Error()
}

func seqKeyFor(seq uint64) []byte {
	k := append([]byte{}, prefixSeq...)
	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], seq)
	return append(k, seqBytes[:]...)
}

func (c *Checkpointer) storeManifest(m *CheckpointManifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal checkpoint manifest: %w", err)
	}
	key := checkpointKey(m.Index)
	if err := c.db.SetSync(key, data); err != nil {
		return fmt.Errorf("store checkpoint manifest: %w", err)
	}
	return nil
}

func (c *Checkpointer) loadManifest(index uint64) (*CheckpointManifest, error) {
	data, err := c.db.Get(checkpointKey(index))
	if err != nil {
		return nil, fmt.Errorf("load checkpoint manifest: %w", err)
	}
	if data == nil {
		return nil, fmt.Errorf("checkpoint %d not found", index)
	}
	var m CheckpointManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint manifest: %w", err)
	}
	return &m, nil
}

func checkpointKey(index uint64) []byte {
	k := append([]byte{}, prefixCheckpoint...)
	var idxBytes [8]byte
	binary.BigEndian.PutUint64(idxBytes[:], index)
	return append(k, idxBytes[:]...)
}

// Prune deletes every envelope (and its index entries) received strictly
// before cutoffUnix. It does not check that those envelopes are covered by
// an already-emitted checkpoint. Idempotent: pruning an already-pruned range is a no-op.
func (c *Checkpointer) Prune(cutoffUnix int64) (int, error) {
	c.log.mu.Lock()
	defer c.log.mu.Unlock()

	ids, err := c.log.byTime.Before(cutoffUnix)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	batch := c.db.NewBatch()
	defer batch.Close()
	for _, id := range ids {
		if err := batch.Delete(append(append([]byte{}, prefixEnvelope...), id...)); err != nil {
			return 0, fmt.Errorf("stage envelope delete: %w", err)
		}
	}
	if err := batch.WriteSync(); err != nil {
		return 0, fmt.Errorf("commit prune batch: %w", err)
	}
	return len(ids), nil
}
