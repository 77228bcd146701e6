package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/chikuno/dchat/pkg/identity"
)

// ArchiveStore is the relational side of the dual-store split: archived
// MessageCommit bodies and other pruned LogEntries, queryable by height or
// message id after pkg/chain/pruning.go has replaced them in the live KV
// store with a Merkle checkpoint (spec.md §4.F "Pruning").
//
// Grounded on the teacher's pkg/database/client.go connection-pooling
// pattern: sql.Open("postgres", dsn) plus a PingContext probe at
// construction time.
type ArchiveStore struct {
	db *sql.DB
}

// NewArchiveStore opens a pooled Postgres connection at dsn and verifies it
// is reachable before returning.
func NewArchiveStore(dsn string) (*ArchiveStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open archive store: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping archive store: %w", err)
	}

	if _, err := db.ExecContext(ctx, archiveSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("provision archive schema: %w", err)
	}

	return &ArchiveStore{db: db}, nil
}

// archiveSchema is applied once at construction time so a fresh Postgres
// instance is ready to receive archived entries without a separate
// migration step.
const archiveSchema = `
CREATE TABLE IF NOT EXISTS archived_log_entries (
	height    BIGINT NOT NULL,
	kind      TEXT NOT NULL,
	identity  TEXT NOT NULL,
	payload   JSONB,
	signature BYTEA,
	PRIMARY KEY (height, kind, identity)
);
CREATE INDEX IF NOT EXISTS archived_log_entries_message_id_idx
	ON archived_log_entries ((payload->>'message_id'));
`

// Close releases the underlying connection pool.
func (a *ArchiveStore) Close() error {
	return a.db.Close()
}

// ArchiveEntry persists entry as committed at height, ahead of it being
// pruned from live state. Idempotent: re-archiving the same (height, kind,
// identity) triple is a no-op.
func (a *ArchiveStore) ArchiveEntry(ctx context.Context, height uint64, entry *identity.LogEntry) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("marshal entry payload: %w", err)
	}

	_, err = a.db.ExecContext(ctx, `
		INSERT INTO archived_log_entries (height, kind, identity, payload, signature)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (height, kind, identity) DO NOTHING
	`, int64(height), entry.Kind, entry.Identity, payload, entry.Signature)
	if err != nil {
		return fmt.Errorf("archive entry: %w", err)
	}
	return nil
}

// EntriesAtHeight retrieves every archived entry committed at height.
func (a *ArchiveStore) EntriesAtHeight(ctx context.Context, height uint64) ([]*identity.LogEntry, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT kind, identity, payload, signature
		FROM archived_log_entries
		WHERE height = $1
		ORDER BY kind, identity
	`, int64(height))
	if err != nil {
		return nil, fmt.Errorf("query archived entries: %w", err)
	}
	defer rows.Close()

	var out []*identity.LogEntry
	for rows.Next() {
		var e identity.LogEntry
		var payload []byte
		if err := rows.Scan(&e.Kind, &e.Identity, &payload, &e.Signature); err != nil {
			return nil, fmt.Errorf("scan archived entry: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal archived payload: %w", err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// EntryByMessageID retrieves an archived MessageCommit by its message id,
// for clients reconstructing history beyond the live retention horizon.
func (a *ArchiveStore) EntryByMessageID(ctx context.Context, messageID string) (*identity.LogEntry, uint64, error) {
	var e identity.LogEntry
	var payload []byte
	var height int64
	err := a.db.QueryRowContext(ctx, `
		SELECT height, kind, identity, payload, signature
		FROM archived_log_entries
		WHERE kind = 'MessageCommit' AND payload->>'message_id' = $1
		LIMIT 1
	`, messageID).Scan(&height, &e.Kind, &e.Identity, &payload, &e.Signature)
	if err == sql.ErrNoRows {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("query archived entry by message id: %w", err)
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return nil, 0, fmt.Errorf("unmarshal archived payload: %w", err)
		}
	}
	return &e, uint64(height), nil
}
