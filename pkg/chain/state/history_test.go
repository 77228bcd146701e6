package state

import (
	"context"
	"os"
	"testing"

	"github.com/chikuno/dchat/pkg/identity"
)

// Archive store tests need a real Postgres instance; they run only when
// DCHAT_TEST_DB is set, the same opt-in pattern the teacher uses for its
// own repository tests.
func testArchiveStore(t *testing.T) *ArchiveStore {
	t.Helper()
	dsn := os.Getenv("DCHAT_TEST_DB")
	if dsn == "" {
		t.Skip("DCHAT_TEST_DB not configured, skipping archive store test")
	}
	store, err := NewArchiveStore(dsn)
	if err != nil {
		t.Fatalf("failed to open archive store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestArchiveEntryIsIdempotent(t *testing.T) {
	store := testArchiveStore(t)
	ctx := context.Background()

	entry := &identity.LogEntry{
		Kind:     "MessageCommit",
		Identity: "alice",
		Payload:  map[string]string{"message_id": "m1", "channel": "general"},
	}

	if err := store.ArchiveEntry(ctx, 42, entry); err != nil {
		t.Fatalf("unexpected error on first archive: %v", err)
	}
	if err := store.ArchiveEntry(ctx, 42, entry); err != nil {
		t.Fatalf("re-archiving the same entry should be a no-op, got error: %v", err)
	}

	entries, err := store.EntriesAtHeight(ctx, 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one archived entry at height 42, got %d", len(entries))
	}
}

func TestEntryByMessageIDFindsArchivedCommit(t *testing.T) {
	store := testArchiveStore(t)
	ctx := context.Background()

	entry := &identity.LogEntry{
		Kind:     "MessageCommit",
		Identity: "bob",
		Payload:  map[string]string{"message_id": "m2", "channel": "general"},
	}
	if err := store.ArchiveEntry(ctx, 7, entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, height, err := store.EntryByMessageID(ctx, "m2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if height != 7 || got.Identity != "bob" {
		t.Fatalf("unexpected archived entry: height=%d entry=%+v", height, got)
	}
}

func TestEntryByMessageIDNotFound(t *testing.T) {
	store := testArchiveStore(t)
	ctx := context.Background()

	if _, _, err := store.EntryByMessageID(ctx, "does-not-exist"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
