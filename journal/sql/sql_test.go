package sql

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rakunlabs/domo/adapter"
	"github.com/rakunlabs/domo/journal"
	"github.com/rakunlabs/domo/record"
)

type orderPlaced struct {
	record.Envelope
	OrderID string
	Total   int
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctxName := "sql-journal-test-" + t.Name()
	adapter.ForContext(ctxName).EntryAdapters.RegisterType(&orderPlaced{})

	path := filepath.Join(t.TempDir(), "journal.db")
	store, err := New(context.Background(), Config{
		Dialect:     SQLite3,
		Datasource:  path,
		TablePrefix: "domo_",
		ContextName: ctxName,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func TestStore_AppendAndRead(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	res, err := store.Append(ctx, "order-1", journal.NoStream(), &orderPlaced{Envelope: record.NewEnvelope(1), OrderID: "order-1", Total: 42}, record.EmptyMetadata())
	if err != nil || !res.IsSuccess() {
		t.Fatalf("Append: outcome=%v err=%v", res.Kind, err)
	}
	if res.Result.StreamVersion != 1 || res.Result.GlobalPosition != 1 {
		t.Fatalf("unexpected result %+v", res.Result)
	}

	reader, err := store.StreamReader(ctx, "order-1")
	if err != nil {
		t.Fatalf("StreamReader: %v", err)
	}
	stream, err := reader.StreamFor(ctx)
	if err != nil {
		t.Fatalf("StreamFor: %v", err)
	}
	if len(stream.Entries) != 1 || stream.Entries[0].Type != "order-placed" {
		t.Fatalf("unexpected stream view: %+v", stream)
	}

	if res, _ := store.Append(ctx, "order-1", journal.NoStream(), &orderPlaced{Envelope: record.NewEnvelope(1)}, record.EmptyMetadata()); res.Kind != record.ConcurrencyViolation {
		t.Errorf("NoStream on existing stream: Kind = %v, want ConcurrencyViolation", res.Kind)
	}
}

func TestStore_JournalReaderPersistsPosition(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for i := 0; i < 3; i++ {
		if _, err := store.Append(ctx, "order-1", journal.Any(), &orderPlaced{Envelope: record.NewEnvelope(1), Total: i}, record.EmptyMetadata()); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	r, err := store.JournalReader(ctx, "projector")
	if err != nil {
		t.Fatalf("JournalReader: %v", err)
	}
	first, err := r.ReadNext(ctx, 2)
	if err != nil || len(first) != 2 {
		t.Fatalf("ReadNext: %v, len=%d", err, len(first))
	}

	r2, err := store.JournalReader(ctx, "projector")
	if err != nil {
		t.Fatalf("JournalReader second lookup: %v", err)
	}
	rest, err := r2.ReadNext(ctx, 10)
	if err != nil {
		t.Fatalf("ReadNext: %v", err)
	}
	if len(rest) != 1 {
		t.Fatalf("expected cached reader to resume at its stored position, got %d entries", len(rest))
	}
}

func TestStore_AppendAfterSnapshotPreservesSnapshotAndTruncateBefore(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	store.Append(ctx, "order-1", journal.NoStream(), &orderPlaced{Envelope: record.NewEnvelope(1), OrderID: "order-1", Total: 1}, record.EmptyMetadata())
	store.Append(ctx, "order-1", journal.Concrete(2), &orderPlaced{Envelope: record.NewEnvelope(1), Total: 2}, record.EmptyMetadata())

	snapshot := record.NewTextState("", "order-snapshot", 1, `{"total":3}`, 2, record.EmptyMetadata())
	if res, err := store.AppendWith(ctx, "order-1", journal.Concrete(3), &orderPlaced{Envelope: record.NewEnvelope(1), Total: 3}, record.EmptyMetadata(), snapshot); err != nil || !res.IsSuccess() {
		t.Fatalf("AppendWith: outcome=%v err=%v", res.Kind, err)
	}
	if res, err := store.TruncateBefore(ctx, "order-1", 2); err != nil || !res.IsSuccess() {
		t.Fatalf("TruncateBefore: %v %v", res.Kind, err)
	}

	// A plain append after the snapshot and the truncate-before floor were
	// set must not erase either: the delete-then-insert upsert has to
	// carry both forward when it isn't itself replacing them.
	if res, err := store.Append(ctx, "order-1", journal.Concrete(4), &orderPlaced{Envelope: record.NewEnvelope(1), Total: 4}, record.EmptyMetadata()); err != nil || !res.IsSuccess() {
		t.Fatalf("Append: outcome=%v err=%v", res.Kind, err)
	}

	reader, err := store.StreamReader(ctx, "order-1")
	if err != nil {
		t.Fatalf("StreamReader: %v", err)
	}
	stream, err := reader.StreamFor(ctx)
	if err != nil {
		t.Fatalf("StreamFor: %v", err)
	}
	if stream.Snapshot.IsEmpty() {
		t.Fatal("expected snapshot to survive a later plain append")
	}
	if stream.Snapshot.DataAsText() != `{"total":3}` {
		t.Fatalf("unexpected snapshot contents after later append: %q", stream.Snapshot.DataAsText())
	}

	info, err := store.StreamInfo(ctx, "order-1")
	if err != nil {
		t.Fatalf("StreamInfo: %v", err)
	}
	if info.Result.TruncateBefore != 2 {
		t.Fatalf("expected truncate_before to survive a later plain append, got %d", info.Result.TruncateBefore)
	}
}

func TestStore_TombstoneAndTruncate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	store.Append(ctx, "order-1", journal.NoStream(), &orderPlaced{Envelope: record.NewEnvelope(1)}, record.EmptyMetadata())
	store.Append(ctx, "order-1", journal.Concrete(2), &orderPlaced{Envelope: record.NewEnvelope(1)}, record.EmptyMetadata())

	if res, err := store.TruncateBefore(ctx, "order-1", 2); err != nil || !res.IsSuccess() {
		t.Fatalf("TruncateBefore: %v %v", res.Kind, err)
	}
	info, err := store.StreamInfo(ctx, "order-1")
	if err != nil || info.Result.VisibleCount != 1 {
		t.Fatalf("StreamInfo after truncate: %+v, err=%v", info, err)
	}

	if res, err := store.Tombstone(ctx, "order-1"); err != nil || !res.IsSuccess() {
		t.Fatalf("Tombstone: %v %v", res.Kind, err)
	}
	if res, _ := store.Tombstone(ctx, "order-1"); res.Kind != record.AlreadyTombstoned {
		t.Errorf("re-tombstone Kind = %v, want AlreadyTombstoned", res.Kind)
	}
	if res, _ := store.Append(ctx, "order-1", journal.Any(), &orderPlaced{Envelope: record.NewEnvelope(1)}, record.EmptyMetadata()); res.Kind != record.StreamDeleted {
		t.Errorf("append to tombstoned stream: Kind = %v, want StreamDeleted", res.Kind)
	}
}
