package journal

import (
	"context"
	"testing"

	"github.com/rakunlabs/domo/adapter"
	"github.com/rakunlabs/domo/record"
)

type accountOpened struct {
	record.Envelope
	AccountID string
}

type fundsDeposited struct {
	record.Envelope
	AccountID string
	Amount    int
}

func newTestJournal(t *testing.T) *Memory {
	t.Helper()
	ctx := "journal-test-" + t.Name()
	p := adapter.ForContext(ctx).EntryAdapters
	p.RegisterType(&accountOpened{})
	p.RegisterType(&fundsDeposited{})
	return New(ctx)
}

// TestAppend_BasicAndRestore is scenario S1: append two records, restore the
// stream, and confirm both round trip with ascending stream versions.
func TestAppend_BasicAndRestore(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t)

	res, err := j.Append(ctx, "account-1", NoStream(), &accountOpened{Envelope: record.NewEnvelope(1), AccountID: "account-1"}, record.EmptyMetadata())
	if err != nil || !res.IsSuccess() {
		t.Fatalf("append 1: outcome=%v err=%v", res.Kind, err)
	}
	if res.Result.StreamVersion != 1 {
		t.Fatalf("StreamVersion = %d, want 1", res.Result.StreamVersion)
	}

	res2, err := j.Append(ctx, "account-1", Concrete(2), &fundsDeposited{Envelope: record.NewEnvelope(1), AccountID: "account-1", Amount: 50}, record.EmptyMetadata())
	if err != nil || !res2.IsSuccess() {
		t.Fatalf("append 2: outcome=%v err=%v", res2.Kind, err)
	}
	if res2.Result.StreamVersion != 2 {
		t.Fatalf("StreamVersion = %d, want 2", res2.Result.StreamVersion)
	}

	reader, err := j.StreamReader(ctx, "account-1")
	if err != nil {
		t.Fatalf("StreamReader: %v", err)
	}
	stream, err := reader.StreamFor(ctx)
	if err != nil {
		t.Fatalf("StreamFor: %v", err)
	}
	if len(stream.Entries) != 2 {
		t.Fatalf("len(Entries) = %d, want 2", len(stream.Entries))
	}
	if stream.Entries[0].StreamVersion != 1 || stream.Entries[1].StreamVersion != 2 {
		t.Errorf("unexpected stream versions: %d, %d", stream.Entries[0].StreamVersion, stream.Entries[1].StreamVersion)
	}
	if stream.Entries[0].GlobalPosition == 0 || stream.Entries[1].GlobalPosition <= stream.Entries[0].GlobalPosition {
		t.Errorf("global position not assigned monotonically: %d, %d", stream.Entries[0].GlobalPosition, stream.Entries[1].GlobalPosition)
	}
}

// TestAppend_OptimisticConcurrency is scenario S2.
func TestAppend_OptimisticConcurrency(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t)

	if res, _ := j.Append(ctx, "s1", NoStream(), &accountOpened{Envelope: record.NewEnvelope(1)}, record.EmptyMetadata()); !res.IsSuccess() {
		t.Fatalf("seed append failed: %v", res.Kind)
	}

	res, err := j.Append(ctx, "s1", Concrete(5), &accountOpened{Envelope: record.NewEnvelope(1)}, record.EmptyMetadata())
	if err != nil {
		t.Fatalf("unexpected go error: %v", err)
	}
	if res.Kind != record.ConcurrencyViolation {
		t.Fatalf("Kind = %v, want ConcurrencyViolation", res.Kind)
	}

	if res, _ := j.Append(ctx, "s1", NoStream(), &accountOpened{Envelope: record.NewEnvelope(1)}, record.EmptyMetadata()); res.Kind != record.ConcurrencyViolation {
		t.Errorf("NoStream on existing stream: Kind = %v, want ConcurrencyViolation", res.Kind)
	}

	if res, _ := j.Append(ctx, "never-created", StreamExists(), &accountOpened{Envelope: record.NewEnvelope(1)}, record.EmptyMetadata()); res.Kind != record.ConcurrencyViolation {
		t.Errorf("StreamExists on absent stream: Kind = %v, want ConcurrencyViolation", res.Kind)
	}

	if res, _ := j.Append(ctx, "s1", Any(), &accountOpened{Envelope: record.NewEnvelope(1)}, record.EmptyMetadata()); !res.IsSuccess() || res.Result.StreamVersion != 2 {
		t.Errorf("Any(): outcome=%v version=%d", res.Kind, res.Result.StreamVersion)
	}
}

// TestAppendWith_SnapshotSkip is scenario S3: a snapshot taken at append
// time is returned by the stream reader and is independent of the entries
// appended after it.
func TestAppendWith_SnapshotSkip(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t)

	snap := record.NewObjectState("", "account", 1, map[string]any{"balance": 100}, 1, record.EmptyMetadata())
	if res, _ := j.AppendWith(ctx, "s1", NoStream(), &accountOpened{Envelope: record.NewEnvelope(1)}, record.EmptyMetadata(), snap); !res.IsSuccess() {
		t.Fatalf("AppendWith failed: %v", res.Kind)
	}
	if _, err := j.Append(ctx, "s1", Concrete(2), &fundsDeposited{Envelope: record.NewEnvelope(1), Amount: 10}, record.EmptyMetadata()); err != nil {
		t.Fatalf("append: %v", err)
	}

	reader, _ := j.StreamReader(ctx, "s1")
	stream, err := reader.StreamFor(ctx)
	if err != nil {
		t.Fatalf("StreamFor: %v", err)
	}
	if stream.Snapshot.IsEmpty() {
		t.Fatal("expected snapshot to be retained")
	}
	if stream.Snapshot.DataObject.(map[string]any)["balance"] != 100 {
		t.Errorf("snapshot payload = %v", stream.Snapshot.DataObject)
	}
	if len(stream.Entries) != 2 {
		t.Errorf("len(Entries) = %d, want 2 (snapshot does not hide entries)", len(stream.Entries))
	}
}

func TestStreamReader_UnknownStreamIsEmpty(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t)

	reader, err := j.StreamReader(ctx, "never-seen")
	if err != nil {
		t.Fatalf("StreamReader: %v", err)
	}
	stream, err := reader.StreamFor(ctx)
	if err != nil {
		t.Fatalf("StreamFor: %v", err)
	}
	if len(stream.Entries) != 0 || stream.StreamVersion != 0 || stream.IsTombstoned || stream.IsSoftDeleted {
		t.Errorf("unexpected empty-stream view: %+v", stream)
	}
}

func TestStreamReader_Caching(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t)

	r1, _ := j.StreamReader(ctx, "s1")
	r2, _ := j.StreamReader(ctx, "s1")
	if r1 != r2 {
		t.Error("expected StreamReader to return the cached instance for the same name")
	}
}

func TestTombstone_BlocksAppendAndIsIdempotentFailure(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t)

	j.Append(ctx, "s1", NoStream(), &accountOpened{Envelope: record.NewEnvelope(1)}, record.EmptyMetadata())

	if res, err := j.Tombstone(ctx, "s1"); err != nil || !res.IsSuccess() {
		t.Fatalf("Tombstone: outcome=%v err=%v", res.Kind, err)
	}

	if res, _ := j.Tombstone(ctx, "s1"); res.Kind != record.AlreadyTombstoned {
		t.Errorf("re-tombstone Kind = %v, want AlreadyTombstoned", res.Kind)
	}

	if res, _ := j.Tombstone(ctx, "never-created"); res.Kind != record.NotFound {
		t.Errorf("tombstone of absent stream: Kind = %v, want NotFound", res.Kind)
	}

	if res, _ := j.Append(ctx, "s1", Any(), &accountOpened{Envelope: record.NewEnvelope(1)}, record.EmptyMetadata()); res.Kind != record.StreamDeleted {
		t.Errorf("append to tombstoned stream: Kind = %v, want StreamDeleted", res.Kind)
	}

	reader, _ := j.StreamReader(ctx, "s1")
	stream, _ := reader.StreamFor(ctx)
	if !stream.IsTombstoned || len(stream.Entries) != 0 {
		t.Errorf("tombstoned view: %+v", stream)
	}
}

func TestSoftDelete_ReopensOnAppend(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t)

	j.Append(ctx, "s1", NoStream(), &accountOpened{Envelope: record.NewEnvelope(1)}, record.EmptyMetadata())
	if res, err := j.SoftDelete(ctx, "s1"); err != nil || !res.IsSuccess() {
		t.Fatalf("SoftDelete: %v %v", res.Kind, err)
	}

	reader, _ := j.StreamReader(ctx, "s1")
	stream, _ := reader.StreamFor(ctx)
	if !stream.IsSoftDeleted {
		t.Error("expected IsSoftDeleted after SoftDelete")
	}

	if res, _ := j.Append(ctx, "s1", Concrete(2), &fundsDeposited{Envelope: record.NewEnvelope(1)}, record.EmptyMetadata()); !res.IsSuccess() {
		t.Fatalf("append after soft-delete should reopen the stream: %v", res.Kind)
	}
	stream2, _ := reader.StreamFor(ctx)
	if stream2.IsSoftDeleted {
		t.Error("expected append to clear IsSoftDeleted")
	}
}

func TestTruncateBefore_HidesOlderEntries(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t)

	j.Append(ctx, "s1", NoStream(), &accountOpened{Envelope: record.NewEnvelope(1)}, record.EmptyMetadata())
	j.Append(ctx, "s1", Concrete(2), &fundsDeposited{Envelope: record.NewEnvelope(1)}, record.EmptyMetadata())
	j.Append(ctx, "s1", Concrete(3), &fundsDeposited{Envelope: record.NewEnvelope(1)}, record.EmptyMetadata())

	if res, err := j.TruncateBefore(ctx, "s1", 3); err != nil || !res.IsSuccess() {
		t.Fatalf("TruncateBefore: %v %v", res.Kind, err)
	}

	reader, _ := j.StreamReader(ctx, "s1")
	stream, _ := reader.StreamFor(ctx)
	if len(stream.Entries) != 1 || stream.Entries[0].StreamVersion != 3 {
		t.Errorf("truncated view entries = %+v", stream.Entries)
	}
	if stream.StreamVersion != 3 {
		t.Errorf("StreamVersion after truncate = %d, want 3 (truncate does not change current version)", stream.StreamVersion)
	}
}

func TestJournalReader_IndependentCursorsAndSeek(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t)

	for i := 0; i < 5; i++ {
		j.Append(ctx, "s1", Any(), &fundsDeposited{Envelope: record.NewEnvelope(1), Amount: i}, record.EmptyMetadata())
	}

	rA, _ := j.JournalReader(ctx, "projection-a")
	rB, _ := j.JournalReader(ctx, "projection-b")

	first, err := rA.ReadNext(ctx, 2)
	if err != nil {
		t.Fatalf("ReadNext: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("len(first) = %d, want 2", len(first))
	}

	all, err := rB.ReadNext(ctx, 100)
	if err != nil {
		t.Fatalf("ReadNext: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("reader B should be unaffected by reader A's position: got %d, want 5", len(all))
	}

	rest, _ := rA.ReadNext(ctx, 100)
	if len(rest) != 3 {
		t.Fatalf("reader A should resume after its own position: got %d, want 3", len(rest))
	}

	if err := rA.Seek(ctx, 0); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	replay, _ := rA.ReadNext(ctx, 100)
	if len(replay) != 5 {
		t.Fatalf("after seeking to 0, expected to replay all 5 entries, got %d", len(replay))
	}

	pos, err := rA.Position(ctx)
	if err != nil || pos != all[len(all)-1].GlobalPosition {
		t.Errorf("Position() = %d, err=%v", pos, err)
	}

	if err := rA.Rewind(ctx); err != nil {
		t.Fatalf("Rewind: %v", err)
	}
	if pos, _ := rA.Position(ctx); pos != 0 {
		t.Errorf("Position() after Rewind = %d, want 0", pos)
	}
}

func TestJournalReader_ReadPastEndReturnsEmpty(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t)
	j.Append(ctx, "s1", NoStream(), &accountOpened{Envelope: record.NewEnvelope(1)}, record.EmptyMetadata())

	r, _ := j.JournalReader(ctx, "reader")
	if _, err := r.ReadNext(ctx, 100); err != nil {
		t.Fatalf("ReadNext: %v", err)
	}

	entries, err := r.ReadNext(ctx, 100)
	if err != nil {
		t.Fatalf("ReadNext at end: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries past the end, got %d", len(entries))
	}
}

func TestStreamInfo_ReportsLifecycleAndVersion(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t)

	if res, _ := j.StreamInfo(ctx, "never-created"); res.Kind != record.NotFound {
		t.Errorf("StreamInfo on absent stream: Kind = %v, want NotFound", res.Kind)
	}

	j.Append(ctx, "s1", NoStream(), &accountOpened{Envelope: record.NewEnvelope(1)}, record.EmptyMetadata())
	res, err := j.StreamInfo(ctx, "s1")
	if err != nil || !res.IsSuccess() {
		t.Fatalf("StreamInfo: %v %v", res.Kind, err)
	}
	if res.Result.CurrentVersion != 1 || res.Result.VisibleCount != 1 || res.Result.Lifecycle != Active {
		t.Errorf("StreamInfo = %+v", res.Result)
	}
}
