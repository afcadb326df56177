// Package journal implements the append-only, per-stream-versioned record
// log: optimistic concurrency on append, snapshots, stream lifecycle
// (tombstone / soft-delete / truncate), and cursor-based readers.
package journal

import (
	"context"

	"github.com/rakunlabs/domo/record"
)

// Lifecycle discriminates a stream's current delete state.
type Lifecycle int

const (
	Active Lifecycle = iota
	SoftDeleted
	Tombstoned
)

func (l Lifecycle) String() string {
	switch l {
	case SoftDeleted:
		return "soft-deleted"
	case Tombstoned:
		return "tombstoned"
	default:
		return "active"
	}
}

// ExpectedVersion is one of the four sentinels accepted by every append
// variant: Any, NoStream, StreamExists, or Concrete(v).
type ExpectedVersion struct {
	kind  expectedKind
	value int
}

type expectedKind int

const (
	expAny expectedKind = iota
	expNoStream
	expStreamExists
	expConcrete
)

// Any skips the concurrency check and assigns current+1.
func Any() ExpectedVersion { return ExpectedVersion{kind: expAny} }

// NoStream succeeds only if the stream has never held a visible entry.
func NoStream() ExpectedVersion { return ExpectedVersion{kind: expNoStream} }

// StreamExists succeeds only if the stream's current version is > 0.
func StreamExists() ExpectedVersion { return ExpectedVersion{kind: expStreamExists} }

// Concrete requires v == current+1.
func Concrete(v int) ExpectedVersion { return ExpectedVersion{kind: expConcrete, value: v} }

// NextVersion reports the version the first appended entry should receive,
// or ok=false if the expectation is violated given the stream's current
// version. Exported so out-of-process backends (e.g. journal/sql) can
// reuse the same concurrency rule instead of re-deriving it.
func (e ExpectedVersion) NextVersion(current int) (next int, ok bool) {
	switch e.kind {
	case expAny:
		return current + 1, true
	case expNoStream:
		if current == 0 {
			return 1, true
		}
		return 0, false
	case expStreamExists:
		if current > 0 {
			return current + 1, true
		}
		return 0, false
	case expConcrete:
		if e.value == current+1 {
			return e.value, true
		}
		return 0, false
	default:
		return 0, false
	}
}

// AppendResult describes a successful append.
type AppendResult struct {
	StreamName     string
	StreamVersion  int
	GlobalPosition int64
	Entries        []record.Entry
}

// StreamInfo reports a stream's current lifecycle snapshot.
type StreamInfo struct {
	StreamName     string
	CurrentVersion int
	TruncateBefore int
	VisibleCount   int
	Lifecycle      Lifecycle
}

// EntryStream is the result of reading a single stream: its entries (in
// stream-version order, filtered by any truncate-before floor), its
// current snapshot if one exists, and lifecycle flags.
type EntryStream struct {
	StreamName    string
	StreamVersion int
	Entries       []record.Entry
	Snapshot      record.State
	IsTombstoned  bool
	IsSoftDeleted bool
}

// StreamReader is a per-stream cursor over a single stream's entries and
// its snapshot. journal.Memory caches one reader per stream name; the SQL
// journal builds a new, stateless reader on every call.
type StreamReader interface {
	Name() string
	StreamFor(ctx context.Context) (EntryStream, error)
}

// JournalReader is a cursor over the journal's global sequence. Multiple
// named readers maintain independent positions.
type JournalReader interface {
	Name() string
	ReadNext(ctx context.Context, max int) ([]record.Entry, error)
	Seek(ctx context.Context, pos int64) error
	Position(ctx context.Context) (int64, error)
	Rewind(ctx context.Context) error
}

// Journal is the append-only journal contract. All operations are
// suspension points: implementations must not assume state read before
// a call remains valid after it.
type Journal interface {
	Append(ctx context.Context, stream string, expected ExpectedVersion, source record.Source, metadata record.Metadata) (record.Outcome[AppendResult], error)
	AppendWith(ctx context.Context, stream string, expected ExpectedVersion, source record.Source, metadata record.Metadata, snapshot record.State) (record.Outcome[AppendResult], error)
	AppendAll(ctx context.Context, stream string, fromExpected ExpectedVersion, sources []record.Source, metadata record.Metadata) (record.Outcome[AppendResult], error)
	AppendAllWith(ctx context.Context, stream string, fromExpected ExpectedVersion, sources []record.Source, metadata record.Metadata, snapshot record.State) (record.Outcome[AppendResult], error)

	StreamReader(ctx context.Context, name string) (StreamReader, error)
	JournalReader(ctx context.Context, name string) (JournalReader, error)

	Tombstone(ctx context.Context, stream string) (record.Outcome[struct{}], error)
	SoftDelete(ctx context.Context, stream string) (record.Outcome[struct{}], error)
	TruncateBefore(ctx context.Context, stream string, v int) (record.Outcome[struct{}], error)
	StreamInfo(ctx context.Context, stream string) (record.Outcome[StreamInfo], error)
}
