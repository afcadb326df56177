package journal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/rakunlabs/domo/adapter"
	"github.com/rakunlabs/domo/record"
)

// AppendCounter receives a count of entries appended on every successful
// write. internal/telemetry.Counters satisfies this.
type AppendCounter interface {
	RecordAppend(ctx context.Context, n int64)
}

// Memory is an in-memory Journal implementation. Data does not survive
// process restarts; it exists for tests, demos, and contexts where
// durability is handled elsewhere (e.g. a projected read model).
type Memory struct {
	mu             sync.RWMutex
	contextName    string
	telemetry      AppendCounter
	streams        map[string]*streamRecord
	globalLog      []record.Entry
	globalPosition int64

	streamReaders  map[string]*memoryStreamReader
	journalReaders map[string]*memoryJournalReader
}

type streamRecord struct {
	name           string
	version        int
	truncateBefore int
	lifecycle      Lifecycle
	snapshot       record.State
	entries        []record.Entry
}

// New builds an in-memory journal whose entry/state adapters are resolved
// through the named context's adapter registries, falling back to the
// process-wide singleton when no such context profile has been created.
// See adapter.ResolveEntryAdapterProvider.
func New(contextName string) *Memory {
	if contextName == "" {
		contextName = adapter.DefaultContextName
	}
	slog.Info("using in-memory journal (data will not persist across restarts)", "context", contextName)
	return &Memory{
		contextName:    contextName,
		streams:        make(map[string]*streamRecord),
		streamReaders:  make(map[string]*memoryStreamReader),
		journalReaders: make(map[string]*memoryJournalReader),
	}
}

// SetTelemetry attaches an AppendCounter, reported on every successful
// append. Nil disables reporting (the default).
func (m *Memory) SetTelemetry(t AppendCounter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.telemetry = t
}

func (m *Memory) entryAdapters() *adapter.EntryAdapterProvider {
	return adapter.ResolveEntryAdapterProvider(m.contextName)
}

func (m *Memory) stateAdapters() *adapter.StateAdapterProvider {
	return adapter.ResolveStateAdapterProvider(m.contextName)
}

func (m *Memory) Append(ctx context.Context, stream string, expected ExpectedVersion, source record.Source, metadata record.Metadata) (record.Outcome[AppendResult], error) {
	return m.appendAll(ctx, stream, expected, []record.Source{source}, metadata, record.State{})
}

func (m *Memory) AppendWith(ctx context.Context, stream string, expected ExpectedVersion, source record.Source, metadata record.Metadata, snapshot record.State) (record.Outcome[AppendResult], error) {
	return m.appendAll(ctx, stream, expected, []record.Source{source}, metadata, snapshot)
}

func (m *Memory) AppendAll(ctx context.Context, stream string, fromExpected ExpectedVersion, sources []record.Source, metadata record.Metadata) (record.Outcome[AppendResult], error) {
	return m.appendAll(ctx, stream, fromExpected, sources, metadata, record.State{})
}

func (m *Memory) AppendAllWith(ctx context.Context, stream string, fromExpected ExpectedVersion, sources []record.Source, metadata record.Metadata, snapshot record.State) (record.Outcome[AppendResult], error) {
	return m.appendAll(ctx, stream, fromExpected, sources, metadata, snapshot)
}

func (m *Memory) appendAll(ctx context.Context, stream string, fromExpected ExpectedVersion, sources []record.Source, metadata record.Metadata, snapshot record.State) (record.Outcome[AppendResult], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sr := m.streams[stream]
	current := 0
	if sr != nil {
		current = sr.version
	}

	if sr != nil && sr.lifecycle == Tombstoned {
		return record.Failed[AppendResult](record.StreamDeleted, fmt.Sprintf("stream %q is tombstoned", stream), nil), nil
	}

	next, ok := fromExpected.NextVersion(current)
	if !ok {
		return record.Failed[AppendResult](record.ConcurrencyViolation, fmt.Sprintf("expected-version mismatch on stream %q: current version is %d", stream, current), nil), nil
	}

	if len(sources) == 0 {
		return record.Ok(AppendResult{StreamName: stream, StreamVersion: current}), nil
	}

	provider := m.entryAdapters()
	entries := make([]record.Entry, len(sources))
	for i, src := range sources {
		a, err := provider.AdapterFor(src)
		if err != nil {
			return record.Outcome[AppendResult]{}, fmt.Errorf("resolve entry adapter: %w", err)
		}
		entry, err := a.ToEntry(src, next+i, metadata)
		if err != nil {
			return record.Outcome[AppendResult]{}, fmt.Errorf("serialize entry for stream %q: %w", stream, err)
		}
		entry.ID = ulid.Make().String()
		entries[i] = entry
	}

	for i := range entries {
		m.globalPosition++
		entries[i] = entries[i].WithGlobalPosition(m.globalPosition)
	}

	if sr == nil {
		sr = &streamRecord{name: stream, lifecycle: Active}
		m.streams[stream] = sr
	}
	if sr.lifecycle == SoftDeleted {
		sr.lifecycle = Active
	}
	sr.entries = append(sr.entries, entries...)
	sr.version = next + len(sources) - 1
	if !snapshot.IsEmpty() {
		sr.snapshot = snapshot
	}
	m.globalLog = append(m.globalLog, entries...)

	if m.telemetry != nil {
		m.telemetry.RecordAppend(ctx, int64(len(entries)))
	}

	return record.Ok(AppendResult{
		StreamName:     stream,
		StreamVersion:  sr.version,
		GlobalPosition: entries[len(entries)-1].GlobalPosition,
		Entries:        entries,
	}), nil
}

func (m *Memory) StreamReader(_ context.Context, name string) (StreamReader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.streamReaders[name]; ok {
		return r, nil
	}
	r := &memoryStreamReader{journal: m, name: name}
	m.streamReaders[name] = r
	return r, nil
}

func (m *Memory) JournalReader(_ context.Context, name string) (JournalReader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.journalReaders[name]; ok {
		return r, nil
	}
	r := &memoryJournalReader{journal: m, name: name}
	m.journalReaders[name] = r
	return r, nil
}

func (m *Memory) Tombstone(_ context.Context, stream string) (record.Outcome[struct{}], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sr, ok := m.streams[stream]
	if !ok {
		return record.Failed[struct{}](record.NotFound, fmt.Sprintf("stream %q not found", stream), nil), nil
	}
	if sr.lifecycle == Tombstoned {
		return record.Failed[struct{}](record.AlreadyTombstoned, fmt.Sprintf("stream %q is already tombstoned", stream), nil), nil
	}
	sr.lifecycle = Tombstoned
	sr.entries = nil
	sr.snapshot = record.State{}
	return record.Ok(struct{}{}), nil
}

func (m *Memory) SoftDelete(_ context.Context, stream string) (record.Outcome[struct{}], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sr, ok := m.streams[stream]
	if !ok {
		return record.Failed[struct{}](record.NotFound, fmt.Sprintf("stream %q not found", stream), nil), nil
	}
	if sr.lifecycle == Tombstoned {
		return record.Failed[struct{}](record.StreamDeleted, fmt.Sprintf("stream %q is tombstoned", stream), nil), nil
	}
	sr.lifecycle = SoftDeleted
	return record.Ok(struct{}{}), nil
}

func (m *Memory) TruncateBefore(_ context.Context, stream string, v int) (record.Outcome[struct{}], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sr, ok := m.streams[stream]
	if !ok {
		return record.Failed[struct{}](record.NotFound, fmt.Sprintf("stream %q not found", stream), nil), nil
	}
	if v > sr.truncateBefore {
		sr.truncateBefore = v
	}
	return record.Ok(struct{}{}), nil
}

func (m *Memory) StreamInfo(_ context.Context, stream string) (record.Outcome[StreamInfo], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sr, ok := m.streams[stream]
	if !ok {
		return record.Failed[StreamInfo](record.NotFound, fmt.Sprintf("stream %q not found", stream), nil), nil
	}
	visible := 0
	for _, e := range sr.entries {
		if e.StreamVersion >= sr.truncateBefore {
			visible++
		}
	}
	return record.Ok(StreamInfo{
		StreamName:     stream,
		CurrentVersion: sr.version,
		TruncateBefore: sr.truncateBefore,
		VisibleCount:   visible,
		Lifecycle:      sr.lifecycle,
	}), nil
}

// streamFor builds the EntryStream view for name under the read lock,
// shared by every memoryStreamReader (they're cached per name so this is
// rarely contended).
func (m *Memory) streamFor(name string) EntryStream {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sr, ok := m.streams[name]
	if !ok {
		return EntryStream{StreamName: name}
	}
	if sr.lifecycle == Tombstoned {
		return EntryStream{StreamName: name, IsTombstoned: true}
	}

	visible := make([]record.Entry, 0, len(sr.entries))
	for _, e := range sr.entries {
		if e.StreamVersion >= sr.truncateBefore {
			visible = append(visible, e)
		}
	}
	return EntryStream{
		StreamName:    name,
		StreamVersion: sr.version,
		Entries:       visible,
		Snapshot:      sr.snapshot,
		IsSoftDeleted: sr.lifecycle == SoftDeleted,
	}
}

// readNext returns up to max entries from the global log strictly after
// position, and the position of the last entry returned (or the input
// position, unchanged, if nothing matched).
func (m *Memory) readNext(position int64, max int) ([]record.Entry, int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]record.Entry, 0, max)
	for _, e := range m.globalLog {
		if e.GlobalPosition <= position {
			continue
		}
		out = append(out, e)
		if len(out) == max {
			break
		}
	}
	if len(out) == 0 {
		return out, position
	}
	return out, out[len(out)-1].GlobalPosition
}

type memoryStreamReader struct {
	journal *Memory
	name    string
}

func (r *memoryStreamReader) Name() string { return r.name }

func (r *memoryStreamReader) StreamFor(_ context.Context) (EntryStream, error) {
	return r.journal.streamFor(r.name), nil
}

type memoryJournalReader struct {
	journal  *Memory
	name     string
	mu       sync.Mutex
	position int64
}

func (r *memoryJournalReader) Name() string { return r.name }

func (r *memoryJournalReader) ReadNext(_ context.Context, max int) ([]record.Entry, error) {
	if max <= 0 {
		max = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entries, newPos := r.journal.readNext(r.position, max)
	r.position = newPos
	return entries, nil
}

func (r *memoryJournalReader) Seek(_ context.Context, pos int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.position = pos
	return nil
}

func (r *memoryJournalReader) Position(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.position, nil
}

func (r *memoryJournalReader) Rewind(ctx context.Context) error {
	return r.Seek(ctx, 0)
}
