package projection

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rakunlabs/domo/record"
)

// DocumentRef identifies a document by (id, type) — the key a
// DocumentStore reads, writes, and removes by.
type DocumentRef struct {
	ID   string
	Type string
}

// ReadOutcome is a document read's result: Kind is record.Success with
// State/StateVersion populated, or record.NotFound.
type ReadOutcome struct {
	Kind         record.Kind
	State        record.State
	StateVersion int
}

// DocumentStore is the external contract projection code writes read
// models through. The core never imposes storage semantics on it; it is
// consumed entirely from user-land projection implementations.
type DocumentStore interface {
	Read(ctx context.Context, id, typ string) (ReadOutcome, error)
	ReadAll(ctx context.Context, refs []DocumentRef) ([]ReadOutcome, error)
	Write(ctx context.Context, id, typ string, state record.State, stateVersion int) error
	Remove(ctx context.Context, id, typ string) error
}

type storedDocument struct {
	state   record.State
	version int
}

// MemoryDocumentStore is an in-process DocumentStore for tests and the
// demo host, following the same mutex-map shape as journal.Memory.
type MemoryDocumentStore struct {
	mu   sync.RWMutex
	docs map[DocumentRef]storedDocument
}

// NewMemoryDocumentStore builds an empty in-memory document store.
func NewMemoryDocumentStore() *MemoryDocumentStore {
	slog.Info("using in-memory document store (data will not persist across restarts)")
	return &MemoryDocumentStore{docs: make(map[DocumentRef]storedDocument)}
}

func (s *MemoryDocumentStore) Read(_ context.Context, id, typ string) (ReadOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[DocumentRef{ID: id, Type: typ}]
	if !ok {
		return ReadOutcome{Kind: record.NotFound}, nil
	}
	return ReadOutcome{Kind: record.Success, State: d.state, StateVersion: d.version}, nil
}

func (s *MemoryDocumentStore) ReadAll(ctx context.Context, refs []DocumentRef) ([]ReadOutcome, error) {
	out := make([]ReadOutcome, len(refs))
	for i, ref := range refs {
		o, err := s.Read(ctx, ref.ID, ref.Type)
		if err != nil {
			return nil, err
		}
		out[i] = o
	}
	return out, nil
}

func (s *MemoryDocumentStore) Write(_ context.Context, id, typ string, state record.State, stateVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[DocumentRef{ID: id, Type: typ}] = storedDocument{state: state, version: stateVersion}
	return nil
}

func (s *MemoryDocumentStore) Remove(_ context.Context, id, typ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, DocumentRef{ID: id, Type: typ})
	return nil
}
