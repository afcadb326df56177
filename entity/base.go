// Package entity is the sourced-entity runtime: a process-wide fold
// handler registry, the apply-then-persist pipeline, and restore-from-
// journal with snapshot folding.
package entity

import (
	"fmt"
	"sync"

	"github.com/rakunlabs/domo/adapter"
	"github.com/rakunlabs/domo/hostctx"
	"github.com/rakunlabs/domo/journal"
)

// SourcedEntity is the contract every aggregate satisfies by embedding
// Base: its identity is its stream name, its state is the fold of every
// record visible on that stream.
type SourcedEntity interface {
	StreamName() string
	ContextName() string
	CurrentVersion() int
}

// versionSetter is the package-private counterpart Apply/Restore use to
// advance an entity's version. Because it is unexported, only types that
// embed entity.Base (and so promote entity.Base.setVersion) can satisfy it
// — this is a sealed interface, not implementable from outside the
// package.
type versionSetter interface {
	setVersion(int)
}

// journalBinder lets Apply/Restore read and lazily resolve the bound
// journal: if not resolved at construction, the entity permits late
// binding via BindJournal or context lookup.
type journalBinder interface {
	resolveJournal() (journal.Journal, error)
}

// entryAdapterResolver and stateAdapterResolver are the sealed
// counterparts Restore uses to decode persisted entries and snapshots
// using the entity's own context's adapter providers.
type entryAdapterResolver interface {
	entryAdapters() *adapter.EntryAdapterProvider
}

type stateAdapterResolver interface {
	stateAdapters() *adapter.StateAdapterProvider
}

// Snapshotable is implemented by entities whose subclass decides when a
// snapshot is due. Snapshot returns the data to persist and whether it
// should be taken on this apply.
type Snapshotable interface {
	Snapshot() (data any, due bool)
}

// SnapshotRestorer is implemented by entities that can rehydrate directly
// from a snapshot, skipping the fold of every prior entry.
type SnapshotRestorer interface {
	RestoreSnapshot(data any, streamVersion int) error
}

// BeforeApplyHook, AfterApplyHook, AfterApplyFailedHook are the optional
// lifecycle hooks the apply pipeline calls when an entity implements
// them.
type BeforeApplyHook interface{ BeforeApply(records []any) }
type AfterApplyHook interface{ AfterApply() }
type AfterApplyFailedHook interface {
	// AfterApplyFailed may swallow the failure by returning nil, or
	// re-raise by returning a non-nil error, which Apply then escalates
	// to the host supervisor.
	AfterApplyFailed(failed *ApplyFailed) error
}

// Base is the embeddable struct a concrete entity composes to obtain
// StreamName/ContextName/CurrentVersion and the journal-binding machinery,
// the same way the teacher's service types compose shared bookkeeping
// fields rather than repeating them per type.
type Base struct {
	mu             sync.Mutex
	streamName     string
	contextName    string
	currentVersion int
	journal        journal.Journal
}

// NewBase constructs a Base for a stream, defaulting its context to
// adapter.DefaultContextName.
func NewBase(streamName string) Base {
	return Base{streamName: streamName, contextName: adapter.DefaultContextName}
}

// NewBaseInContext constructs a Base bound to a named context.
func NewBaseInContext(streamName, contextName string) Base {
	if contextName == "" {
		contextName = adapter.DefaultContextName
	}
	return Base{streamName: streamName, contextName: contextName}
}

func (b *Base) StreamName() string { return b.streamName }

func (b *Base) ContextName() string {
	if b.contextName == "" {
		return adapter.DefaultContextName
	}
	return b.contextName
}

func (b *Base) CurrentVersion() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentVersion
}

func (b *Base) setVersion(v int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.currentVersion = v
}

// BindJournal attaches an already-resolved journal, used by hosts that
// construct entities directly rather than going through the registry.
func (b *Base) BindJournal(j journal.Journal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.journal = j
}

// resolveJournal returns the bound journal, resolving it from the host
// bindings registry at key domo-tactical:<context>.journal on first use
// if none was bound at construction.
func (b *Base) resolveJournal() (journal.Journal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.journal != nil {
		return b.journal, nil
	}
	key := "domo-tactical:" + b.ContextName() + ".journal"
	j, err := hostctx.RegisteredAs[journal.Journal](hostctx.Global(), key)
	if err != nil {
		return nil, fmt.Errorf("sourced entity %q: %w", b.streamName, err)
	}
	b.journal = j
	return j, nil
}

func (b *Base) entryAdapters() *adapter.EntryAdapterProvider {
	return adapter.ResolveEntryAdapterProvider(b.ContextName())
}

func (b *Base) stateAdapters() *adapter.StateAdapterProvider {
	return adapter.ResolveStateAdapterProvider(b.ContextName())
}
