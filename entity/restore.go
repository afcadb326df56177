package entity

import (
	"context"
	"fmt"

	"github.com/rakunlabs/domo/record"
)

// Restore rehydrates entity from its bound journal's stream: if a
// snapshot exists and entity implements SnapshotRestorer, it is applied
// first and every entry up to (and including) the snapshot's stream
// version is skipped; the remaining entries are folded in order; finally
// entity's current version is set to the stream's reported version. A
// tombstoned stream cannot be restored, and neither can a stream with a
// snapshot into an entity that does not implement SnapshotRestorer.
func Restore(ctx context.Context, entity SourcedEntity) error {
	binder, ok := entity.(journalBinder)
	if !ok {
		return fmt.Errorf("entity: %T does not embed entity.Base", entity)
	}
	j, err := binder.resolveJournal()
	if err != nil {
		return err
	}

	reader, err := j.StreamReader(ctx, entity.StreamName())
	if err != nil {
		return fmt.Errorf("entity: resolve stream reader for %q: %w", entity.StreamName(), err)
	}
	stream, err := reader.StreamFor(ctx)
	if err != nil {
		return fmt.Errorf("entity: read stream %q: %w", entity.StreamName(), err)
	}
	if stream.IsTombstoned {
		return fmt.Errorf("entity: stream %q is tombstoned", entity.StreamName())
	}

	skipThrough := 0
	if !stream.Snapshot.IsEmpty() {
		restorer, ok := entity.(SnapshotRestorer)
		if !ok {
			return fmt.Errorf("entity: %T has a snapshot on stream %q but does not implement SnapshotRestorer", entity, entity.StreamName())
		}
		data, err := decodeSnapshot(entity, stream.Snapshot)
		if err != nil {
			return fmt.Errorf("entity: decode snapshot for %q: %w", entity.StreamName(), err)
		}
		if err := restorer.RestoreSnapshot(data, stream.Snapshot.StateVersion); err != nil {
			return fmt.Errorf("entity: restore snapshot for %q: %w", entity.StreamName(), err)
		}
		skipThrough = stream.Snapshot.StateVersion
	}

	for _, e := range stream.Entries {
		if e.StreamVersion <= skipThrough {
			continue
		}
		src, err := decodeEntry(entity, e)
		if err != nil {
			return fmt.Errorf("entity: decode entry at version %d for %q: %w", e.StreamVersion, entity.StreamName(), err)
		}
		if err := foldOne(entity, src); err != nil {
			return fmt.Errorf("entity: fold entry at version %d for %q: %w", e.StreamVersion, entity.StreamName(), err)
		}
	}

	if vs, ok := entity.(versionSetter); ok {
		vs.setVersion(stream.StreamVersion)
	}
	return nil
}

func decodeSnapshot(entity SourcedEntity, state record.State) (any, error) {
	if state.Kind == record.StateObject {
		return state.DataObject, nil
	}
	resolver, ok := entity.(stateAdapterResolver)
	if !ok {
		return nil, fmt.Errorf("%T does not embed entity.Base", entity)
	}
	a, err := resolver.stateAdapters().AdapterForSymbolic(state.Type)
	if err != nil {
		return nil, err
	}
	return a.FromState(state)
}

func decodeEntry(entity SourcedEntity, e record.Entry) (record.Source, error) {
	resolver, ok := entity.(entryAdapterResolver)
	if !ok {
		return nil, fmt.Errorf("%T does not embed entity.Base", entity)
	}
	a, err := resolver.entryAdapters().AdapterForSymbolic(e.Type)
	if err != nil {
		return nil, err
	}
	return a.FromEntry(e)
}
