package entity

import (
	"context"
	"fmt"
	"reflect"

	"github.com/rakunlabs/domo/hostctx"
	"github.com/rakunlabs/domo/journal"
	"github.com/rakunlabs/domo/record"
)

// ApplyFailed describes an apply-pipeline failure: either the journal
// rejected the append (e.g. ConcurrencyViolation) or, less commonly, a
// record could not be folded after a successful append. Cause, Records
// (the records not yet folded), Snapshot, and Metadata are the inputs the
// caller supplied, so a host can retry or log with full context.
type ApplyFailed struct {
	StreamName string
	Records    []record.Source
	Snapshot   *record.State
	Metadata   record.Metadata
	Cause      error
}

func (f *ApplyFailed) Error() string {
	return fmt.Sprintf("apply failed for stream %q: %v", f.StreamName, f.Cause)
}

func (f *ApplyFailed) Unwrap() error { return f.Cause }

// Apply runs the apply pipeline against an existing stream: before-apply
// hook, append the batch to the bound journal at entity's current
// version + 1, and only on a successful append fold each record into
// entity's in-memory state in order and advance current_version, then run
// the after-apply hook. A rejected append (e.g. ConcurrencyViolation
// because another writer got there first) never touches entity's
// in-memory state.
func Apply(ctx context.Context, entity SourcedEntity, metadata record.Metadata, records ...record.Source) (record.Outcome[journal.AppendResult], error) {
	return apply(ctx, entity, journal.Concrete(entity.CurrentVersion()+1), metadata, nil, nil, records...)
}

// ApplyThen is Apply, additionally invoking andThen once the append has
// succeeded and every record has been folded.
func ApplyThen(ctx context.Context, entity SourcedEntity, metadata record.Metadata, andThen func(), records ...record.Source) (record.Outcome[journal.AppendResult], error) {
	return apply(ctx, entity, journal.Concrete(entity.CurrentVersion()+1), metadata, nil, andThen, records...)
}

// ApplyWithSnapshot is Apply, additionally persisting snapshot alongside
// the appended batch.
func ApplyWithSnapshot(ctx context.Context, entity SourcedEntity, metadata record.Metadata, snapshot record.State, records ...record.Source) (record.Outcome[journal.AppendResult], error) {
	return apply(ctx, entity, journal.Concrete(entity.CurrentVersion()+1), metadata, &snapshot, nil, records...)
}

// ApplyNew is Apply for a stream that must not already exist.
func ApplyNew(ctx context.Context, entity SourcedEntity, metadata record.Metadata, records ...record.Source) (record.Outcome[journal.AppendResult], error) {
	return apply(ctx, entity, journal.NoStream(), metadata, nil, nil, records...)
}

func apply(ctx context.Context, entity SourcedEntity, expected journal.ExpectedVersion, metadata record.Metadata, snapshot *record.State, andThen func(), records ...record.Source) (record.Outcome[journal.AppendResult], error) {
	var zero record.Outcome[journal.AppendResult]

	if len(records) == 0 {
		return zero, fmt.Errorf("entity: Apply called with no records for stream %q", entity.StreamName())
	}

	if hook, ok := entity.(BeforeApplyHook); ok {
		asAny := make([]any, len(records))
		for i, r := range records {
			asAny[i] = r
		}
		hook.BeforeApply(asAny)
	}

	baseVersion := entity.CurrentVersion()

	// An entity that implements Snapshotable decides for itself when a
	// snapshot is due; the resulting stream version is deterministic from
	// here (current + the batch size) because a violated expectation
	// aborts the whole append below and the snapshot is never persisted.
	if snapshot == nil {
		if snapper, ok := entity.(Snapshotable); ok {
			if data, due := snapper.Snapshot(); due {
				built := objectSnapshotState(entity, data, baseVersion+len(records))
				snapshot = &built
			}
		}
	}

	binder, ok := entity.(journalBinder)
	if !ok {
		return zero, fmt.Errorf("entity: %T does not embed entity.Base", entity)
	}
	j, err := binder.resolveJournal()
	if err != nil {
		return zero, err
	}

	var outcome record.Outcome[journal.AppendResult]
	if snapshot != nil {
		outcome, err = j.AppendAllWith(ctx, entity.StreamName(), expected, records, metadata, *snapshot)
	} else {
		outcome, err = j.AppendAll(ctx, entity.StreamName(), expected, records, metadata)
	}
	if err != nil {
		return outcome, err
	}
	if !outcome.IsSuccess() {
		failed := &ApplyFailed{
			StreamName: entity.StreamName(),
			Records:    records,
			Snapshot:   snapshot,
			Metadata:   metadata,
			Cause:      outcome.Error(),
		}
		return outcome, escalateApplyFailure(ctx, entity, failed)
	}

	// The append is durable; fold each record in order and advance
	// current_version one at a time. If a handler is missing partway
	// through, current_version stops at the last record actually folded,
	// behind the persisted stream version.
	for i, src := range records {
		if err := foldOne(entity, src); err != nil {
			if vs, ok := entity.(versionSetter); ok {
				vs.setVersion(baseVersion + i)
			}
			failed := &ApplyFailed{
				StreamName: entity.StreamName(),
				Records:    records[i:],
				Snapshot:   snapshot,
				Metadata:   metadata,
				Cause:      err,
			}
			return outcome, escalateApplyFailure(ctx, entity, failed)
		}
		if vs, ok := entity.(versionSetter); ok {
			vs.setVersion(baseVersion + i + 1)
		}
	}

	if hook, ok := entity.(AfterApplyHook); ok {
		hook.AfterApply()
	}

	if andThen != nil {
		andThen()
	}

	return outcome, nil
}

// escalateApplyFailure gives entity a chance to swallow the failure via
// AfterApplyFailedHook; if it doesn't implement the hook, or the hook
// re-raises, the failure is escalated to the host supervisor and
// returned as the pipeline's Go error (reserved, per record.Outcome's
// convention, for conditions outside the normal outcome taxonomy).
func escalateApplyFailure(ctx context.Context, entity SourcedEntity, failed *ApplyFailed) error {
	if hook, ok := entity.(AfterApplyFailedHook); ok {
		if err := hook.AfterApplyFailed(failed); err == nil {
			return nil
		} else if err != failed {
			reraised := *failed
			reraised.Cause = err
			failed = &reraised
		}
	}
	hostctx.DefaultSupervisor.Escalate(ctx, "entity.Apply", failed)
	return failed
}

// objectSnapshotState wraps an entity-supplied snapshot value as an
// in-memory record.State, bypassing serialization. Only journal.Memory
// can store an object-kind snapshot; a SQL-backed journal rejects it on
// append, so callers targeting durable storage should build their own
// text/binary record.State via a registered StateAdapter and pass it to
// ApplyWithSnapshot instead of implementing Snapshotable.
func objectSnapshotState(entity SourcedEntity, data any, streamVersion int) record.State {
	typeName := reflect.TypeOf(entity).String()
	if t := reflect.TypeOf(entity); t.Kind() == reflect.Ptr {
		typeName = t.Elem().Name()
	}
	return record.NewObjectState("", typeName, 1, data, streamVersion, record.EmptyMetadata())
}
