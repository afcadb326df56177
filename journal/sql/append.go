package sql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/oklog/ulid/v2"

	"github.com/rakunlabs/domo/journal"
	"github.com/rakunlabs/domo/record"
)

func (s *Store) Append(ctx context.Context, stream string, expected journal.ExpectedVersion, source record.Source, metadata record.Metadata) (record.Outcome[journal.AppendResult], error) {
	return s.appendAll(ctx, stream, expected, []record.Source{source}, metadata, record.State{})
}

func (s *Store) AppendWith(ctx context.Context, stream string, expected journal.ExpectedVersion, source record.Source, metadata record.Metadata, snapshot record.State) (record.Outcome[journal.AppendResult], error) {
	return s.appendAll(ctx, stream, expected, []record.Source{source}, metadata, snapshot)
}

func (s *Store) AppendAll(ctx context.Context, stream string, fromExpected journal.ExpectedVersion, sources []record.Source, metadata record.Metadata) (record.Outcome[journal.AppendResult], error) {
	return s.appendAll(ctx, stream, fromExpected, sources, metadata, record.State{})
}

func (s *Store) AppendAllWith(ctx context.Context, stream string, fromExpected journal.ExpectedVersion, sources []record.Source, metadata record.Metadata, snapshot record.State) (record.Outcome[journal.AppendResult], error) {
	return s.appendAll(ctx, stream, fromExpected, sources, metadata, snapshot)
}

func (s *Store) appendAll(ctx context.Context, stream string, fromExpected journal.ExpectedVersion, sources []record.Source, metadata record.Metadata, snapshot record.State) (record.Outcome[journal.AppendResult], error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return record.Outcome[journal.AppendResult]{}, fmt.Errorf("begin append tx: %w", err)
	}
	defer tx.Rollback()

	current, lifecycle, err := s.currentStreamState(ctx, tx, stream)
	if err != nil {
		return record.Outcome[journal.AppendResult]{}, fmt.Errorf("read stream state for %q: %w", stream, err)
	}

	if lifecycle == journal.Tombstoned {
		return record.Failed[journal.AppendResult](record.StreamDeleted, fmt.Sprintf("stream %q is tombstoned", stream), nil), nil
	}

	next, ok := fromExpected.NextVersion(current)
	if !ok {
		return record.Failed[journal.AppendResult](record.ConcurrencyViolation, fmt.Sprintf("expected-version mismatch on stream %q: current version is %d", stream, current), nil), nil
	}

	if len(sources) == 0 {
		if err := tx.Commit(); err != nil {
			return record.Outcome[journal.AppendResult]{}, fmt.Errorf("commit: %w", err)
		}
		return record.Ok(journal.AppendResult{StreamName: stream, StreamVersion: current}), nil
	}

	provider := s.entryAdapters()
	entries := make([]record.Entry, len(sources))
	for i, src := range sources {
		a, err := provider.AdapterFor(src)
		if err != nil {
			return record.Outcome[journal.AppendResult]{}, fmt.Errorf("resolve entry adapter: %w", err)
		}
		entry, err := a.ToEntry(src, next+i, metadata)
		if err != nil {
			return record.Outcome[journal.AppendResult]{}, fmt.Errorf("serialize entry for stream %q: %w", stream, err)
		}
		entry.ID = ulid.Make().String()
		entries[i] = entry
	}

	startPos, err := s.advanceGlobalCounter(ctx, tx, int64(len(entries)))
	if err != nil {
		return record.Outcome[journal.AppendResult]{}, fmt.Errorf("advance global counter: %w", err)
	}
	for i := range entries {
		entries[i] = entries[i].WithGlobalPosition(startPos + int64(i) + 1)
	}

	for _, e := range entries {
		props, err := json.Marshal(e.Metadata.Properties())
		if err != nil {
			return record.Outcome[journal.AppendResult]{}, fmt.Errorf("marshal metadata properties: %w", err)
		}
		query, _, err := s.goqu.Insert(s.tableEntries).Rows(goqu.Record{
			"id":                  e.ID,
			"stream_name":         stream,
			"stream_version":      e.StreamVersion,
			"global_position":     e.GlobalPosition,
			"type":                e.Type,
			"type_version":        e.TypeVersion,
			"kind":                e.Kind.String(),
			"data_text":           e.DataText,
			"data_binary":         e.DataBinary,
			"metadata_value":      e.Metadata.Value(),
			"metadata_operation":  e.Metadata.Operation(),
			"metadata_properties": string(props),
		}).ToSQL()
		if err != nil {
			return record.Outcome[journal.AppendResult]{}, fmt.Errorf("build insert entry query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query); err != nil {
			return record.Outcome[journal.AppendResult]{}, fmt.Errorf("insert entry for stream %q: %w", stream, err)
		}
	}

	newVersion := next + len(sources) - 1
	if err := s.upsertStream(ctx, tx, stream, newVersion, lifecycle, snapshot); err != nil {
		return record.Outcome[journal.AppendResult]{}, fmt.Errorf("upsert stream %q: %w", stream, err)
	}

	if err := tx.Commit(); err != nil {
		return record.Outcome[journal.AppendResult]{}, fmt.Errorf("commit append to %q: %w", stream, err)
	}

	return record.Ok(journal.AppendResult{
		StreamName:     stream,
		StreamVersion:  newVersion,
		GlobalPosition: entries[len(entries)-1].GlobalPosition,
		Entries:        entries,
	}), nil
}

func (s *Store) currentStreamState(ctx context.Context, tx *sql.Tx, stream string) (int, journal.Lifecycle, error) {
	query, _, err := s.goqu.From(s.tableStreams).
		Select("current_version", "lifecycle").
		Where(goqu.I("stream_name").Eq(stream)).
		ToSQL()
	if err != nil {
		return 0, journal.Active, fmt.Errorf("build stream state query: %w", err)
	}
	var version int
	var lifecycleStr string
	err = tx.QueryRowContext(ctx, query).Scan(&version, &lifecycleStr)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, journal.Active, nil
	}
	if err != nil {
		return 0, journal.Active, err
	}
	return version, lifecycleFromString(lifecycleStr), nil
}

// existingStream is the subset of a journal_streams row that upsertStream
// must carry forward when the current call doesn't itself replace it: the
// truncate-before floor and the last stored snapshot, if any. At most one
// snapshot per stream persists until a new one replaces it (spec's
// snapshot semantics) — a plain append must not erase it.
type existingStream struct {
	truncateBefore       int
	hasSnapshot          bool
	snapshotType         string
	snapshotTypeVersion  int
	snapshotKind         string
	snapshotDataText     string
	snapshotDataBinary   []byte
	snapshotStateVersion int
}

func (s *Store) existingStreamRow(ctx context.Context, tx *sql.Tx, stream string) (existingStream, error) {
	query, _, err := s.goqu.From(s.tableStreams).
		Select("truncate_before", "snapshot_type", "snapshot_type_version", "snapshot_kind", "snapshot_data_text", "snapshot_data_binary", "snapshot_state_version").
		Where(goqu.I("stream_name").Eq(stream)).
		ToSQL()
	if err != nil {
		return existingStream{}, err
	}

	var (
		truncateBefore                   int
		snapType, snapKind, snapDataText sql.NullString
		snapTypeVersion, snapStateVersion sql.NullInt64
		snapDataBinary                   []byte
	)
	err = tx.QueryRowContext(ctx, query).Scan(&truncateBefore, &snapType, &snapTypeVersion, &snapKind, &snapDataText, &snapDataBinary, &snapStateVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return existingStream{}, nil
	}
	if err != nil {
		return existingStream{}, fmt.Errorf("read existing stream row for %q: %w", stream, err)
	}

	return existingStream{
		truncateBefore:       truncateBefore,
		hasSnapshot:          snapType.Valid,
		snapshotType:         snapType.String,
		snapshotTypeVersion:  int(snapTypeVersion.Int64),
		snapshotKind:         snapKind.String,
		snapshotDataText:     snapDataText.String,
		snapshotDataBinary:   snapDataBinary,
		snapshotStateVersion: int(snapStateVersion.Int64),
	}, nil
}

func (s *Store) upsertStream(ctx context.Context, tx *sql.Tx, stream string, version int, lifecycle journal.Lifecycle, snapshot record.State) error {
	if lifecycle == journal.SoftDeleted {
		lifecycle = journal.Active
	}

	existing, err := s.existingStreamRow(ctx, tx, stream)
	if err != nil {
		return err
	}

	row := goqu.Record{
		"stream_name":     stream,
		"current_version": version,
		"truncate_before": existing.truncateBefore,
		"lifecycle":       lifecycle.String(),
	}

	switch {
	case !snapshot.IsEmpty():
		if snapshot.Kind == record.StateObject {
			return fmt.Errorf("sql journal cannot persist an object-kind snapshot for stream %q; register a StateAdapter so it serializes to text or binary", stream)
		}
		row["snapshot_type"] = snapshot.Type
		row["snapshot_type_version"] = snapshot.TypeVersion
		row["snapshot_kind"] = snapshotKindString(snapshot.Kind)
		row["snapshot_data_text"] = snapshot.DataAsText()
		row["snapshot_data_binary"] = snapshot.DataAsBytes()
		row["snapshot_state_version"] = snapshot.StateVersion
	case existing.hasSnapshot:
		// No new snapshot on this append: carry the previously stored
		// one forward instead of erasing it on the delete-then-insert.
		row["snapshot_type"] = existing.snapshotType
		row["snapshot_type_version"] = existing.snapshotTypeVersion
		row["snapshot_kind"] = existing.snapshotKind
		row["snapshot_data_text"] = existing.snapshotDataText
		row["snapshot_data_binary"] = existing.snapshotDataBinary
		row["snapshot_state_version"] = existing.snapshotStateVersion
	}

	// Portable upsert: delete-then-insert inside the already-open
	// transaction, avoiding a dialect-specific ON CONFLICT clause.
	delQuery, _, err := s.goqu.Delete(s.tableStreams).Where(goqu.I("stream_name").Eq(stream)).ToSQL()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, delQuery); err != nil {
		return err
	}

	insQuery, _, err := s.goqu.Insert(s.tableStreams).Rows(row).ToSQL()
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, insQuery)
	return err
}

func (s *Store) advanceGlobalCounter(ctx context.Context, tx *sql.Tx, by int64) (int64, error) {
	selQuery, _, err := s.goqu.From(s.tableCounter).
		Select("value").
		Where(goqu.I("name").Eq("global_position")).
		ToSQL()
	if err != nil {
		return 0, err
	}
	var current int64
	if err := tx.QueryRowContext(ctx, selQuery).Scan(&current); err != nil {
		return 0, fmt.Errorf("read global counter: %w", err)
	}

	updQuery, _, err := s.goqu.Update(s.tableCounter).
		Set(goqu.Record{"value": current + by}).
		Where(goqu.I("name").Eq("global_position")).
		ToSQL()
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, updQuery); err != nil {
		return 0, fmt.Errorf("advance global counter: %w", err)
	}
	return current, nil
}

func lifecycleFromString(s string) journal.Lifecycle {
	switch s {
	case "soft-deleted":
		return journal.SoftDeleted
	case "tombstoned":
		return journal.Tombstoned
	default:
		return journal.Active
	}
}

func snapshotKindString(k record.StateKind) string {
	switch k {
	case record.StateBinary:
		return "binary"
	default:
		return "text"
	}
}
