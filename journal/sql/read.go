package sql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"

	"github.com/rakunlabs/domo/journal"
	"github.com/rakunlabs/domo/record"
)

func (s *Store) StreamReader(_ context.Context, name string) (journal.StreamReader, error) {
	return &streamReader{store: s, name: name}, nil
}

type streamReader struct {
	store *Store
	name  string
}

func (r *streamReader) Name() string { return r.name }

func (r *streamReader) StreamFor(ctx context.Context) (journal.EntryStream, error) {
	streamQuery, _, err := r.store.goqu.From(r.store.tableStreams).
		Select("current_version", "truncate_before", "lifecycle",
			"snapshot_type", "snapshot_type_version", "snapshot_kind",
			"snapshot_data_text", "snapshot_data_binary", "snapshot_state_version").
		Where(goqu.I("stream_name").Eq(r.name)).
		ToSQL()
	if err != nil {
		return journal.EntryStream{}, fmt.Errorf("build stream query: %w", err)
	}

	var (
		version, truncateBefore             int
		lifecycleStr                        string
		snapType, snapKind                  sql.NullString
		snapTypeVersion, snapStateVersion   sql.NullInt64
		snapDataText                        sql.NullString
		snapDataBinary                      []byte
	)
	row := r.store.db.QueryRowContext(ctx, streamQuery)
	err = row.Scan(&version, &truncateBefore, &lifecycleStr,
		&snapType, &snapTypeVersion, &snapKind, &snapDataText, &snapDataBinary, &snapStateVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return journal.EntryStream{StreamName: r.name}, nil
	}
	if err != nil {
		return journal.EntryStream{}, fmt.Errorf("read stream %q: %w", r.name, err)
	}

	lifecycle := lifecycleFromString(lifecycleStr)
	if lifecycle == journal.Tombstoned {
		return journal.EntryStream{StreamName: r.name, IsTombstoned: true}, nil
	}

	entries, err := r.store.readStreamEntries(ctx, r.name, truncateBefore)
	if err != nil {
		return journal.EntryStream{}, err
	}

	var snapshot record.State
	if snapType.Valid {
		snapshot = stateFromColumns(snapType.String, int(snapTypeVersion.Int64), snapKind.String, snapDataText.String, snapDataBinary, int(snapStateVersion.Int64))
	}

	return journal.EntryStream{
		StreamName:    r.name,
		StreamVersion: version,
		Entries:       entries,
		Snapshot:      snapshot,
		IsSoftDeleted: lifecycle == journal.SoftDeleted,
	}, nil
}

func (s *Store) readStreamEntries(ctx context.Context, stream string, truncateBefore int) ([]record.Entry, error) {
	query, _, err := s.goqu.From(s.tableEntries).
		Select("id", "stream_version", "global_position", "type", "type_version", "kind",
			"data_text", "data_binary", "metadata_value", "metadata_operation", "metadata_properties").
		Where(goqu.I("stream_name").Eq(stream), goqu.I("stream_version").Gte(truncateBefore)).
		Order(goqu.I("stream_version").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build entries query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("read entries for stream %q: %w", stream, err)
	}
	defer rows.Close()

	var out []record.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(rows rowScanner) (record.Entry, error) {
	var (
		id, typ, kindStr, value, operation, propsJSON string
		streamVersion, typeVersion                    int
		globalPosition                                int64
		dataText                                      sql.NullString
		dataBinary                                     []byte
	)
	if err := rows.Scan(&id, &streamVersion, &globalPosition, &typ, &typeVersion, &kindStr,
		&dataText, &dataBinary, &value, &operation, &propsJSON); err != nil {
		return record.Entry{}, fmt.Errorf("scan entry row: %w", err)
	}

	var props map[string]string
	if propsJSON != "" {
		if err := json.Unmarshal([]byte(propsJSON), &props); err != nil {
			return record.Entry{}, fmt.Errorf("decode metadata properties: %w", err)
		}
	}
	metadata := record.NewMetadata(value, operation, props)

	var e record.Entry
	if kindStr == "binary" {
		e = record.NewBinaryEntry(id, typ, typeVersion, dataBinary, streamVersion, metadata)
	} else {
		e = record.NewTextEntry(id, typ, typeVersion, dataText.String, streamVersion, metadata)
	}
	return e.WithGlobalPosition(globalPosition), nil
}

func stateFromColumns(typ string, typeVersion int, kind, dataText string, dataBinary []byte, stateVersion int) record.State {
	if kind == "binary" {
		return record.NewBinaryState("", typ, typeVersion, dataBinary, stateVersion, record.EmptyMetadata())
	}
	return record.NewTextState("", typ, typeVersion, dataText, stateVersion, record.EmptyMetadata())
}

// reader is a durable JournalReader cursor: its position is persisted in
// the journal_readers table so it survives process restarts, unlike
// journal.Memory's in-process cursor.
type reader struct {
	store *Store
	name  string
}

func (s *Store) JournalReader(ctx context.Context, name string) (journal.JournalReader, error) {
	s.readersMu.Lock()
	defer s.readersMu.Unlock()
	if r, ok := s.readers[name]; ok {
		return r, nil
	}
	r := &reader{store: s, name: name}
	if err := r.ensureRow(ctx); err != nil {
		return nil, err
	}
	s.readers[name] = r
	return r, nil
}

func (r *reader) Name() string { return r.name }

func (r *reader) ensureRow(ctx context.Context) error {
	query, _, err := r.store.goqu.From(r.store.tableReaders).
		Select("position").
		Where(goqu.I("name").Eq(r.name)).
		ToSQL()
	if err != nil {
		return err
	}
	var pos int64
	err = r.store.db.QueryRowContext(ctx, query).Scan(&pos)
	if errors.Is(err, sql.ErrNoRows) {
		insQuery, _, err := r.store.goqu.Insert(r.store.tableReaders).Rows(goqu.Record{"name": r.name, "position": 0}).ToSQL()
		if err != nil {
			return err
		}
		_, err = r.store.db.ExecContext(ctx, insQuery)
		return err
	}
	return err
}

func (r *reader) Position(ctx context.Context) (int64, error) {
	query, _, err := r.store.goqu.From(r.store.tableReaders).
		Select("position").
		Where(goqu.I("name").Eq(r.name)).
		ToSQL()
	if err != nil {
		return 0, err
	}
	var pos int64
	err = r.store.db.QueryRowContext(ctx, query).Scan(&pos)
	return pos, err
}

func (r *reader) Seek(ctx context.Context, pos int64) error {
	query, _, err := r.store.goqu.Update(r.store.tableReaders).
		Set(goqu.Record{"position": pos}).
		Where(goqu.I("name").Eq(r.name)).
		ToSQL()
	if err != nil {
		return err
	}
	_, err = r.store.db.ExecContext(ctx, query)
	return err
}

func (r *reader) Rewind(ctx context.Context) error {
	return r.Seek(ctx, 0)
}

func (r *reader) ReadNext(ctx context.Context, max int) ([]record.Entry, error) {
	if max <= 0 {
		max = 1
	}
	pos, err := r.Position(ctx)
	if err != nil {
		return nil, fmt.Errorf("read cursor position for %q: %w", r.name, err)
	}

	query, _, err := r.store.goqu.From(r.store.tableEntries).
		Select("id", "stream_version", "global_position", "type", "type_version", "kind",
			"data_text", "data_binary", "metadata_value", "metadata_operation", "metadata_properties").
		Where(goqu.I("global_position").Gt(pos)).
		Order(goqu.I("global_position").Asc()).
		Limit(uint(max)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build journal read query: %w", err)
	}
	rows, err := r.store.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("read journal from %q: %w", r.name, err)
	}
	defer rows.Close()

	var out []record.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) > 0 {
		if err := r.Seek(ctx, out[len(out)-1].GlobalPosition); err != nil {
			return nil, fmt.Errorf("advance cursor for %q: %w", r.name, err)
		}
	}
	return out, nil
}

func (s *Store) Tombstone(ctx context.Context, stream string) (record.Outcome[struct{}], error) {
	return s.setLifecycle(ctx, stream, journal.Tombstoned, true)
}

func (s *Store) SoftDelete(ctx context.Context, stream string) (record.Outcome[struct{}], error) {
	return s.setLifecycle(ctx, stream, journal.SoftDeleted, false)
}

func (s *Store) setLifecycle(ctx context.Context, stream string, target journal.Lifecycle, rejectAlready bool) (record.Outcome[struct{}], error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return record.Outcome[struct{}]{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, lifecycle, err := s.currentStreamState(ctx, tx, stream)
	if err != nil {
		return record.Outcome[struct{}]{}, fmt.Errorf("read stream state: %w", err)
	}

	existsQuery, _, err := s.goqu.From(s.tableStreams).Select("stream_name").Where(goqu.I("stream_name").Eq(stream)).ToSQL()
	if err != nil {
		return record.Outcome[struct{}]{}, err
	}
	var existing string
	err = tx.QueryRowContext(ctx, existsQuery).Scan(&existing)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Failed[struct{}](record.NotFound, fmt.Sprintf("stream %q not found", stream), nil), nil
	}
	if err != nil {
		return record.Outcome[struct{}]{}, err
	}

	if lifecycle == journal.Tombstoned {
		if rejectAlready {
			return record.Failed[struct{}](record.AlreadyTombstoned, fmt.Sprintf("stream %q is already tombstoned", stream), nil), nil
		}
		return record.Failed[struct{}](record.StreamDeleted, fmt.Sprintf("stream %q is tombstoned", stream), nil), nil
	}

	updQuery, _, err := s.goqu.Update(s.tableStreams).
		Set(goqu.Record{"lifecycle": target.String()}).
		Where(goqu.I("stream_name").Eq(stream)).
		ToSQL()
	if err != nil {
		return record.Outcome[struct{}]{}, err
	}
	if _, err := tx.ExecContext(ctx, updQuery); err != nil {
		return record.Outcome[struct{}]{}, fmt.Errorf("update lifecycle for %q: %w", stream, err)
	}
	if target == journal.Tombstoned {
		delQuery, _, err := s.goqu.Delete(s.tableEntries).Where(goqu.I("stream_name").Eq(stream)).ToSQL()
		if err != nil {
			return record.Outcome[struct{}]{}, err
		}
		if _, err := tx.ExecContext(ctx, delQuery); err != nil {
			return record.Outcome[struct{}]{}, fmt.Errorf("purge tombstoned entries for %q: %w", stream, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return record.Outcome[struct{}]{}, fmt.Errorf("commit: %w", err)
	}
	return record.Ok(struct{}{}), nil
}

func (s *Store) TruncateBefore(ctx context.Context, stream string, v int) (record.Outcome[struct{}], error) {
	query, _, err := s.goqu.From(s.tableStreams).Select("truncate_before").Where(goqu.I("stream_name").Eq(stream)).ToSQL()
	if err != nil {
		return record.Outcome[struct{}]{}, err
	}
	var existing int
	err = s.db.QueryRowContext(ctx, query).Scan(&existing)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Failed[struct{}](record.NotFound, fmt.Sprintf("stream %q not found", stream), nil), nil
	}
	if err != nil {
		return record.Outcome[struct{}]{}, fmt.Errorf("read truncate_before for %q: %w", stream, err)
	}
	if v <= existing {
		return record.Ok(struct{}{}), nil
	}

	updQuery, _, err := s.goqu.Update(s.tableStreams).
		Set(goqu.Record{"truncate_before": v}).
		Where(goqu.I("stream_name").Eq(stream)).
		ToSQL()
	if err != nil {
		return record.Outcome[struct{}]{}, err
	}
	if _, err := s.db.ExecContext(ctx, updQuery); err != nil {
		return record.Outcome[struct{}]{}, fmt.Errorf("truncate %q: %w", stream, err)
	}
	return record.Ok(struct{}{}), nil
}

func (s *Store) StreamInfo(ctx context.Context, stream string) (record.Outcome[journal.StreamInfo], error) {
	query, _, err := s.goqu.From(s.tableStreams).
		Select("current_version", "truncate_before", "lifecycle").
		Where(goqu.I("stream_name").Eq(stream)).
		ToSQL()
	if err != nil {
		return record.Outcome[journal.StreamInfo]{}, err
	}
	var version, truncateBefore int
	var lifecycleStr string
	err = s.db.QueryRowContext(ctx, query).Scan(&version, &truncateBefore, &lifecycleStr)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Failed[journal.StreamInfo](record.NotFound, fmt.Sprintf("stream %q not found", stream), nil), nil
	}
	if err != nil {
		return record.Outcome[journal.StreamInfo]{}, fmt.Errorf("read stream info for %q: %w", stream, err)
	}

	countQuery, _, err := s.goqu.From(s.tableEntries).
		Select(goqu.COUNT("id")).
		Where(goqu.I("stream_name").Eq(stream), goqu.I("stream_version").Gte(truncateBefore)).
		ToSQL()
	if err != nil {
		return record.Outcome[journal.StreamInfo]{}, err
	}
	var visible int
	if err := s.db.QueryRowContext(ctx, countQuery).Scan(&visible); err != nil {
		return record.Outcome[journal.StreamInfo]{}, fmt.Errorf("count visible entries for %q: %w", stream, err)
	}

	return record.Ok(journal.StreamInfo{
		StreamName:     stream,
		CurrentVersion: version,
		TruncateBefore: truncateBefore,
		VisibleCount:   visible,
		Lifecycle:      lifecycleFromString(lifecycleStr),
	}), nil
}
