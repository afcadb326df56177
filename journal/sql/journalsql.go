// Package sql is the SQL-backed Journal implementation: one set of
// append/read/lifecycle queries built with goqu and parameterized over a
// Dialect, so the postgres and sqlite3 backends share a single code path
// instead of duplicating it the way the teacher's store/postgres and
// store/sqlite3 packages do for their own tables.
package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/doug-martin/goqu/v9/exp"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/rakunlabs/domo/adapter"
)

// Dialect names the driver and goqu dialect pairing for a backing database.
type Dialect struct {
	Name             string // "postgres" or "sqlite3"
	DriverName       string // database/sql driver name
	GoquDialect      string // goqu dialect name
	MigrationsSubdir string // subdirectory of migrations/ to apply
}

var (
	Postgres = Dialect{Name: "postgres", DriverName: "pgx", GoquDialect: "postgres", MigrationsSubdir: "postgres"}
	SQLite3  = Dialect{Name: "sqlite3", DriverName: "sqlite", GoquDialect: "sqlite3", MigrationsSubdir: "sqlite3"}
)

// Config configures a Store.
type Config struct {
	Dialect     Dialect
	Datasource  string
	TablePrefix string
	// ContextName binds this journal's entry/state adapter resolution to a
	// context profile, same convention as journal.Memory.
	ContextName string
	// MigrationTable overrides the migration bookkeeping table name.
	MigrationTable string
}

// Store is the SQL-backed Journal. It implements journal.Journal.
type Store struct {
	db          *sql.DB
	goqu        *goqu.Database
	dialect     Dialect
	contextName string

	tableStreams exp.IdentifierExpression
	tableEntries exp.IdentifierExpression
	tableCounter exp.IdentifierExpression
	tableReaders exp.IdentifierExpression

	readersMu sync.Mutex
	readers   map[string]*reader
}

// New opens the database, runs embedded migrations, and returns a ready
// Store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Datasource == "" {
		return nil, errors.New("sql journal: datasource is required")
	}
	if cfg.Dialect.DriverName == "" {
		return nil, errors.New("sql journal: dialect is required")
	}
	if cfg.ContextName == "" {
		cfg.ContextName = adapter.DefaultContextName
	}

	table := cfg.MigrationTable
	if table == "" {
		table = "migrations"
	}
	if err := migrate(ctx, cfg.Dialect, cfg.Datasource, table, cfg.TablePrefix); err != nil {
		return nil, fmt.Errorf("migrate sql journal: %w", err)
	}

	db, err := sql.Open(cfg.Dialect.DriverName, cfg.Datasource)
	if err != nil {
		return nil, fmt.Errorf("open %s connection: %w", cfg.Dialect.Name, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Dialect.Name, err)
	}

	if cfg.Dialect.Name == "sqlite3" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	slog.Info("connected to sql journal", "dialect", cfg.Dialect.Name)

	prefix := cfg.TablePrefix
	g := goqu.New(cfg.Dialect.GoquDialect, db)

	return &Store{
		db:           db,
		goqu:         g,
		dialect:      cfg.Dialect,
		contextName:  cfg.ContextName,
		tableStreams: goqu.T(prefix + "journal_streams"),
		tableEntries: goqu.T(prefix + "journal_entries"),
		tableCounter: goqu.T(prefix + "journal_counters"),
		tableReaders: goqu.T(prefix + "journal_readers"),
		readers:      make(map[string]*reader),
	}, nil
}

func (s *Store) Close() {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			slog.Error("close sql journal connection", "error", err)
		}
	}
}

func (s *Store) entryAdapters() *adapter.EntryAdapterProvider {
	return adapter.ResolveEntryAdapterProvider(s.contextName)
}
