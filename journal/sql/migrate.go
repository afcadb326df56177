package sql

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"

	"github.com/rakunlabs/muz"
)

//go:embed migrations/*
var migrationFS embed.FS

// migrate applies the dialect's embedded migrations against datasource,
// mirroring the teacher's store/postgres and store/sqlite3 MigrateDB
// functions but sharing one muz.Migrate invocation parameterized by
// dialect instead of two near-duplicate files.
func migrate(ctx context.Context, dialect Dialect, datasource, table, tablePrefix string) error {
	db, err := sql.Open(dialect.DriverName, datasource)
	if err != nil {
		return fmt.Errorf("open %s connection for migration: %w", dialect.Name, err)
	}
	defer db.Close()

	m := muz.Migrate{
		Path:      "migrations/" + dialect.MigrationsSubdir,
		FS:        migrationFS,
		Extension: ".sql",
		Values:    map[string]string{"TABLE_PREFIX": tablePrefix},
	}

	var driver muz.Driver
	switch dialect.Name {
	case "postgres":
		driver = muz.NewPostgresDriver(db, tablePrefix+table, slog.Default())
	case "sqlite3":
		driver = muz.NewSQLiteDriver(db, tablePrefix+table, slog.Default())
	default:
		return fmt.Errorf("sql journal: unsupported dialect %q", dialect.Name)
	}

	if err := m.Migrate(ctx, driver); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
