// Package config loads domo's runtime configuration via
// github.com/rakunlabs/chu, the same loader the teacher uses for its own
// service configuration.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rakunlabs/chu"
	"github.com/rakunlabs/chu/loader/loaderenv"
	"github.com/rakunlabs/logi"
	"github.com/rakunlabs/tell"
)

// Service identifies this process in logs and telemetry, set by main
// before Load.
var Service = ""

// Config is domo's full runtime configuration.
type Config struct {
	LogLevel string `cfg:"log_level,no_prefix" default:"info"`

	Journal   JournalConfig  `cfg:"journal"`
	Consumer  ConsumerConfig `cfg:"consumer"`
	Store     StoreConfig    `cfg:"store"`
	Telemetry tell.Config    `cfg:"telemetry,noprefix"`
}

// JournalConfig selects and tunes the journal backend.
type JournalConfig struct {
	// Backend is "memory" or "sql". Defaults to "memory". cmd/domohost does
	// not read it and always runs the in-memory journal.
	Backend string `cfg:"backend" default:"memory"`

	// ContextName is the adapter-context profile this journal's entries
	// and snapshots are serialized through. When empty, cmd/domohost uses
	// the "domohost" context.
	ContextName string `cfg:"context_name"`

	SQL SQLConfig `cfg:"sql"`
}

// SQLConfig configures the SQL-backed journal.
type SQLConfig struct {
	// Dialect is "postgres" or "sqlite3".
	Dialect    string `cfg:"dialect" default:"sqlite3"`
	Datasource string `cfg:"datasource" log:"-"`
	TablePrefix string `cfg:"table_prefix"`

	Migrate MigrateConfig `cfg:"migrate"`
}

// MigrateConfig configures the embedded-SQL migration run (via
// github.com/rakunlabs/muz) the SQL journal performs at startup.
type MigrateConfig struct {
	Datasource string `cfg:"datasource" log:"-"`
	Table      string `cfg:"table" default:"domo_migrations"`
}

// ConsumerConfig tunes the JournalConsumer poll loop.
type ConsumerConfig struct {
	PollInterval time.Duration `cfg:"poll_interval" default:"100ms"`
	BatchSize    int           `cfg:"batch_size" default:"10"`
}

// StoreConfig selects and tunes the DocumentStore backend.
type StoreConfig struct {
	// Backend is "memory" for now; a durable document store is left to a
	// future backend behind the same projection.DocumentStore contract.
	Backend string `cfg:"backend" default:"memory"`
}

// Load reads configuration for name from the environment (prefixed
// DOMO_) and any file sources chu resolves, then applies LogLevel.
func Load(ctx context.Context, name string) (*Config, error) {
	var cfg Config
	if err := chu.Load(ctx, name, &cfg, chu.WithLoaderOption(loaderenv.New(loaderenv.WithPrefix("DOMO_")))); err != nil {
		return nil, err
	}

	if err := logi.SetLogLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("set log level %s: %w", cfg.LogLevel, err)
	}

	slog.Info("loaded configuration", "config", chu.MarshalMap(cfg))

	return &cfg, nil
}
