// Command domohost is an infrastructure bootstrap demo: it wires config,
// logging, an in-memory journal, a demo context profile, an in-memory
// document store, and a journal consumer together and runs until
// interrupted. It is not an interactive CLI and carries no domain logic.
package main

import (
	"context"
	"fmt"

	"github.com/rakunlabs/into"
	"github.com/rakunlabs/logi"

	"github.com/rakunlabs/domo/adapter"
	"github.com/rakunlabs/domo/hostctx"
	"github.com/rakunlabs/domo/internal/config"
	"github.com/rakunlabs/domo/internal/telemetry"
	"github.com/rakunlabs/domo/journal"
	"github.com/rakunlabs/domo/projection"
)

var (
	name    = "domohost"
	version = "v0.0.0"
)

func main() {
	config.Service = name + "/" + version

	into.Init(run,
		into.WithLogger(logi.InitializeLog(logi.WithCaller(false))),
		into.WithMsgf("%s [%s]", name, version),
	)
}

func run(ctx context.Context) error {
	cfg, err := config.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	counters, shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(ctx); err != nil {
			logi.Ctx(ctx).Error("telemetry shutdown failed", "error", err)
		}
	}()

	contextName := cfg.Journal.ContextName
	if contextName == "" {
		contextName = name
	}
	profile := adapter.ForContext(contextName)

	j := journal.New(contextName)
	j.SetTelemetry(counters)
	hostctx.Global().RegisterValue(profile.JournalKey(), journal.Journal(j))

	store := projection.NewMemoryDocumentStore()
	hostctx.Global().RegisterValue(profile.DocumentStoreKey(), projection.DocumentStore(store))

	reader, err := j.JournalReader(ctx, "domohost")
	if err != nil {
		return fmt.Errorf("failed to open journal reader: %w", err)
	}

	dispatcher := projection.NewDispatcher(projection.NewMatchableProjections(), projection.NewConfirmer(), hostctx.DefaultSupervisor)
	dispatcher.SetTelemetry(counters)

	consumer := projection.NewJournalConsumer(reader, dispatcher, projection.ConsumerConfig{
		PollInterval: cfg.Consumer.PollInterval,
		BatchSize:    cfg.Consumer.BatchSize,
	})
	if err := consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start journal consumer: %w", err)
	}
	defer consumer.Stop()

	logi.Ctx(ctx).Info("domohost running", "context", contextName)

	<-ctx.Done()
	return nil
}
