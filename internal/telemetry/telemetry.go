// Package telemetry wraps github.com/rakunlabs/tell's OTel SDK bootstrap
// with the counters domo's journal and projection dispatcher report
// through: appends, dispatches, and confirmations.
package telemetry

import (
	"context"

	"github.com/rakunlabs/tell"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Counters holds the instruments wired into the journal and projection
// dispatcher. A zero-value Counters, like one from NewNoop, is always safe
// to call into; neither exports anything.
type Counters struct {
	appends     metric.Int64Counter
	dispatches  metric.Int64Counter
	confirms    metric.Int64Counter
	dispatchErr metric.Int64Counter
}

// Setup starts the tell-managed OTel providers from cfg and returns the
// meter-backed Counters plus a shutdown func to defer at process exit.
func Setup(ctx context.Context, cfg tell.Config) (Counters, func(context.Context) error, error) {
	shutdown, err := tell.New(ctx, cfg)
	if err != nil {
		return Counters{}, nil, err
	}

	meter := otel.Meter("github.com/rakunlabs/domo")

	appends, err := meter.Int64Counter("domo_journal_appends_total",
		metric.WithDescription("Records appended to the journal."))
	if err != nil {
		return Counters{}, nil, err
	}
	dispatches, err := meter.Int64Counter("domo_projection_dispatches_total",
		metric.WithDescription("Projectables dispatched to matching projections."))
	if err != nil {
		return Counters{}, nil, err
	}
	confirms, err := meter.Int64Counter("domo_projection_confirms_total",
		metric.WithDescription("Projections confirmed by a Control."))
	if err != nil {
		return Counters{}, nil, err
	}
	dispatchErr, err := meter.Int64Counter("domo_projection_dispatch_errors_total",
		metric.WithDescription("Projection dispatch errors escalated to the supervisor."))
	if err != nil {
		return Counters{}, nil, err
	}

	return Counters{
		appends:     appends,
		dispatches:  dispatches,
		confirms:    confirms,
		dispatchErr: dispatchErr,
	}, shutdown, nil
}

// NewNoop builds a Counters whose instruments are backed by the OTel
// no-op meter provider, for tests and hosts that don't call Setup.
func NewNoop() Counters {
	meter := noop.NewMeterProvider().Meter("github.com/rakunlabs/domo/noop")
	appends, _ := meter.Int64Counter("domo_journal_appends_total")
	dispatches, _ := meter.Int64Counter("domo_projection_dispatches_total")
	confirms, _ := meter.Int64Counter("domo_projection_confirms_total")
	dispatchErr, _ := meter.Int64Counter("domo_projection_dispatch_errors_total")
	return Counters{appends: appends, dispatches: dispatches, confirms: confirms, dispatchErr: dispatchErr}
}

func (c Counters) RecordAppend(ctx context.Context, n int64) {
	if c.appends == nil {
		return
	}
	c.appends.Add(ctx, n)
}

func (c Counters) RecordDispatch(ctx context.Context) {
	if c.dispatches == nil {
		return
	}
	c.dispatches.Add(ctx, 1)
}

func (c Counters) RecordConfirm(ctx context.Context) {
	if c.confirms == nil {
		return
	}
	c.confirms.Add(ctx, 1)
}

func (c Counters) RecordDispatchError(ctx context.Context) {
	if c.dispatchErr == nil {
		return
	}
	c.dispatchErr.Add(ctx, 1)
}
