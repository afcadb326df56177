package projection

import (
	"context"
	"sync"

	"github.com/rakunlabs/domo/hostctx"
)

// Control is the per-dispatch handle a Projection uses to acknowledge
// its work and report failures, without holding a reference to the
// Dispatcher itself.
type Control struct {
	confirmer *Confirmer
	onError   func(error)
	onConfirm func()

	mu   sync.Mutex
	errs []error
}

// NewControl builds a Control bound to confirmer; onError is called
// (in addition to recording the error) whenever a Projection reports one.
func NewControl(confirmer *Confirmer, onError func(error)) *Control {
	return &Control{confirmer: confirmer, onError: onError}
}

// ConfirmProjected marks p confirmed.
func (c *Control) ConfirmProjected(p Projectable) {
	c.confirmer.Confirm(p)
	if c.onConfirm != nil {
		c.onConfirm()
	}
}

// Error records err against this dispatch and notifies onError, if set.
func (c *Control) Error(err error) {
	c.mu.Lock()
	c.errs = append(c.errs, err)
	c.mu.Unlock()
	if c.onError != nil {
		c.onError(err)
	}
}

// Errors returns every error recorded on this dispatch, in report order.
func (c *Control) Errors() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]error, len(c.errs))
	copy(out, c.errs)
	return out
}

// DispatchCounter receives dispatch/confirm/error counts from a
// Dispatcher. internal/telemetry.Counters satisfies this.
type DispatchCounter interface {
	RecordDispatch(ctx context.Context)
	RecordConfirm(ctx context.Context)
	RecordDispatchError(ctx context.Context)
}

// Dispatcher routes a Projectable to every registered projection whose
// becauseOf patterns match it, per the continue-on-error policy: a
// failing projection's error is recorded and escalated to the host
// supervisor, but every other matching projection still runs. A
// Projectable with no matching projection, or whose matching projections
// all fail to confirm it, stays pending — the dispatcher does not force
// confirmation. One confirming projection is enough to mark it confirmed,
// even when another matching projection failed.
type Dispatcher struct {
	projections *MatchableProjections
	confirmer   *Confirmer
	supervisor  hostctx.Supervisor
	telemetry   DispatchCounter
}

// NewDispatcher builds a Dispatcher. A nil supervisor falls back to
// hostctx.DefaultSupervisor.
func NewDispatcher(projections *MatchableProjections, confirmer *Confirmer, supervisor hostctx.Supervisor) *Dispatcher {
	if supervisor == nil {
		supervisor = hostctx.DefaultSupervisor
	}
	return &Dispatcher{projections: projections, confirmer: confirmer, supervisor: supervisor}
}

// SetTelemetry attaches a DispatchCounter, reported on every Dispatch,
// confirm, and escalated error. Nil disables reporting (the default).
func (d *Dispatcher) SetTelemetry(t DispatchCounter) {
	d.telemetry = t
}

// Dispatch marks p pending, matches it against every registered
// projection, and invokes ProjectWith on each match in registration
// order, continuing past any individual failure.
func (d *Dispatcher) Dispatch(ctx context.Context, p Projectable) {
	d.confirmer.Pending(p)

	if d.telemetry != nil {
		d.telemetry.RecordDispatch(ctx)
	}

	matches := d.projections.Match(p.BecauseOf())
	if len(matches) == 0 {
		return
	}

	control := NewControl(d.confirmer, func(err error) {
		if d.telemetry != nil {
			d.telemetry.RecordDispatchError(ctx)
		}
		d.supervisor.Escalate(ctx, "projection.Dispatcher", err)
	})
	if d.telemetry != nil {
		control.onConfirm = func() { d.telemetry.RecordConfirm(ctx) }
	}

	for _, proj := range matches {
		if err := proj.ProjectWith(ctx, p, control); err != nil {
			control.Error(err)
		}
	}
}
