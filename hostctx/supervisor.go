package hostctx

import (
	"context"

	"github.com/rakunlabs/logi"
)

// Supervisor is escalated to on fatal errors the sourced-entity runtime or
// the projection dispatcher cannot recover from on their own.
type Supervisor interface {
	Escalate(ctx context.Context, source string, err error)
}

// LogSupervisor is the default Supervisor: it logs the escalation via logi,
// the same logger the teacher threads through workflow.Scheduler and
// workflow.Engine (logi.Ctx(ctx)).
type LogSupervisor struct{}

func (LogSupervisor) Escalate(ctx context.Context, source string, err error) {
	logi.Ctx(ctx).Error("escalated fatal error", "source", source, "error", err)
}

// DefaultSupervisor is the process-wide default, swappable for tests.
var DefaultSupervisor Supervisor = LogSupervisor{}
