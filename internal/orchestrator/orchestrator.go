// Package orchestrator runs the autonomous action pipeline:
// generate → parse → classify → execute-or-queue, once per cycle.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/haricheung/overseer/internal/bus"
	"github.com/haricheung/overseer/internal/risk"
	"github.com/haricheung/overseer/internal/roles/planner"
	"github.com/haricheung/overseer/internal/tasklog"
	"github.com/haricheung/overseer/internal/types"
)

var tracer trace.Tracer = otel.Tracer("github.com/haricheung/overseer/internal/orchestrator")

// Planner produces the plan for one cycle. *planner.Planner satisfies it.
type Planner interface {
	Plan(ctx context.Context, cycleID string, rl *tasklog.RunLog) (planner.Plan, error)
}

// Executor runs auto-tier commands. *executor.Engine satisfies it.
type Executor interface {
	Execute(ctx context.Context, cmd types.Command, source types.Source) types.AuditEntry
}

// Queue parks needs-approval commands. *approver.Queue satisfies it.
type Queue interface {
	Enqueue(ctx context.Context, cmd types.Command, source types.Source) types.PendingApproval
}

// Disposition records what happened to one dispatched command.
// Exactly one of Entry and Pending is set.
type Disposition struct {
	Tier    risk.Tier
	Entry   *types.AuditEntry
	Pending *types.PendingApproval
}

// Orchestrator wires the pipeline stages together.
//
// Expectations:
//   - Needs-approval commands are enqueued and never reach the executor from Dispatch
//   - Auto commands are executed immediately
//   - RunCycle never returns an error: generation failure yields a degraded report
//   - A panic anywhere in a cycle is recovered into a failed report
//   - Every cycle publishes MsgCycleBegin and MsgCycleComplete
type Orchestrator struct {
	b       *bus.Bus
	planner Planner
	exec    Executor
	queue   Queue
	runs    *tasklog.Registry
}

// New creates an Orchestrator. runs may be nil.
func New(b *bus.Bus, p Planner, exec Executor, queue Queue, runs *tasklog.Registry) *Orchestrator {
	return &Orchestrator{b: b, planner: p, exec: exec, queue: queue, runs: runs}
}

// Dispatch classifies cmd and either executes it or parks it for approval.
func (o *Orchestrator) Dispatch(ctx context.Context, cmd types.Command, source types.Source, rl *tasklog.RunLog) Disposition {
	tier := risk.Classify(cmd.Type)
	rl.Command(string(cmd.Type), cmd.Label, string(tier))

	if tier == risk.NeedsApproval {
		p := o.queue.Enqueue(ctx, cmd, source)
		rl.Disposition(string(cmd.Type), "queued", p.ID, "")
		log.Printf("[ORCH] %s needs approval → queued id=%s", cmd.Type, p.ID)
		return Disposition{Tier: tier, Pending: &p}
	}
	e := o.exec.Execute(ctx, cmd, source)
	rl.Disposition(string(cmd.Type), string(e.Outcome), e.ID, e.Details)
	return Disposition{Tier: tier, Entry: &e}
}

// RunCycle runs one full cycle and reports what it did.
func (o *Orchestrator) RunCycle(ctx context.Context, trigger types.Source) (report types.CycleReport) {
	report.CycleID = uuid.New().String()
	start := time.Now()
	rl := o.runs.Open(report.CycleID, string(trigger))

	ctx, span := tracer.Start(ctx, "orchestrator.RunCycle", trace.WithAttributes(
		attribute.String("cycle.id", report.CycleID),
		attribute.String("cycle.trigger", string(trigger)),
	))
	defer span.End()

	status := "ok"
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[ORCH] ERROR: cycle=%s panicked: %v", report.CycleID, r)
			report.Degraded = true
			report.Error = fmt.Sprintf("cycle panicked: %v", r)
			status = "failed"
			span.SetStatus(codes.Error, report.Error)
		}
		metricCycles.WithLabelValues(status).Inc()
		o.runs.Close(report.CycleID, status)
		log.Printf("[ORCH] cycle=%s %s in %s: %d executed, %d queued", report.CycleID, status, time.Since(start).Round(time.Millisecond), len(report.Executed), len(report.Queued))
		o.b.Emit(types.RoleScheduler, types.RoleUser, types.MsgCycleComplete, report)
	}()

	o.b.Emit(types.RoleScheduler, types.RolePlanner, types.MsgCycleBegin, report.CycleID)

	p, err := o.planner.Plan(ctx, report.CycleID, rl)
	if err != nil {
		report.Degraded = true
		report.Error = err.Error()
		status = "degraded"
		span.SetStatus(codes.Error, err.Error())
		return report
	}
	report.Prose = p.Prose

	for _, cmd := range p.Commands {
		d := o.Dispatch(ctx, cmd, trigger, rl)
		if d.Entry != nil {
			report.Executed = append(report.Executed, *d.Entry)
		}
		if d.Pending != nil {
			report.Queued = append(report.Queued, *d.Pending)
		}
	}
	span.SetAttributes(attribute.Int("cycle.executed", len(report.Executed)), attribute.Int("cycle.queued", len(report.Queued)))
	return report
}
