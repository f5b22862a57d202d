// Package approver is the approval queue: high-risk commands wait here until a
// human approves or rejects them. Queue membership is the only gate between a
// high-risk command and the execution engine.
package approver

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/haricheung/overseer/internal/bus"
	"github.com/haricheung/overseer/internal/roles/memory"
	"github.com/haricheung/overseer/internal/types"
)

var metricPending = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "overseer",
	Name:      "approvals_pending",
	Help:      "High-risk commands waiting for a human decision.",
})

// Executor runs or rejects a resolved command. *executor.Engine satisfies it.
type Executor interface {
	Execute(ctx context.Context, cmd types.Command, source types.Source) types.AuditEntry
	Reject(ctx context.Context, cmd types.Command, source types.Source) types.AuditEntry
}

// Resolution is the payload of MsgApprovalResolved.
type Resolution struct {
	Pending types.PendingApproval `json:"pending"`
	Entry   types.AuditEntry      `json:"entry"`
}

// Queue holds pending approvals in arrival order.
//
// Expectations:
//   - Enqueue always succeeds and assigns a unique id and timestamp
//   - Approve executes the original command once and removes the entry
//   - Reject records one rejected audit entry, removes the entry and never executes
//   - Approve or Reject of an unknown or already-resolved id is a no-op (ok=false)
//   - Concurrent Approve calls for one id execute the command at most once
//   - Every membership change is snapshotted to the durable store when configured
//   - Snapshots reach the store in membership order; an older snapshot never
//     overwrites a newer one
type Queue struct {
	b     *bus.Bus
	exec  Executor
	store memory.Durable // nil = not persisted

	mu      sync.Mutex
	items   []types.PendingApproval
	version uint64 // bumped on every membership change

	persistMu sync.Mutex
	persisted uint64 // newest snapshot version handed to the store
}

// New creates an empty Queue. store may be nil.
func New(b *bus.Bus, exec Executor, store memory.Durable) *Queue {
	return &Queue{b: b, exec: exec, store: store}
}

// Restore loads the pending snapshot from the durable store. Call once at startup.
func (q *Queue) Restore(ctx context.Context) error {
	if q.store == nil {
		return nil
	}
	items, err := q.store.LoadPending(ctx)
	if err != nil {
		return err
	}
	q.mu.Lock()
	q.items = items
	metricPending.Set(float64(len(q.items)))
	q.mu.Unlock()
	log.Printf("[APPROVER] restored %d pending approvals", len(items))
	return nil
}

// Enqueue parks cmd for human review.
func (q *Queue) Enqueue(ctx context.Context, cmd types.Command, source types.Source) types.PendingApproval {
	p := types.PendingApproval{
		ID:        uuid.New().String(),
		Command:   cmd,
		Source:    source,
		CreatedAt: time.Now().UTC(),
	}
	q.mu.Lock()
	q.items = append(q.items, p)
	snapshot, version := q.changedLocked()
	q.mu.Unlock()

	q.persist(ctx, snapshot, version)
	log.Printf("[APPROVER] queued %s id=%s source=%s", cmd.Type, p.ID, source)
	q.b.Emit(types.RoleApprover, types.RoleUser, types.MsgApprovalQueued, p)
	return p
}

// Approve executes the pending command as if it were auto-classified and
// removes it from the queue. ok is false when id is not pending.
func (q *Queue) Approve(ctx context.Context, id string) (types.AuditEntry, bool) {
	p, ok := q.claim(ctx, id)
	if !ok {
		log.Printf("[APPROVER] approve %s: not pending (no-op)", id)
		return types.AuditEntry{}, false
	}
	entry := q.exec.Execute(ctx, p.Command, p.Source)
	log.Printf("[APPROVER] approved %s id=%s → %s", p.Command.Type, id, entry.Outcome)
	q.b.Emit(types.RoleApprover, types.RoleUser, types.MsgApprovalResolved, Resolution{Pending: p, Entry: entry})
	return entry, true
}

// Reject drops the pending command and records the rejection. ok is false when
// id is not pending.
func (q *Queue) Reject(ctx context.Context, id string) (types.AuditEntry, bool) {
	p, ok := q.claim(ctx, id)
	if !ok {
		log.Printf("[APPROVER] reject %s: not pending (no-op)", id)
		return types.AuditEntry{}, false
	}
	entry := q.exec.Reject(ctx, p.Command, p.Source)
	log.Printf("[APPROVER] rejected %s id=%s", p.Command.Type, id)
	q.b.Emit(types.RoleApprover, types.RoleUser, types.MsgApprovalResolved, Resolution{Pending: p, Entry: entry})
	return entry, true
}

// claim removes id from the queue. The removal happens before execution, so a
// second resolver finds nothing to claim.
func (q *Queue) claim(ctx context.Context, id string) (types.PendingApproval, bool) {
	q.mu.Lock()
	idx := -1
	for i, p := range q.items {
		if p.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		q.mu.Unlock()
		return types.PendingApproval{}, false
	}
	p := q.items[idx]
	q.items = append(q.items[:idx:idx], q.items[idx+1:]...)
	snapshot, version := q.changedLocked()
	q.mu.Unlock()

	q.persist(ctx, snapshot, version)
	return p, true
}

// List returns the pending approvals, oldest first.
func (q *Queue) List() []types.PendingApproval {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

// Get returns the pending approval with id.
func (q *Queue) Get(id string) (types.PendingApproval, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range q.items {
		if p.ID == id {
			return p, true
		}
	}
	return types.PendingApproval{}, false
}

func (q *Queue) snapshotLocked() []types.PendingApproval {
	out := make([]types.PendingApproval, len(q.items))
	copy(out, q.items)
	metricPending.Set(float64(len(out)))
	return out
}

// changedLocked records a membership change and returns the snapshot to persist.
func (q *Queue) changedLocked() ([]types.PendingApproval, uint64) {
	q.version++
	return q.snapshotLocked(), q.version
}

// persist writes snapshot unless a newer one has already been written. Writes
// are serialized by persistMu, so the store always ends on the latest version.
func (q *Queue) persist(ctx context.Context, snapshot []types.PendingApproval, version uint64) {
	if q.store == nil {
		return
	}
	q.persistMu.Lock()
	defer q.persistMu.Unlock()
	if version <= q.persisted {
		log.Printf("[APPROVER] skip stale pending snapshot v%d (stored v%d)", version, q.persisted)
		return
	}
	q.persisted = version
	if err := q.store.SavePending(context.WithoutCancel(ctx), snapshot); err != nil {
		log.Printf("[APPROVER] WARNING: persist pending snapshot v%d failed: %v", version, err)
	}
}
