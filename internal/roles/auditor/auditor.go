// Package auditor is the audit log: an append-only, newest-first record of every
// execution attempt, bounded to the most recent entries.
//
// A single goroutine (Run) owns all writes. Append hands the entry to that
// goroutine and waits for it to be applied, so entries from one caller are
// recorded in call order and no two writers race on the log.
package auditor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haricheung/overseer/internal/bus"
	"github.com/haricheung/overseer/internal/roles/memory"
	"github.com/haricheung/overseer/internal/types"
)

// DefaultBound is the number of entries the log retains.
const DefaultBound = 50

// ErrStopped is returned by Append once the writer goroutine has exited.
var ErrStopped = errors.New("auditor: writer stopped")

type appendReq struct {
	entry types.AuditEntry
	ack   chan struct{}
}

// Log is the audit log service.
//
// Expectations:
//   - Append assigns ID and CreatedAt when missing
//   - Entries are prepended; Recent(n) returns the newest n, newest first
//   - Appending beyond the bound evicts the oldest entries
//   - Every append is persisted through the durable store when one is configured
//   - A persistence failure is logged and does not fail the append
//   - Each append publishes MsgAuditAppended
//   - Append after Run has returned fails with ErrStopped instead of blocking
type Log struct {
	b       *bus.Bus
	store   memory.Durable // nil = in-memory only
	bound   int
	writeCh chan appendReq
	stopped chan struct{} // closed when Run returns

	mu      sync.RWMutex
	entries []types.AuditEntry // newest first
}

// New creates a Log. store may be nil; bound <= 0 uses DefaultBound.
func New(b *bus.Bus, store memory.Durable, bound int) *Log {
	if bound <= 0 {
		bound = DefaultBound
	}
	return &Log{
		b:       b,
		store:   store,
		bound:   bound,
		writeCh: make(chan appendReq, 64),
		stopped: make(chan struct{}),
	}
}

// Bound returns the retention bound.
func (l *Log) Bound() int { return l.bound }

// Load replaces the in-memory view with the newest entries from the durable
// store. Call it once before Run.
func (l *Log) Load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	entries, err := l.store.RecentAudit(ctx, l.bound)
	if err != nil {
		return fmt.Errorf("auditor: load: %w", err)
	}
	l.mu.Lock()
	l.entries = entries
	l.mu.Unlock()
	log.Printf("[AUDIT] loaded %d entries", len(entries))
	return nil
}

// Append records e and blocks until the writer goroutine has applied it.
// It returns the stored entry (with ID and CreatedAt filled in).
func (l *Log) Append(ctx context.Context, e types.AuditEntry) (types.AuditEntry, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	req := appendReq{entry: e, ack: make(chan struct{})}
	select {
	case <-l.stopped:
		return e, fmt.Errorf("auditor: append %s: %w", e.ID, ErrStopped)
	default:
	}
	select {
	case l.writeCh <- req:
	case <-l.stopped:
		return e, fmt.Errorf("auditor: append %s: %w", e.ID, ErrStopped)
	case <-ctx.Done():
		return e, fmt.Errorf("auditor: append %s: %w", e.ID, ctx.Err())
	}
	select {
	case <-req.ack:
		return e, nil
	case <-l.stopped:
		// ack is closed before stopped, so an applied entry is still visible here.
		select {
		case <-req.ack:
			return e, nil
		default:
			return e, fmt.Errorf("auditor: append %s: %w", e.ID, ErrStopped)
		}
	case <-ctx.Done():
		// Already queued; the writer applies it regardless.
		return e, nil
	}
}

// Run applies queued appends. It blocks until ctx is cancelled, then drains
// whatever is still queued. Call it once.
func (l *Log) Run(ctx context.Context) {
	defer close(l.stopped)
	for {
		select {
		case <-ctx.Done():
			l.drain()
			return
		case req := <-l.writeCh:
			l.apply(req)
		}
	}
}

func (l *Log) drain() {
	for {
		select {
		case req := <-l.writeCh:
			l.apply(req)
		default:
			return
		}
	}
}

func (l *Log) apply(req appendReq) {
	e := req.entry
	l.mu.Lock()
	next := make([]types.AuditEntry, 0, min(len(l.entries)+1, l.bound))
	next = append(next, e)
	for _, old := range l.entries {
		if len(next) == l.bound {
			break
		}
		next = append(next, old)
	}
	l.entries = next
	l.mu.Unlock()

	if l.store != nil {
		// Detached from the caller: a cancelled caller must not lose the record.
		pctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := l.store.AppendAudit(pctx, e, l.bound); err != nil {
			log.Printf("[AUDIT] WARNING: persist entry %s failed: %v", e.ID, err)
		}
		cancel()
	}
	log.Printf("[AUDIT] %s %s: %s", e.Outcome, e.ActionType, e.Details)
	l.b.Emit(types.RoleAuditor, types.RoleUser, types.MsgAuditAppended, e)
	close(req.ack)
}

// Recent returns up to n entries, newest first. n <= 0 returns all retained entries.
func (l *Log) Recent(n int) []types.AuditEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]types.AuditEntry, n)
	copy(out, l.entries[:n])
	return out
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Context renders the newest n entries as prompt context for the next planning
// cycle, newest first, with the action type of the last execution called out.
//
// Expectations:
//   - Returns a fixed "no actions yet" line when the log is empty
//   - One line per entry: relative age, outcome, action type, details
//   - Names the most recent executed action type so the planner can avoid repeating it
func (l *Log) Context(n int) string {
	entries := l.Recent(n)
	if len(entries) == 0 {
		return "No actions have been taken yet."
	}
	now := time.Now().UTC()
	var sb strings.Builder
	sb.WriteString("Recent actions (newest first):\n")
	for _, e := range entries {
		fmt.Fprintf(&sb, "- %s ago [%s] %s: %s\n", age(now.Sub(e.CreatedAt)), e.Outcome, e.ActionType, e.Details)
	}
	for _, e := range entries {
		if e.Outcome == types.OutcomeExecuted {
			fmt.Fprintf(&sb, "Last executed action type: %s. Prefer a different action type unless the situation clearly demands it.", e.ActionType)
			break
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func age(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
}
