// Package memory is the durable tier behind the audit log and the approval queue.
//
// Two backends implement Durable: Redis (remote, shared between hosts) and Level
// (goleveldb, local to the process). Fallback composes them so that an
// unreachable remote degrades durability instead of blocking the orchestrator.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/haricheung/overseer/internal/types"
)

// Durable persists the audit log and the pending-approval snapshot.
type Durable interface {
	// AppendAudit prepends e and evicts the oldest entries beyond bound.
	AppendAudit(ctx context.Context, e types.AuditEntry, bound int) error
	// RecentAudit returns up to n entries, newest first.
	RecentAudit(ctx context.Context, n int) ([]types.AuditEntry, error)
	// SavePending replaces the stored pending-approval snapshot.
	SavePending(ctx context.Context, items []types.PendingApproval) error
	// LoadPending returns the stored snapshot (empty when none was saved).
	LoadPending(ctx context.Context) ([]types.PendingApproval, error)
	Close() error
}

// ErrNoBackend is returned by Fallback when neither tier is configured.
var ErrNoBackend = errors.New("memory: no backend configured")

// Fallback writes to the remote tier first and falls back to the local tier
// when the remote is missing or fails.
//
// Expectations:
//   - Writes go to remote when it succeeds; local is untouched
//   - A failing remote write is retried on local and logged; no error surfaces when local succeeds
//   - Reads prefer remote and fall back to local on error
//   - A nil remote means local-only operation
//   - Returns an error only when every configured tier failed
type Fallback struct {
	remote Durable
	local  Durable
}

// NewFallback composes remote and local. Either may be nil.
func NewFallback(remote, local Durable) *Fallback {
	return &Fallback{remote: remote, local: local}
}

func (f *Fallback) write(ctx context.Context, op string, fn func(Durable) error) error {
	var remoteErr error
	if f.remote != nil {
		if remoteErr = fn(f.remote); remoteErr == nil {
			return nil
		}
		slog.Warn("[MEMORY] remote write failed, using local fallback", "op", op, "error", remoteErr)
	}
	if f.local == nil {
		if remoteErr != nil {
			return fmt.Errorf("memory: %s: %w", op, remoteErr)
		}
		return ErrNoBackend
	}
	if err := fn(f.local); err != nil {
		return fmt.Errorf("memory: %s: local: %w", op, err)
	}
	return nil
}

func (f *Fallback) AppendAudit(ctx context.Context, e types.AuditEntry, bound int) error {
	return f.write(ctx, "append audit", func(d Durable) error { return d.AppendAudit(ctx, e, bound) })
}

func (f *Fallback) SavePending(ctx context.Context, items []types.PendingApproval) error {
	return f.write(ctx, "save pending", func(d Durable) error { return d.SavePending(ctx, items) })
}

func (f *Fallback) RecentAudit(ctx context.Context, n int) ([]types.AuditEntry, error) {
	if f.remote != nil {
		out, err := f.remote.RecentAudit(ctx, n)
		if err == nil {
			return out, nil
		}
		slog.Warn("[MEMORY] remote read failed, using local fallback", "op", "recent audit", "error", err)
	}
	if f.local == nil {
		return nil, ErrNoBackend
	}
	return f.local.RecentAudit(ctx, n)
}

func (f *Fallback) LoadPending(ctx context.Context) ([]types.PendingApproval, error) {
	if f.remote != nil {
		out, err := f.remote.LoadPending(ctx)
		if err == nil {
			return out, nil
		}
		slog.Warn("[MEMORY] remote read failed, using local fallback", "op", "load pending", "error", err)
	}
	if f.local == nil {
		return nil, ErrNoBackend
	}
	return f.local.LoadPending(ctx)
}

// Close closes both tiers and joins their errors.
func (f *Fallback) Close() error {
	var errs []error
	if f.remote != nil {
		errs = append(errs, f.remote.Close())
	}
	if f.local != nil {
		errs = append(errs, f.local.Close())
	}
	return errors.Join(errs...)
}
