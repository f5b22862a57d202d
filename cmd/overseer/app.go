package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haricheung/overseer/internal/bus"
	"github.com/haricheung/overseer/internal/config"
	"github.com/haricheung/overseer/internal/llm"
	"github.com/haricheung/overseer/internal/orchestrator"
	"github.com/haricheung/overseer/internal/platform"
	"github.com/haricheung/overseer/internal/roles/approver"
	"github.com/haricheung/overseer/internal/roles/auditor"
	"github.com/haricheung/overseer/internal/roles/executor"
	"github.com/haricheung/overseer/internal/roles/memory"
	"github.com/haricheung/overseer/internal/roles/planner"
	"github.com/haricheung/overseer/internal/stream"
	"github.com/haricheung/overseer/internal/tasklog"
	"github.com/haricheung/overseer/internal/types"
	"github.com/haricheung/overseer/internal/ui"
)

// app is the fully wired orchestrator.
type app struct {
	cfg     config.Config
	b       *bus.Bus
	gen     llm.Generator
	genErr  error // non-nil when no usable generation tier is configured
	store   *memory.Fallback
	state   *platform.State
	audit   *auditor.Log
	exec    *executor.Engine
	queue   *approver.Queue
	acc     *stream.Accumulator
	planner *planner.Planner
	runs    *tasklog.Registry
	orch    *orchestrator.Orchestrator

	cancel    context.CancelFunc
	stopAudit context.CancelFunc
	auditDone chan struct{}
	logFile   *os.File
}

// newApp wires every component. The returned context is cancelled by close.
func newApp(parent context.Context, opts *options) (*app, context.Context, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, err
	}
	a := &app{cfg: cfg, b: bus.New()}
	if err := a.setupLogging(opts.verbose); err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithCancel(parent)
	a.cancel = cancel

	// Generation tiers: the secondary is only used when fully configured.
	primary := llm.NewTier("PRIMARY")
	var secondary llm.Provider
	if sec := llm.NewTier("SECONDARY"); sec.Validate() == nil {
		secondary = sec
	}
	a.genErr = primary.Validate()
	if a.genErr != nil {
		log.Printf("[APP] WARNING: %v", a.genErr)
	}
	a.gen = llm.NewTiered(primary, secondary)

	// Durable tiers: redis when configured, goleveldb always.
	local, err := memory.OpenLevel(cfg.Store.LocalPath)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	var remote memory.Durable
	if cfg.Store.RedisAddr != "" {
		r := memory.NewRedis(cfg.Store.RedisAddr, cfg.Store.RedisPassword, cfg.Store.RedisDB, cfg.Store.RedisPrefix)
		pctx, pcancel := context.WithTimeout(ctx, 2*time.Second)
		if err := r.Ping(pctx); err != nil {
			slog.Warn("[APP] redis unreachable, durability degraded to local", "addr", cfg.Store.RedisAddr, "error", err)
		}
		pcancel()
		remote = r
	}
	a.store = memory.NewFallback(remote, local)

	a.state = platform.NewState(cfg.Seed)
	a.audit = auditor.New(a.b, a.store, cfg.Audit.Bound)
	if err := a.audit.Load(ctx); err != nil {
		log.Printf("[APP] WARNING: audit log not restored: %v", err)
	}
	// The writer outlives the signal context so cycles still draining after
	// SIGINT can record their outcomes; close stops it last.
	auditCtx, stopAudit := context.WithCancel(context.WithoutCancel(ctx))
	a.stopAudit = stopAudit
	a.auditDone = make(chan struct{})
	go func() {
		a.audit.Run(auditCtx)
		close(a.auditDone)
	}()

	a.exec = executor.New(a.state, a.audit)
	a.queue = approver.New(a.b, a.exec, a.store)
	if err := a.queue.Restore(ctx); err != nil {
		log.Printf("[APP] WARNING: approval queue not restored: %v", err)
	}
	a.acc = stream.New(a.b, types.RoleStream)
	a.planner = planner.New(a.b, a.gen, a.acc, a.audit, a.state, cfg.Audit.ContextEntries)
	a.runs = tasklog.NewRegistry(cfg.TasklogDir)
	a.orch = orchestrator.New(a.b, a.planner, a.exec, a.queue, a.runs)

	d := ui.New(a.b.NewTap(), opts.verbose)
	go d.Run(ctx)

	if opts.metricsAddr != "" {
		serveMetrics(opts.metricsAddr)
	}
	return a, ctx, nil
}

// requireGeneration fails fast for commands that cannot work without a model.
func (a *app) requireGeneration() error {
	if a.genErr != nil {
		return fmt.Errorf("%w (set PRIMARY_* or OPENAI_* in the environment or .env)", a.genErr)
	}
	return nil
}

// setupLogging sends the [TAG] log lines to ~/.cache/overseer/debug.log so they
// do not tear the live display. verbose keeps them on stderr.
func (a *app) setupLogging(verbose bool) error {
	if verbose {
		return nil
	}
	dir := filepath.Dir(a.cfg.Store.LocalPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("log dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "debug.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("debug log: %w", err)
	}
	a.logFile = f
	log.SetOutput(f)
	slog.SetDefault(slog.New(slog.NewTextHandler(f, nil)))
	return nil
}

// close stops the actors, waits for the audit writer to drain and closes storage.
// Callers stop and wait for the autopilot first.
func (a *app) close() {
	a.cancel()
	a.stopAudit()
	select {
	case <-a.auditDone:
	case <-time.After(5 * time.Second):
		log.Printf("[APP] WARNING: audit writer did not drain in time")
	}
	if err := a.store.Close(); err != nil {
		log.Printf("[APP] WARNING: close store: %v", err)
	}
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[APP] ERROR: metrics server: %v", err)
		}
	}()
	log.Printf("[APP] metrics on %s/metrics", addr)
}
