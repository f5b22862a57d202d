package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/haricheung/overseer/internal/orchestrator"
	"github.com/haricheung/overseer/internal/types"
)

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func newAutopilotCmd(opts *options) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "autopilot",
		Short: "Run a cycle now and then every interval; resolve approvals interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAutopilot(cmd.Context(), opts, interval)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "Cycle interval (default from config, 15s)")
	return cmd
}

func runAutopilot(parent context.Context, opts *options, interval time.Duration) error {
	ctx, stop := signalContext(parent)
	defer stop()
	a, ctx, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.requireGeneration(); err != nil {
		return err
	}
	if interval <= 0 {
		interval = a.cfg.Autopilot.Interval
	}

	ap := orchestrator.NewAutopilot(a.orch, interval, nil)
	if err := ap.Start(ctx); err != nil {
		return err
	}
	fmt.Printf("overseer autopilot: one cycle every %v (type 'help' for commands)\n", ap.Interval())
	err = approvalREPL(ctx, a, ap, "autopilot")
	ap.Stop()
	ap.Wait()
	return err
}

func newCycleCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "cycle",
		Short: "Run exactly one generate → parse → classify → dispatch cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			a, ctx, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.requireGeneration(); err != nil {
				return err
			}
			printReport(a.orch.RunCycle(ctx, types.SourceManual))
			return nil
		},
	}
}

func newApprovalsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "approvals",
		Short: "List, approve and reject pending high-risk actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			a, ctx, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.close()
			printPending(a)
			// Not started: manual cycles still go through its single-flight guard.
			ap := orchestrator.NewAutopilot(a.orch, a.cfg.Autopilot.Interval, nil)
			defer ap.Wait()
			return approvalREPL(ctx, a, ap, "approvals")
		},
	}
}

func newAuditCmd(opts *options) *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Print the most recent audit entries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.close()
			printAudit(a.audit.Recent(n))
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "num", "n", 20, "Number of entries to show")
	return cmd
}

func newAskCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask the planner a question about the platform",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			a, ctx, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.requireGeneration(); err != nil {
				return err
			}
			reply, err := a.planner.Ask(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Println(reply.Text)
			for i, o := range reply.Options {
				fmt.Printf("  %d) %s\n", i+1, o)
			}
			return nil
		},
	}
}

// newLineReader opens a readline prompt with history under the cache dir.
func newLineReader(a *app, prompt string) (*readline.Instance, error) {
	return readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     filepath.Join(filepath.Dir(a.cfg.Store.LocalPath), "history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
}

// readLine returns the next trimmed line. ok is false on EOF, on Ctrl-C at an
// empty prompt, or when ctx is done.
func readLine(ctx context.Context, rl *readline.Instance) (string, bool) {
	for {
		if ctx.Err() != nil {
			return "", false
		}
		line, err := rl.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			if strings.TrimSpace(line) == "" {
				return "", false
			}
			continue
		case errors.Is(err, io.EOF):
			return "", false
		case err != nil:
			return "", false
		}
		if line = strings.TrimSpace(line); line != "" {
			return line, true
		}
	}
}

const approvalHelp = `commands:
  list                 show pending approvals
  approve <id>         execute a pending action (id prefix is enough)
  reject <id>          reject a pending action
  audit [n]            show recent audit entries
  cycle                run one cycle now (joins a cycle already running)
  status               show autopilot, queue and audit state
  exit                 quit`

// pendingPrompt renders the REPL prompt with the pending approval count.
func pendingPrompt(name string, pending int) string {
	if pending == 0 {
		return name + "> "
	}
	return fmt.Sprintf("%s [%d pending]> ", name, pending)
}

func approvalREPL(ctx context.Context, a *app, ap *orchestrator.Autopilot, name string) error {
	rl, err := newLineReader(a, pendingPrompt(name, len(a.queue.List())))
	if err != nil {
		return err
	}
	defer rl.Close()

	// Keep the pending count in the prompt current while autopilot cycles queue work.
	queued := a.b.Subscribe(types.MsgApprovalQueued)
	resolved := a.b.Subscribe(types.MsgApprovalResolved)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-queued:
			case <-resolved:
			}
			rl.SetPrompt(pendingPrompt(name, len(a.queue.List())))
			rl.Refresh()
		}
	}()

	for {
		line, ok := readLine(ctx, rl)
		if !ok {
			return nil
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "exit", "quit":
			return nil
		case "help", "?":
			fmt.Println(approvalHelp)
		case "list", "ls":
			printPending(a)
		case "approve", "reject":
			if len(fields) < 2 {
				fmt.Printf("usage: %s <id>\n", fields[0])
				continue
			}
			id, ok := resolvePending(a, fields[1])
			if !ok {
				fmt.Printf("no single pending approval matches %q\n", fields[1])
				continue
			}
			var entry types.AuditEntry
			if fields[0] == "approve" {
				entry, ok = a.queue.Approve(ctx, id)
			} else {
				entry, ok = a.queue.Reject(ctx, id)
			}
			if !ok {
				fmt.Println("already resolved")
				continue
			}
			fmt.Printf("[%s] %s: %s\n", entry.Outcome, entry.ActionType, entry.Details)
		case "audit":
			n := 10
			if len(fields) > 1 {
				if v, err := strconv.Atoi(fields[1]); err == nil && v > 0 {
					n = v
				}
			}
			printAudit(a.audit.Recent(n))
		case "cycle":
			if err := a.requireGeneration(); err != nil {
				fmt.Println(err)
				continue
			}
			r, joined := ap.RunNow(ctx, types.SourceManual)
			if joined {
				fmt.Println("a cycle was already running; showing its result")
			}
			printReport(r)
		case "status":
			printStatus(a, ap)
		default:
			fmt.Printf("unknown command %q (type 'help')\n", fields[0])
		}
	}
}

// resolvePending maps an id or unique id prefix to a pending approval id.
func resolvePending(a *app, ref string) (string, bool) {
	if _, ok := a.queue.Get(ref); ok {
		return ref, true
	}
	match := ""
	for _, p := range a.queue.List() {
		if strings.HasPrefix(p.ID, ref) {
			if match != "" {
				return "", false
			}
			match = p.ID
		}
	}
	return match, match != ""
}

func printPending(a *app) {
	pending := a.queue.List()
	if len(pending) == 0 {
		fmt.Println("no pending approvals")
		return
	}
	fmt.Printf("%d pending approval(s):\n", len(pending))
	for _, p := range pending {
		label := p.Command.Label
		if label == "" {
			label = p.Command.Type.Label()
		}
		fmt.Printf("  %s  %-24s %s (%s, %s ago)\n", shortID(p.ID), p.Command.Type, label, p.Source, time.Since(p.CreatedAt).Round(time.Second))
		if p.Command.Description != "" {
			fmt.Printf("            %s\n", p.Command.Description)
		}
	}
}

func printStatus(a *app, ap *orchestrator.Autopilot) {
	if ap.Running() {
		fmt.Printf("autopilot: running, one cycle every %v\n", ap.Interval())
	} else {
		fmt.Println("autopilot: stopped")
	}
	fmt.Printf("approvals: %d pending\n", len(a.queue.List()))
	fmt.Printf("audit:     %d of %d entries retained\n", a.audit.Len(), a.audit.Bound())
}

func printAudit(entries []types.AuditEntry) {
	if len(entries) == 0 {
		fmt.Println("audit log is empty")
		return
	}
	for _, e := range entries {
		fmt.Printf("%s  %-9s %-24s %s\n", e.CreatedAt.Local().Format("15:04:05"), e.Outcome, e.ActionType, e.Details)
	}
}

func printReport(r types.CycleReport) {
	fmt.Printf("\ncycle %s", shortID(r.CycleID))
	switch {
	case r.Error != "":
		fmt.Printf(" failed: %s\n", r.Error)
	case r.Degraded:
		fmt.Println(" degraded: generation failed, nothing dispatched")
	default:
		fmt.Printf(": %d executed, %d queued\n", len(r.Executed), len(r.Queued))
	}
	if r.Prose != "" {
		fmt.Println(r.Prose)
	}
	for _, e := range r.Executed {
		fmt.Printf("  ✓ [%s] %s: %s\n", e.Outcome, e.ActionType, e.Details)
	}
	for _, p := range r.Queued {
		fmt.Printf("  ⏸ %s %s awaits approval\n", shortID(p.ID), p.Command.Type)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
