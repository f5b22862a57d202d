package ui

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/haricheung/overseer/internal/types"
)

// ANSI codes
const (
	ansiReset   = "\033[0m"
	ansiBold    = "\033[1m"
	ansiDim     = "\033[2m"
	ansiCyan    = "\033[36m"
	ansiYellow  = "\033[33m"
	ansiGreen   = "\033[32m"
	ansiRed     = "\033[31m"
	ansiMagenta = "\033[35m"
	ansiBlue    = "\033[34m"
)

var roleEmoji = map[types.Role]string{
	types.RoleScheduler: "⏱ ",
	types.RolePlanner:   "📐",
	types.RoleExecutor:  "⚙️ ",
	types.RoleApprover:  "🛂",
	types.RoleAuditor:   "📜",
	types.RoleCouncil:   "🏛 ",
	types.RoleStream:    "📡",
	types.RoleUser:      "👤",
}

var msgColor = map[types.MessageType]string{
	types.MsgCycleBegin:       ansiCyan,
	types.MsgPlanReady:        ansiBlue,
	types.MsgApprovalQueued:   ansiYellow,
	types.MsgApprovalResolved: ansiMagenta,
	types.MsgAuditAppended:    ansiGreen,
	types.MsgStageChanged:     ansiCyan,
}

var outcomeColor = map[types.Outcome]string{
	types.OutcomeExecuted: ansiGreen,
	types.OutcomeRejected: ansiYellow,
	types.OutcomeFailed:   ansiRed,
	types.OutcomeUnknown:  ansiRed,
}

var msgStatus = map[types.MessageType]string{
	types.MsgCycleBegin:       "📐 planning...",
	types.MsgStreamComplete:   "📐 parsing...",
	types.MsgPlanReady:        "⚙️  dispatching...",
	types.MsgApprovalQueued:   "⚙️  dispatching...",
	types.MsgAuditAppended:    "⚙️  dispatching...",
	types.MsgApprovalResolved: "📜 recording...",
}

// statusWidth bounds the spinner line in terminal columns.
const statusWidth = 60

// dynamicStatus returns a spinner label for msg. Stream fragments show the
// tail of the text generated so far.
func dynamicStatus(msg types.Message) string {
	if msg.Type == types.MsgStreamFragment {
		var u types.StreamUpdate
		if remarshal(msg.Payload, &u) == nil && u.Text != "" {
			return "✍️  " + tail(oneLine(u.Text), statusWidth)
		}
		return "✍️  generating..."
	}
	return msgStatus[msg.Type]
}

var spinRunes = []rune("⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏")

// Display renders the live action flow to a terminal.
// It reads from a bus tap channel; every cycle opens a box that closes when
// the cycle report arrives. Approvals, audit appends and council stage
// changes outside a cycle print as standalone lines.
type Display struct {
	tap     <-chan types.Message
	out     io.Writer
	verbose bool

	mu      sync.Mutex
	status  string
	started time.Time
	inCycle bool
	spinIdx int
}

// New creates a Display reading from tap and writing to stdout. verbose also
// prints stream fragments and plan messages as flow lines.
func New(tap <-chan types.Message, verbose bool) *Display {
	return &Display{tap: tap, out: os.Stdout, verbose: verbose}
}

// Run is the main goroutine. It renders flow lines and animates the spinner.
// All terminal writes happen within this goroutine.
func (d *Display) Run(ctx context.Context) {
	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprint(d.out, "\r\033[K")
			return

		case msg, ok := <-d.tap:
			if !ok {
				return
			}
			d.handle(msg)

		case <-ticker.C:
			d.mu.Lock()
			status, active := d.status, d.inCycle || d.status != ""
			d.mu.Unlock()
			if !active || status == "" {
				continue
			}
			frame := spinRunes[d.spinIdx%len(spinRunes)]
			d.spinIdx++
			fmt.Fprintf(d.out, "\r\033[K%s%s%s %s", ansiCyan, string(frame), ansiReset, status)
		}
	}
}

func (d *Display) handle(msg types.Message) {
	switch msg.Type {
	case types.MsgCycleBegin:
		d.startCycle(msg)
	case types.MsgCycleComplete:
		var r types.CycleReport
		_ = remarshal(msg.Payload, &r)
		d.endCycle(r)
		return
	case types.MsgStreamFragment:
		d.setStatus(dynamicStatus(msg))
		return
	case types.MsgStreamComplete:
		if !d.inCycle {
			d.setStatus("")
			fmt.Fprint(d.out, "\r\033[K")
			return
		}
	}
	if line := d.flowLine(msg); line != "" {
		fmt.Fprint(d.out, "\r\033[K")
		fmt.Fprintln(d.out, line)
	}
	if d.inCycle {
		if s := dynamicStatus(msg); s != "" {
			d.setStatus(s)
		}
	}
}

func (d *Display) startCycle(msg types.Message) {
	d.started = time.Now()
	d.inCycle = true
	d.setStatus("initializing...")
	id := ""
	if s, ok := msg.Payload.(string); ok && len(s) >= 8 {
		id = " " + s[:8]
	}
	fmt.Fprintf(d.out, "\r\033[K\n%s┌─── ⚡ %soverseer cycle%s%s%s %s%s\n", ansiDim, ansiBold, id, ansiReset, ansiDim, strings.Repeat("─", 36), ansiReset)
}

func (d *Display) endCycle(r types.CycleReport) {
	wasInCycle := d.inCycle
	d.inCycle = false
	d.setStatus("")
	icon := "✅"
	switch {
	case r.Error != "":
		icon = "❌"
	case r.Degraded:
		icon = "⚠️ "
	}
	summary := fmt.Sprintf("%d executed, %d queued", len(r.Executed), len(r.Queued))
	if r.Error != "" {
		summary = clip(r.Error, 50)
	} else if r.Degraded {
		summary = "degraded: no plan this cycle"
	}
	elapsed := time.Duration(0)
	if wasInCycle {
		elapsed = time.Since(d.started).Round(time.Millisecond)
	}
	fmt.Fprintf(d.out, "\r\033[K%s└─── %s  %s  %v %s%s\n", ansiDim, icon, summary, elapsed, strings.Repeat("─", 20), ansiReset)
	if r.Prose != "" {
		fmt.Fprintf(d.out, "%s%s%s\n", ansiDim, clip(oneLine(r.Prose), 100), ansiReset)
	}
}

func (d *Display) setStatus(s string) {
	d.mu.Lock()
	d.status = s
	d.mu.Unlock()
}

// flowLine renders msg, or returns "" for messages that only drive the spinner.
func (d *Display) flowLine(msg types.Message) string {
	switch msg.Type {
	case types.MsgCycleBegin, types.MsgStreamComplete:
		return ""
	case types.MsgPlanReady:
		if !d.verbose {
			return ""
		}
	}

	det := msgDetail(msg)
	if msg.Type == types.MsgAuditAppended {
		var e types.AuditEntry
		if remarshal(msg.Payload, &e) == nil {
			c := outcomeColor[e.Outcome]
			return fmt.Sprintf("  %s ──[%s%s%s]──► %s", roleLabel(msg.From), c, det, ansiReset, roleLabel(msg.To))
		}
	}

	label := string(msg.Type)
	if det != "" {
		label += ": " + det
	}
	color := msgColor[msg.Type]
	if color == "" {
		color = ansiDim
	}
	return fmt.Sprintf("  %s ──[%s%s%s]──► %s", roleLabel(msg.From), color, label, ansiReset, roleLabel(msg.To))
}

func roleLabel(r types.Role) string {
	emoji, ok := roleEmoji[r]
	if !ok {
		emoji = "•"
	}
	return emoji + " " + string(r)
}

// resolution mirrors the approver's MsgApprovalResolved payload.
type resolution struct {
	Pending types.PendingApproval `json:"pending"`
	Entry   types.AuditEntry      `json:"entry"`
}

// planSummary mirrors the fields of the planner's MsgPlanReady payload shown here.
type planSummary struct {
	CycleID  string
	Commands []types.Command
}

func msgDetail(msg types.Message) string {
	switch msg.Type {
	case types.MsgApprovalQueued:
		var p types.PendingApproval
		if remarshal(msg.Payload, &p) == nil && p.ID != "" {
			return fmt.Sprintf("%s %s needs approval", shortID(p.ID), commandLabel(p.Command))
		}
	case types.MsgApprovalResolved:
		var r resolution
		if remarshal(msg.Payload, &r) == nil && r.Pending.ID != "" {
			return fmt.Sprintf("%s %s → %s", shortID(r.Pending.ID), commandLabel(r.Pending.Command), r.Entry.Outcome)
		}
	case types.MsgAuditAppended:
		var e types.AuditEntry
		if remarshal(msg.Payload, &e) == nil && e.Outcome != "" {
			return fmt.Sprintf("[%s] %s: %s", e.Outcome, e.ActionType, clip(e.Details, 50))
		}
	case types.MsgPlanReady:
		var p planSummary
		if remarshal(msg.Payload, &p) == nil {
			if len(p.Commands) == 1 {
				return "1 command"
			}
			return fmt.Sprintf("%d commands", len(p.Commands))
		}
	case types.MsgStageChanged:
		var c types.StageChange
		if remarshal(msg.Payload, &c) == nil && c.To != "" {
			return fmt.Sprintf("%s → %s", c.From, c.To)
		}
	}
	return ""
}

func commandLabel(c types.Command) string {
	if c.Label != "" {
		return clip(c.Label, 40)
	}
	return c.Type.Label()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// clip truncates s to at most n terminal columns, appending "…" if trimmed.
func clip(s string, n int) string {
	return runewidth.Truncate(s, n, "…")
}

// tail keeps the last n terminal columns of s, prefixing "…" if trimmed.
func tail(s string, n int) string {
	if runewidth.StringWidth(s) <= n {
		return s
	}
	runes := []rune(s)
	w := 1 // the ellipsis
	i := len(runes)
	for i > 0 {
		rw := runewidth.RuneWidth(runes[i-1])
		if w+rw > n {
			break
		}
		w += rw
		i--
	}
	return "…" + string(runes[i:])
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func remarshal(src, dst any) error {
	b, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}
