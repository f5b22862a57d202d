// Package tasklog provides per-run structured logging for the orchestrator.
//
// Each run (one autopilot cycle or one council session) gets one JSONL file in
// a configurable directory. Events capture every key stage: LLM calls (with full
// prompts), parsed commands, their risk tier and their final disposition.
//
// Design constraints:
//   - All RunLog methods are nil-safe (no-op on nil receiver) so callers don't need
//     nil checks before every log call.
//   - Registry is the sole owner of JSONL persistence; callers never open files.
//   - The orchestrator opens a cycle log and closes it when the cycle ends; the
//     council keeps one open for the whole session.
package tasklog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventKind labels a single structured event in the run log.
type EventKind string

const (
	KindCycleBegin  EventKind = "cycle_begin"
	KindCycleEnd    EventKind = "cycle_end"
	KindLLMCall     EventKind = "llm_call"
	KindCommand     EventKind = "command"
	KindDisposition EventKind = "disposition"
	KindStage       EventKind = "stage"
)

// Event is one JSONL line in the run log.
// Fields are omitempty so each event only serialises relevant data.
type Event struct {
	Kind      EventKind `json:"kind"`
	Timestamp string    `json:"ts"`

	// cycle_begin / cycle_end
	RunID     string     `json:"run_id,omitempty"`
	Trigger   string     `json:"trigger,omitempty"` // "autopilot" | "manual" | "council"
	Status    string     `json:"status,omitempty"`  // "ok" | "degraded" | "failed"
	ElapsedMs int64      `json:"elapsed_ms,omitempty"`
	RoleStats []RoleStat `json:"role_stats,omitempty"` // cycle_end only
	Commands  int        `json:"commands,omitempty"`   // cycle_end only

	// llm_call
	Role         string `json:"role,omitempty"` // "planner" | "advisor" | "critique" | "decree" | "ask"
	RequestID    string `json:"request_id,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	UserPrompt   string `json:"user_prompt,omitempty"`
	Response     string `json:"response,omitempty"`
	Error        string `json:"error,omitempty"`

	// command / disposition
	ActionType string `json:"action_type,omitempty"`
	Label      string `json:"label,omitempty"`
	Tier       string `json:"tier,omitempty"`        // "auto" | "needs_approval"
	Outcome    string `json:"outcome,omitempty"`     // audit outcome, or "queued"
	Ref        string `json:"ref,omitempty"`         // audit entry id or pending approval id
	Details    string `json:"details,omitempty"`

	// stage
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// RoleStat summarises LLM usage for one role across all calls in a run.
type RoleStat struct {
	Role      string `json:"role"`
	Calls     int    `json:"calls"`
	Failures  int    `json:"failures"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

type roleStat struct {
	calls     int
	failures  int
	elapsedMs int64
}

// canonicalRoleOrder defines the display order for RoleStats().
var canonicalRoleOrder = []string{"planner", "ask", "advisor", "critique", "decree"}

// RunLog is a handle for writing structured events for one run.
//
// Expectations:
//   - All methods are nil-safe (no-op when called on nil *RunLog)
//   - Concurrent writes are safe (mutex-protected)
//   - CommandCount returns the number of Command events written
type RunLog struct {
	runID     string
	started   time.Time
	mu        sync.Mutex
	f         *os.File
	commands  int
	roleStats map[string]*roleStat
}

// Registry maps run IDs to open RunLogs.
// It is the sole authority for creating and closing run log files.
//
// Expectations:
//   - Open creates the log directory if absent
//   - Open writes a cycle_begin event as the first JSONL line
//   - Open returns the existing log without re-opening when called twice for the same runID
//   - Get returns nil for unknown run IDs
//   - Close writes cycle_end with status, elapsed_ms, role stats and command count
//   - Close removes the runID from the registry so subsequent Get returns nil
//   - Close no-ops gracefully when runID is not registered
//   - A nil *Registry opens nil logs
type Registry struct {
	dir  string
	mu   sync.Mutex
	logs map[string]*RunLog
}

// NewRegistry creates a Registry that writes one JSONL file per run under dir.
func NewRegistry(dir string) *Registry {
	return &Registry{
		dir:  dir,
		logs: make(map[string]*RunLog),
	}
}

// Open creates a new RunLog for runID, writes a cycle_begin event, and registers it.
func (r *Registry) Open(runID, trigger string) *RunLog {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if rl, ok := r.logs[runID]; ok {
		return rl
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		slog.Error("[TASKLOG] could not create dir", "dir", r.dir, "error", err)
		return nil
	}
	path := filepath.Join(r.dir, runID+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Error("[TASKLOG] could not open log file", "path", path, "error", err)
		return nil
	}

	rl := &RunLog{runID: runID, started: time.Now(), f: f, roleStats: make(map[string]*roleStat)}
	r.logs[runID] = rl
	rl.write(Event{
		Kind:    KindCycleBegin,
		RunID:   runID,
		Trigger: trigger,
	})
	return rl
}

// Get returns the RunLog for runID, or nil if not found.
func (r *Registry) Get(runID string) *RunLog {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.logs[runID]
}

// Close writes a cycle_end event, closes the file, and removes the entry from
// the registry. Safe to call on a nil *Registry or unknown runID.
func (r *Registry) Close(runID, status string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	rl, ok := r.logs[runID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.logs, runID)
	r.mu.Unlock()

	rl.write(Event{
		Kind:      KindCycleEnd,
		RunID:     runID,
		Status:    status,
		ElapsedMs: time.Since(rl.started).Milliseconds(),
		RoleStats: rl.RoleStats(),
		Commands:  rl.CommandCount(),
	})

	rl.mu.Lock()
	if rl.f != nil {
		_ = rl.f.Close()
		rl.f = nil
	}
	rl.mu.Unlock()
}

// LLMCall writes an llm_call event. errMsg is empty on success.
func (rl *RunLog) LLMCall(role, requestID, systemPrompt, userPrompt, response, errMsg string, elapsedMs int64) {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	rs := rl.roleStats[role]
	if rs == nil {
		rs = &roleStat{}
		rl.roleStats[role] = rs
	}
	rs.calls++
	if errMsg != "" {
		rs.failures++
	}
	rs.elapsedMs += elapsedMs
	rl.mu.Unlock()
	rl.write(Event{
		Kind:         KindLLMCall,
		Role:         role,
		RequestID:    requestID,
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Response:     response,
		Error:        errMsg,
		ElapsedMs:    elapsedMs,
	})
}

// Command writes a command event for one parsed command and its risk tier.
func (rl *RunLog) Command(actionType, label, tier string) {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	rl.commands++
	rl.mu.Unlock()
	rl.write(Event{
		Kind:       KindCommand,
		ActionType: actionType,
		Label:      label,
		Tier:       tier,
	})
}

// Disposition writes what became of a command: an audit outcome or "queued".
func (rl *RunLog) Disposition(actionType, outcome, ref, details string) {
	if rl == nil {
		return
	}
	rl.write(Event{
		Kind:       KindDisposition,
		ActionType: actionType,
		Outcome:    outcome,
		Ref:        ref,
		Details:    details,
	})
}

// Stage writes a workflow stage transition.
func (rl *RunLog) Stage(from, to string) {
	if rl == nil {
		return
	}
	rl.write(Event{Kind: KindStage, From: from, To: to})
}

// RoleStats returns a snapshot of per-role LLM usage sorted by canonical order.
// Roles that made no LLM calls are omitted.
//
// Expectations:
//   - Returns one entry per role that called LLMCall
//   - Calls counts every LLMCall; Failures counts those with an error
//   - ElapsedMs matches the sum of all elapsedMs values for that role
func (rl *RunLog) RoleStats() []RoleStat {
	if rl == nil {
		return nil
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	var out []RoleStat
	for _, role := range canonicalRoleOrder {
		rs, ok := rl.roleStats[role]
		if !ok {
			continue
		}
		out = append(out, RoleStat{
			Role:      role,
			Calls:     rs.calls,
			Failures:  rs.failures,
			ElapsedMs: rs.elapsedMs,
		})
	}
	return out
}

// CommandCount returns the number of Command events written so far.
func (rl *RunLog) CommandCount() int {
	if rl == nil {
		return 0
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.commands
}

// write appends one JSON line to the run log file. Adds timestamp, mutex-protected.
func (rl *RunLog) write(e Event) {
	e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	data, err := json.Marshal(e)
	if err != nil {
		slog.Error("[TASKLOG] marshal event", "error", err)
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.f == nil {
		return
	}
	if _, err = fmt.Fprintf(rl.f, "%s\n", data); err != nil {
		slog.Error("[TASKLOG] write event", "error", err)
	}
}
