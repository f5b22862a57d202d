package tasklog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

// readEvents parses all JSONL lines from a file into a slice of Events.
func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("readEvents: %v", err)
	}
	var events []Event
	for _, line := range splitLines(string(data)) {
		if line == "" {
			continue
		}
		var e Event
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("readEvents: unmarshal %q: %v", line, err)
		}
		events = append(events, e)
	}
	return events
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

// --- Registry.Open ---

func TestRegistry_Open_WritesCycleBegin(t *testing.T) {
	// Open creates the log directory and writes a cycle_begin event as the first JSONL line
	dir := t.TempDir()
	r := NewRegistry(filepath.Join(dir, "runs"))
	rl := r.Open("c1", "autopilot")
	if rl == nil {
		t.Fatal("expected non-nil RunLog")
	}
	r.Close("c1", "ok")

	events := readEvents(t, filepath.Join(dir, "runs", "c1.jsonl"))
	if len(events) == 0 {
		t.Fatal("expected at least one event")
	}
	if events[0].Kind != KindCycleBegin {
		t.Errorf("first event kind = %q, want %q", events[0].Kind, KindCycleBegin)
	}
	if events[0].RunID != "c1" || events[0].Trigger != "autopilot" {
		t.Errorf("begin event = %+v", events[0])
	}
}

func TestRegistry_Open_ReturnsExistingOnDuplicate(t *testing.T) {
	// Open returns the existing log without re-opening when called twice for the same runID
	dir := t.TempDir()
	r := NewRegistry(filepath.Join(dir, "runs"))
	rl1 := r.Open("c1", "manual")
	rl2 := r.Open("c1", "manual")
	if rl1 != rl2 {
		t.Errorf("expected same *RunLog pointer on second Open")
	}
	r.Close("c1", "ok")

	beginCount := 0
	for _, e := range readEvents(t, filepath.Join(dir, "runs", "c1.jsonl")) {
		if e.Kind == KindCycleBegin {
			beginCount++
		}
	}
	if beginCount != 1 {
		t.Errorf("expected 1 cycle_begin, got %d", beginCount)
	}
}

// --- Registry.Get ---

func TestRegistry_Get_ReturnsNilForUnknown(t *testing.T) {
	// Get returns nil for unknown run IDs
	r := NewRegistry(t.TempDir())
	if got := r.Get("nonexistent"); got != nil {
		t.Errorf("expected nil for unknown runID, got %v", got)
	}
}

// --- Registry.Close ---

func TestRegistry_Close_WritesCycleEnd(t *testing.T) {
	// Close writes cycle_end with status, elapsed_ms, role stats and command count
	dir := t.TempDir()
	r := NewRegistry(filepath.Join(dir, "runs"))
	rl := r.Open("c1", "autopilot")
	rl.LLMCall("planner", "c1", "sys", "user", "resp", "", 120)
	rl.Command("publish_announcement", "Announcement", "auto")
	rl.Disposition("publish_announcement", "executed", "e1", "Published")
	rl.Command("create_flash_campaign", "Flash campaign", "needs_approval")
	rl.Disposition("create_flash_campaign", "queued", "p1", "")
	r.Close("c1", "ok")

	events := readEvents(t, filepath.Join(dir, "runs", "c1.jsonl"))
	if len(events) != 7 {
		t.Fatalf("events = %d, want 7", len(events))
	}
	last := events[len(events)-1]
	if last.Kind != KindCycleEnd || last.Status != "ok" {
		t.Errorf("last event = %+v", last)
	}
	if last.Commands != 2 {
		t.Errorf("commands = %d, want 2", last.Commands)
	}
	if len(last.RoleStats) != 1 || last.RoleStats[0].Role != "planner" || last.RoleStats[0].ElapsedMs != 120 {
		t.Errorf("role stats = %+v", last.RoleStats)
	}
	if got := r.Get("c1"); got != nil {
		t.Errorf("expected nil after Close, got %v", got)
	}
}

func TestRegistry_Close_NoopsForUnknown(t *testing.T) {
	// Close no-ops gracefully when runID is not registered
	r := NewRegistry(t.TempDir())
	r.Close("nonexistent", "ok")
	var nilReg *Registry
	nilReg.Close("x", "ok")
	if nilReg.Open("x", "manual") != nil {
		t.Error("nil registry must open nil logs")
	}
}

// --- nil RunLog safety ---

func TestRunLog_NilReceiverNoops(t *testing.T) {
	// All RunLog methods are no-ops when called on nil *RunLog
	var rl *RunLog
	rl.LLMCall("planner", "c1", "sys", "user", "resp", "", 1)
	rl.Command("publish_announcement", "Announcement", "auto")
	rl.Disposition("publish_announcement", "executed", "e1", "")
	rl.Stage("discovery", "assembly")
	if rl.RoleStats() != nil || rl.CommandCount() != 0 {
		t.Error("nil RunLog should report nothing")
	}
}

// --- RoleStats ---

func TestRunLog_RoleStats_CanonicalOrderAndFailures(t *testing.T) {
	// Calls counts every LLMCall; Failures counts those with an error
	r := NewRegistry(t.TempDir())
	rl := r.Open("s1", "council")
	defer r.Close("s1", "ok")
	rl.LLMCall("decree", "s1", "", "p", "r", "", 5)
	rl.LLMCall("advisor", "a1", "", "p", "", "timeout", 7)
	rl.LLMCall("advisor", "a2", "", "p", "r", "", 3)

	got := rl.RoleStats()
	if len(got) != 2 {
		t.Fatalf("stats = %+v", got)
	}
	if got[0].Role != "advisor" || got[0].Calls != 2 || got[0].Failures != 1 || got[0].ElapsedMs != 10 {
		t.Errorf("advisor stats = %+v", got[0])
	}
	if got[1].Role != "decree" {
		t.Errorf("order = %+v", got)
	}
}

// --- stage ---

func TestRunLog_StageEvent(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(dir)
	rl := r.Open("s1", "council")
	rl.Stage("brainstorm", "critique")
	r.Close("s1", "ok")
	for _, e := range readEvents(t, filepath.Join(dir, "s1.jsonl")) {
		if e.Kind == KindStage {
			if e.From != "brainstorm" || e.To != "critique" {
				t.Errorf("stage = %+v", e)
			}
			return
		}
	}
	t.Fatal("no stage event found")
}
