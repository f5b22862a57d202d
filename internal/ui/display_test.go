package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/mattn/go-runewidth"

	"github.com/haricheung/overseer/internal/types"
)

func makeMsg(t types.MessageType, payload any) types.Message {
	return types.Message{Type: t, Payload: payload, From: types.RoleAuditor, To: types.RoleUser}
}

// --- msgDetail ---

func TestMsgDetail_ApprovalQueued(t *testing.T) {
	p := types.PendingApproval{ID: "0123456789abcdef", Command: types.Command{Type: types.ActionMassGrantPoints}}
	got := msgDetail(makeMsg(types.MsgApprovalQueued, p))
	if got != "01234567 Mass point grant needs approval" {
		t.Errorf("got %q", got)
	}
}

func TestMsgDetail_ApprovalResolvedShowsOutcome(t *testing.T) {
	r := resolution{
		Pending: types.PendingApproval{ID: "p1", Command: types.Command{Type: types.ActionCreateFlashCampaign, Label: "Relief drive"}},
		Entry:   types.AuditEntry{Outcome: types.OutcomeRejected},
	}
	got := msgDetail(makeMsg(types.MsgApprovalResolved, r))
	if got != "p1 Relief drive → rejected" {
		t.Errorf("got %q", got)
	}
}

func TestMsgDetail_AuditAppended(t *testing.T) {
	e := types.AuditEntry{ActionType: types.ActionPublishAnnouncement, Outcome: types.OutcomeExecuted, Details: "Published"}
	got := msgDetail(makeMsg(types.MsgAuditAppended, e))
	if got != "[executed] publish_announcement: Published" {
		t.Errorf("got %q", got)
	}
}

func TestMsgDetail_StageChanged(t *testing.T) {
	got := msgDetail(makeMsg(types.MsgStageChanged, types.StageChange{From: "assembly", To: "brainstorm"}))
	if got != "assembly → brainstorm" {
		t.Errorf("got %q", got)
	}
}

func TestMsgDetail_UnknownType(t *testing.T) {
	// Returns "" for unknown or unparseable message types
	if got := msgDetail(makeMsg("UnknownMessageType", nil)); got != "" {
		t.Errorf("expected empty string for unknown type, got %q", got)
	}
}

// --- dynamicStatus ---

func TestDynamicStatus_StreamFragmentShowsTail(t *testing.T) {
	text := strings.Repeat("word ", 40) + "\nfinal line"
	got := dynamicStatus(makeMsg(types.MsgStreamFragment, types.StreamUpdate{Text: text}))
	if !strings.HasSuffix(got, "final line") {
		t.Errorf("expected tail of text, got %q", got)
	}
	if strings.Contains(got, "\n") {
		t.Errorf("status must be a single line, got %q", got)
	}
}

// --- clip / tail ---

func TestClip_CountsColumnsNotRunes(t *testing.T) {
	got := clip("重新执行命令文件", 6)
	if w := runewidth.StringWidth(got); w > 6 {
		t.Errorf("width = %d, want <= 6 (%q)", w, got)
	}
	if !strings.HasSuffix(got, "…") {
		t.Errorf("expected ellipsis, got %q", got)
	}
}

func TestClip_ShortUnchanged(t *testing.T) {
	if got := clip("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
}

func TestTail_KeepsEnd(t *testing.T) {
	got := tail("abcdefghij", 5)
	if got != "…ghij" {
		t.Errorf("got %q, want …ghij", got)
	}
	if got := tail("abc", 5); got != "abc" {
		t.Errorf("got %q", got)
	}
}

// --- rendering ---

func TestHandle_CycleBox(t *testing.T) {
	var buf bytes.Buffer
	d := &Display{out: &buf}
	d.handle(types.Message{Type: types.MsgCycleBegin, From: types.RoleScheduler, Payload: "abcdef0123456789"})
	d.handle(makeMsg(types.MsgAuditAppended, types.AuditEntry{ActionType: types.ActionPublishAnnouncement, Outcome: types.OutcomeExecuted, Details: "ok"}))
	d.handle(types.Message{Type: types.MsgCycleComplete, Payload: types.CycleReport{
		Prose:    "Quiet week.",
		Executed: []types.AuditEntry{{ID: "e1"}},
	}})

	out := buf.String()
	for _, want := range []string{"overseer cycle", "abcdef01", "[executed] publish_announcement: ok", "1 executed, 0 queued", "Quiet week."} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if d.inCycle {
		t.Error("expected cycle closed")
	}
}

func TestHandle_DegradedCycle(t *testing.T) {
	var buf bytes.Buffer
	d := &Display{out: &buf}
	d.handle(types.Message{Type: types.MsgCycleBegin, Payload: "c1"})
	d.handle(types.Message{Type: types.MsgCycleComplete, Payload: types.CycleReport{Degraded: true}})
	if !strings.Contains(buf.String(), "degraded") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestHandle_PlanReadyHiddenUnlessVerbose(t *testing.T) {
	var buf bytes.Buffer
	d := &Display{out: &buf}
	d.handle(types.Message{Type: types.MsgPlanReady, Payload: planSummary{Commands: make([]types.Command, 2)}})
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
	d.verbose = true
	d.handle(types.Message{Type: types.MsgPlanReady, Payload: planSummary{Commands: make([]types.Command, 2)}})
	if !strings.Contains(buf.String(), "2 commands") {
		t.Errorf("output = %q", buf.String())
	}
}
