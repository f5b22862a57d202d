package executor

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haricheung/overseer/internal/platform"
	"github.com/haricheung/overseer/internal/types"
)

// memRecorder collects appended entries in order.
type memRecorder struct {
	mu      sync.Mutex
	entries []types.AuditEntry
}

func (m *memRecorder) Append(_ context.Context, e types.AuditEntry) (types.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return e, nil
}

// panicUsers is a users surface whose update always panics mid-mutation.
type panicUsers struct{ platform.Collection[platform.User] }

func (panicUsers) Update(func([]platform.User) ([]platform.User, error)) error {
	panic("storage exploded")
}

func newEngine() (*Engine, *platform.State, *memRecorder) {
	st := platform.NewState(platform.Seed{
		Users: []platform.User{
			{ID: "u1", Name: "Ada", Points: 100, Segment: "vip"},
			{ID: "u2", Name: "Linus", Points: 10, Segment: "new"},
			{ID: "u3", Name: "Grace", Points: 0, Segment: "new"},
		},
		Navigation: []platform.NavCategory{{Name: "Community", Entries: []platform.NavEntry{{Title: "Feed", ViewName: "feed"}}}},
	})
	rec := &memRecorder{}
	return New(st, rec), st, rec
}

func cmd(t types.ActionType, params map[string]any) types.Command {
	return types.Command{Type: t, Params: params}
}

func TestExecute_GrantPointsSegment(t *testing.T) {
	// Each known action type mutates its platform surface and records one executed entry
	e, st, rec := newEngine()
	got := e.Execute(context.Background(), cmd(types.ActionMassGrantPoints, map[string]any{"amount": 50, "targetSegment": "new", "reason": "welcome"}), types.SourceManual)

	if got.Outcome != types.OutcomeExecuted || got.ActionType != types.ActionMassGrantPoints {
		t.Fatalf("entry = %+v", got)
	}
	// Details include counts (e.g. "N users affected")
	if !strings.Contains(got.Details, "2 users affected") {
		t.Errorf("details = %q", got.Details)
	}
	pts := map[string]int{}
	for _, u := range st.Users.Current() {
		pts[u.ID] = u.Points
	}
	if pts["u1"] != 100 || pts["u2"] != 60 || pts["u3"] != 50 {
		t.Errorf("points = %v", pts)
	}
	if len(rec.entries) != 1 || rec.entries[0].ID == "" {
		t.Errorf("recorded = %+v", rec.entries)
	}
}

func TestExecute_GrantPointsAll(t *testing.T) {
	e, _, _ := newEngine()
	got := e.Execute(context.Background(), cmd(types.ActionMassGrantPoints, map[string]any{"amount": 5, "targetSegment": "all"}), types.SourceAutopilot)
	if !strings.Contains(got.Details, "3 users affected") {
		t.Errorf("details = %q", got.Details)
	}
}

func TestExecute_PublishAnnouncement(t *testing.T) {
	e, st, _ := newEngine()
	got := e.Execute(context.Background(), cmd(types.ActionPublishAnnouncement, map[string]any{"title": "Spring", "content": "Hello"}), types.SourceAutopilot)
	if got.Outcome != types.OutcomeExecuted {
		t.Fatalf("entry = %+v", got)
	}
	posts := st.Posts.Current()
	if len(posts) != 1 || posts[0].Title != "Spring" || posts[0].Content != "Hello" {
		t.Errorf("posts = %+v", posts)
	}
}

func TestExecute_CreateCampaign(t *testing.T) {
	e, st, _ := newEngine()
	got := e.Execute(context.Background(), cmd(types.ActionCreateFlashCampaign, map[string]any{"name": "Relief", "goalAmount": 5000}), types.SourceCouncil)
	if got.Outcome != types.OutcomeExecuted || got.Source != types.SourceCouncil {
		t.Fatalf("entry = %+v", got)
	}
	cs := st.Campaigns.Current()
	if len(cs) != 1 || cs[0].GoalAmount != 5000 {
		t.Errorf("campaigns = %+v", cs)
	}
}

func TestExecute_UpdateNavigation(t *testing.T) {
	e, st, _ := newEngine()
	got := e.Execute(context.Background(), cmd(types.ActionUpdateSiteNavigation, map[string]any{
		"category": "community", "title": "Mentors", "viewName": "mentors", "iconName": "users",
	}), types.SourceManual)
	if got.Outcome != types.OutcomeExecuted || !strings.Contains(got.Details, "(2 entries)") {
		t.Fatalf("entry = %+v", got)
	}
	nav := st.Navigation.Current()
	if len(nav) != 1 || len(nav[0].Entries) != 2 || nav[0].Entries[1].ViewName != "mentors" {
		t.Errorf("nav = %+v", nav)
	}
}

func TestExecute_DuplicateNavigationFails(t *testing.T) {
	// A handler error records one failed entry and leaves state untouched
	e, st, rec := newEngine()
	got := e.Execute(context.Background(), cmd(types.ActionUpdateSiteNavigation, map[string]any{"category": "Community", "title": "Feed", "viewName": "feed"}), types.SourceManual)
	if got.Outcome != types.OutcomeFailed {
		t.Fatalf("entry = %+v", got)
	}
	if n := len(st.Navigation.Current()[0].Entries); n != 1 {
		t.Errorf("entries = %d, want 1", n)
	}
	if len(rec.entries) != 1 {
		t.Errorf("recorded %d entries, want 1", len(rec.entries))
	}
}

func TestExecute_InvalidAmountFails(t *testing.T) {
	e, st, _ := newEngine()
	got := e.Execute(context.Background(), cmd(types.ActionMassGrantPoints, map[string]any{"amount": -10}), types.SourceManual)
	if got.Outcome != types.OutcomeFailed {
		t.Errorf("outcome = %s, want failed", got.Outcome)
	}
	if st.Users.Current()[0].Points != 100 {
		t.Error("points changed on failed grant")
	}
}

func TestExecute_UnknownAction(t *testing.T) {
	// An action type with no handler records one entry tagged unknown and mutates nothing
	e, _, rec := newEngine()
	got := e.Execute(context.Background(), types.Command{Type: "teleport_users"}, types.SourceAutopilot)
	if got.ActionType != types.ActionUnknown || got.Outcome != types.OutcomeUnknown {
		t.Errorf("entry = %+v", got)
	}
	if !strings.Contains(got.Details, "teleport_users") {
		t.Errorf("details = %q", got.Details)
	}
	if len(rec.entries) != 1 {
		t.Errorf("recorded %d entries, want 1", len(rec.entries))
	}
}

func TestExecute_PanicRecovered(t *testing.T) {
	// A handler panic is recovered and recorded as one failed entry
	e, st, rec := newEngine()
	st.Users = panicUsers{st.Users}
	got := e.Execute(context.Background(), cmd(types.ActionMassGrantPoints, map[string]any{"amount": 1}), types.SourceAutopilot)
	if got.Outcome != types.OutcomeFailed || !strings.Contains(got.Details, "panicked") {
		t.Errorf("entry = %+v", got)
	}
	if len(rec.entries) != 1 {
		t.Errorf("recorded %d entries, want 1", len(rec.entries))
	}
}

func TestReject_RecordsLabelWithoutExecuting(t *testing.T) {
	// Reject records one rejected entry naming the action's label and never executes it
	e, st, rec := newEngine()
	got := e.Reject(context.Background(), cmd(types.ActionCreateFlashCampaign, map[string]any{"name": "X"}), types.SourceManual)
	if got.Outcome != types.OutcomeRejected || got.ActionType != types.ActionCreateFlashCampaign {
		t.Errorf("entry = %+v", got)
	}
	if got.Details != "Rejected: Flash campaign" {
		t.Errorf("details = %q", got.Details)
	}
	if len(st.Campaigns.Current()) != 0 || len(rec.entries) != 1 {
		t.Error("reject must not execute")
	}
}

func TestExecute_CountsOutcomes(t *testing.T) {
	e, _, _ := newEngine()
	ok := metricActions.WithLabelValues(string(types.ActionPublishAnnouncement), string(types.OutcomeExecuted))
	unknown := metricActions.WithLabelValues(string(types.ActionUnknown), string(types.OutcomeUnknown))
	okBefore, unknownBefore := testutil.ToFloat64(ok), testutil.ToFloat64(unknown)

	e.Execute(context.Background(), cmd(types.ActionPublishAnnouncement, map[string]any{"title": "Hi", "content": "All"}), types.SourceManual)
	e.Execute(context.Background(), cmd("teleport_users", nil), types.SourceManual)

	if got := testutil.ToFloat64(ok) - okBefore; got != 1 {
		t.Errorf("executed delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(unknown) - unknownBefore; got != 1 {
		t.Errorf("unknown delta = %v, want 1", got)
	}
}
