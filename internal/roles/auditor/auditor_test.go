package auditor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/haricheung/overseer/internal/bus"
	"github.com/haricheung/overseer/internal/roles/memory"
	"github.com/haricheung/overseer/internal/types"
)

// startLog runs a Log until the test ends.
func startLog(t *testing.T, b *bus.Bus, store memory.Durable, bound int) *Log {
	t.Helper()
	l := New(b, store, bound)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go l.Run(ctx)
	return l
}

func appendN(t *testing.T, l *Log, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := l.Append(context.Background(), types.AuditEntry{
			ID:         fmt.Sprintf("e%02d", i),
			ActionType: types.ActionPublishAnnouncement,
			Details:    fmt.Sprintf("post %d", i),
			Outcome:    types.OutcomeExecuted,
		})
		if err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
}

func TestAppend_AssignsIDAndTimestamp(t *testing.T) {
	// Append assigns ID and CreatedAt when missing
	l := startLog(t, nil, nil, 0)
	e, err := l.Append(context.Background(), types.AuditEntry{ActionType: types.ActionUnknown})
	if err != nil {
		t.Fatal(err)
	}
	if e.ID == "" || e.CreatedAt.IsZero() {
		t.Errorf("entry = %+v", e)
	}
}

func TestAppend_BoundKeepsNewestFirst(t *testing.T) {
	// Appending 60 with bound 50: Recent(50) returns the 50 newest, newest first
	l := startLog(t, nil, nil, 50)
	appendN(t, l, 60)

	got := l.Recent(50)
	if len(got) != 50 {
		t.Fatalf("len = %d, want 50", len(got))
	}
	for i, e := range got {
		want := fmt.Sprintf("e%02d", 59-i)
		if e.ID != want {
			t.Fatalf("got[%d] = %s, want %s", i, e.ID, want)
		}
	}
	if l.Len() != 50 {
		t.Errorf("Len = %d, want 50", l.Len())
	}
	for _, e := range l.Recent(0) {
		if e.ID < "e10" {
			t.Errorf("evicted entry %s still reachable", e.ID)
		}
	}
}

func TestRecent_ReturnsCopy(t *testing.T) {
	l := startLog(t, nil, nil, 5)
	appendN(t, l, 2)
	got := l.Recent(0)
	got[0].Details = "tampered"
	if l.Recent(1)[0].Details == "tampered" {
		t.Error("Recent must return a copy")
	}
}

func TestAppend_PersistsAndLoads(t *testing.T) {
	// Every append is persisted through the durable store when one is configured
	store, err := memory.OpenLevel(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	l := startLog(t, nil, store, 3)
	appendN(t, l, 5)

	reloaded := New(nil, store, 3)
	if err := reloaded.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	got := reloaded.Recent(0)
	if len(got) != 3 || got[0].ID != "e04" || got[2].ID != "e02" {
		t.Errorf("reloaded = %+v", got)
	}
}

func TestAppend_PublishesEvent(t *testing.T) {
	// Each append publishes MsgAuditAppended
	b := bus.New()
	sub := b.Subscribe(types.MsgAuditAppended)
	l := startLog(t, b, nil, 0)
	appendN(t, l, 1)
	select {
	case msg := <-sub:
		if e, ok := msg.Payload.(types.AuditEntry); !ok || e.ID != "e00" {
			t.Errorf("payload = %+v", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no MsgAuditAppended published")
	}
}

func TestContext_EmptyAndPopulated(t *testing.T) {
	l := startLog(t, nil, nil, 0)
	if got := l.Context(10); got != "No actions have been taken yet." {
		t.Errorf("empty context = %q", got)
	}
	_, _ = l.Append(context.Background(), types.AuditEntry{ActionType: types.ActionCreateFlashCampaign, Details: "Rejected: Flash campaign", Outcome: types.OutcomeRejected})
	_, _ = l.Append(context.Background(), types.AuditEntry{ActionType: types.ActionPublishAnnouncement, Details: `Published "Hi"`, Outcome: types.OutcomeExecuted})
	got := l.Context(10)
	for _, want := range []string{"[executed] publish_announcement", "[rejected] create_flash_campaign", "Last executed action type: publish_announcement"} {
		if !strings.Contains(got, want) {
			t.Errorf("context missing %q:\n%s", want, got)
		}
	}
	if strings.Index(got, "publish_announcement") > strings.Index(got, "create_flash_campaign") {
		t.Errorf("context not newest first:\n%s", got)
	}
}

func TestAppend_AfterWriterStoppedFails(t *testing.T) {
	// Append after Run has returned fails with ErrStopped instead of blocking
	l := New(nil, nil, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l.Run(ctx)

	done := make(chan error, 1)
	go func() {
		_, err := l.Append(context.WithoutCancel(ctx), types.AuditEntry{ActionType: types.ActionUnknown})
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, ErrStopped) {
			t.Errorf("err = %v, want ErrStopped", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Append blocked after the writer exited")
	}
	if l.Len() != 0 {
		t.Errorf("Len = %d, want 0", l.Len())
	}
}

func TestRun_DrainsQueuedBeforeStopping(t *testing.T) {
	l := New(nil, nil, 0)
	for i := 0; i < 3; i++ {
		l.writeCh <- appendReq{entry: types.AuditEntry{ID: fmt.Sprintf("q%d", i)}, ack: make(chan struct{})}
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l.Run(ctx)
	if l.Len() != 3 {
		t.Errorf("Len = %d, want 3 drained entries", l.Len())
	}
}
