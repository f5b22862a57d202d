package bus

import (
	"testing"

	"github.com/haricheung/overseer/internal/types"
)

func TestPublish_DeliversToSubscriberAndTap(t *testing.T) {
	// Publish fans out to subscribers of the type and to every tap
	b := New()
	sub := b.Subscribe(types.MsgAuditAppended)
	tap := b.NewTap()

	b.Emit(types.RoleAuditor, types.RoleUser, types.MsgAuditAppended, "x")

	select {
	case msg := <-sub:
		if msg.Type != types.MsgAuditAppended {
			t.Errorf("type = %q, want %q", msg.Type, types.MsgAuditAppended)
		}
		if msg.ID == "" || msg.Timestamp.IsZero() {
			t.Error("expected Publish to stamp id and timestamp")
		}
	default:
		t.Fatal("subscriber did not receive message")
	}
	select {
	case <-tap:
	default:
		t.Fatal("tap did not receive message")
	}
}

func TestPublish_IgnoresOtherTypes(t *testing.T) {
	// Subscribers only see their own message type
	b := New()
	sub := b.Subscribe(types.MsgApprovalQueued)
	b.Emit(types.RoleAuditor, types.RoleUser, types.MsgAuditAppended, nil)
	select {
	case msg := <-sub:
		t.Errorf("unexpected message %q", msg.Type)
	default:
	}
}

func TestPublish_FullSubscriberDoesNotBlock(t *testing.T) {
	// A full subscriber channel drops the message instead of blocking the publisher
	b := New()
	_ = b.Subscribe(types.MsgStreamFragment)
	for i := 0; i < subscriberBufSize+10; i++ {
		b.Emit(types.RoleStream, types.RoleUser, types.MsgStreamFragment, i)
	}
}

func TestPublish_NilBusIsNoop(t *testing.T) {
	// A nil *Bus accepts publishes silently
	var b *Bus
	b.Emit(types.RoleUser, types.RoleUser, types.MsgCycleBegin, nil)
}
