package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/haricheung/overseer/internal/bus"
	"github.com/haricheung/overseer/internal/types"
)

func TestOnFragment_AppendsPerRequest(t *testing.T) {
	// OnFragment appends to the buffer for requestID only and returns its full text
	a := New(nil, types.RoleStream)
	a.OnFragment("a", "Hel")
	a.OnFragment("b", "X")
	if got := a.OnFragment("a", "lo"); got != "Hello" {
		t.Errorf("a = %q, want Hello", got)
	}
	if got := a.OnComplete("b"); got != "X" {
		t.Errorf("b = %q, want X", got)
	}
}

func TestOnFragment_PublishesFullText(t *testing.T) {
	// OnFragment publishes MsgStreamFragment with the current full text
	b := bus.New()
	sub := b.Subscribe(types.MsgStreamFragment)
	a := New(b, types.RoleStream)
	a.OnFragment("r1", "ab")
	a.OnFragment("r1", "cd")
	<-sub
	msg := <-sub
	up, ok := msg.Payload.(types.StreamUpdate)
	if !ok {
		t.Fatalf("payload type %T", msg.Payload)
	}
	if up.Text != "abcd" || up.Fragment != "cd" || up.RequestID != "r1" {
		t.Errorf("update = %+v", up)
	}
}

func TestOnFragment_AfterCompleteStillAppends(t *testing.T) {
	// Fragments arriving after OnComplete still append (last write wins)
	a := New(nil, types.RoleStream)
	a.OnFragment("r", "one")
	if got := a.OnComplete("r"); got != "one" {
		t.Errorf("complete = %q", got)
	}
	a.OnFragment("r", " two")
	if got := a.OnComplete("r"); got != "one two" {
		t.Errorf("text = %q, want %q", got, "one two")
	}
}

func TestReset_ClearsSingleRequest(t *testing.T) {
	// Reset clears a single request's buffer without touching others
	a := New(nil, types.RoleStream)
	a.OnFragment("a", "keep")
	a.OnFragment("b", "drop")
	a.Reset("b")
	if a.OnComplete("b") != "" {
		t.Error("expected b cleared")
	}
	if a.OnComplete("a") != "keep" {
		t.Error("expected a untouched")
	}
}

func TestOnFragment_ConcurrentRequestsNoDrops(t *testing.T) {
	// Concurrent OnFragment calls for different ids never drop fragments
	a := New(nil, types.RoleStream)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("adv-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				a.OnFragment(id, "x")
			}
		}()
	}
	wg.Wait()
	for i := 0; i < 8; i++ {
		if got := len(a.OnComplete(fmt.Sprintf("adv-%d", i))); got != 100 {
			t.Errorf("adv-%d len = %d, want 100", i, got)
		}
	}
}

func TestConsume_ReturnsTextAndError(t *testing.T) {
	a := New(nil, types.RoleStream)
	frags := make(chan string, 2)
	errs := make(chan error, 1)
	frags <- "part"
	frags <- "ial"
	errs <- errors.New("boom")
	close(frags)
	close(errs)

	var seen []string
	text, err := a.Consume(context.Background(), "r", frags, errs, func(s string) { seen = append(seen, s) })
	if text != "partial" {
		t.Errorf("text = %q, want partial", text)
	}
	if err == nil {
		t.Error("expected stream error")
	}
	if len(seen) != 2 || seen[1] != "partial" {
		t.Errorf("onText calls = %v", seen)
	}
}
