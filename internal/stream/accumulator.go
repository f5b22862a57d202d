// Package stream accumulates generation fragments per request and republishes the
// growing text for live display.
//
// Buffers are keyed by request identity (advisor id, session id, cycle id); there is
// no shared global buffer, so concurrent streams never interleave.
package stream

import (
	"context"
	"strings"
	"sync"

	"github.com/haricheung/overseer/internal/bus"
	"github.com/haricheung/overseer/internal/types"
)

// Accumulator holds one mutable buffer per request id.
//
// Expectations:
//   - OnFragment appends to the buffer for requestID only and returns its full text
//   - OnFragment publishes MsgStreamFragment with the current full text
//   - Fragments arriving after OnComplete still append (last write wins)
//   - Reset clears a single request's buffer without touching others
//   - Concurrent OnFragment calls for different ids never drop fragments
type Accumulator struct {
	b    *bus.Bus
	from types.Role

	mu   sync.Mutex
	bufs map[string]*strings.Builder
}

// New creates an Accumulator publishing on b (which may be nil) as role from.
func New(b *bus.Bus, from types.Role) *Accumulator {
	return &Accumulator{
		b:    b,
		from: from,
		bufs: make(map[string]*strings.Builder),
	}
}

// OnFragment appends fragment to the request's buffer and returns the full text.
func (a *Accumulator) OnFragment(requestID, fragment string) string {
	a.mu.Lock()
	buf, ok := a.bufs[requestID]
	if !ok {
		buf = &strings.Builder{}
		a.bufs[requestID] = buf
	}
	buf.WriteString(fragment)
	text := buf.String()
	a.mu.Unlock()

	a.b.Emit(a.from, types.RoleUser, types.MsgStreamFragment, types.StreamUpdate{
		RequestID: requestID,
		Text:      text,
		Fragment:  fragment,
	})
	return text
}

// OnComplete publishes MsgStreamComplete and returns the buffered text.
func (a *Accumulator) OnComplete(requestID string) string {
	a.mu.Lock()
	text := ""
	if buf, ok := a.bufs[requestID]; ok {
		text = buf.String()
	}
	a.mu.Unlock()

	a.b.Emit(a.from, types.RoleUser, types.MsgStreamComplete, types.StreamUpdate{RequestID: requestID, Text: text})
	return text
}

// Reset drops the buffer for requestID so a retry starts empty.
func (a *Accumulator) Reset(requestID string) {
	a.mu.Lock()
	delete(a.bufs, requestID)
	a.mu.Unlock()
}

// Consume drains a fragment stream into the request's buffer, calling onText (if
// non-nil) with the full text after every fragment. It returns the final text and
// the stream error, if any. The partial text is kept when the stream fails.
func (a *Accumulator) Consume(ctx context.Context, requestID string, frags <-chan string, errs <-chan error, onText func(string)) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return a.OnComplete(requestID), ctx.Err()
		case f, ok := <-frags:
			if !ok {
				var err error
				if errs != nil {
					err = <-errs
				}
				return a.OnComplete(requestID), err
			}
			text := a.OnFragment(requestID, f)
			if onText != nil {
				onText(text)
			}
		}
	}
}
