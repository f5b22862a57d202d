package bus

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haricheung/overseer/internal/types"
)

const (
	subscriberBufSize = 64
	tapBufSize        = 256
)

// Bus is the observable message bus. Every pipeline stage publishes on it so the
// UI and the task log can follow a cycle without being wired into it.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[types.MessageType][]chan types.Message
	taps        []chan types.Message
}

// New creates a new Bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[types.MessageType][]chan types.Message),
	}
}

// Publish fans out msg to all subscribers of msg.Type and to every tap.
// Non-blocking: if a subscriber's channel is full, the message is dropped with a warning.
// A nil *Bus is a valid no-op publisher.
func (b *Bus) Publish(msg types.Message) {
	if b == nil {
		return
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	subs := b.subscribers[msg.Type]
	taps := b.taps
	b.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- msg:
		default:
			log.Printf("[BUS] WARNING: subscriber channel full for type=%s from=%s — message dropped", msg.Type, msg.From)
		}
	}

	// Stream fragments are high-volume; a slow tap must never stall a stream.
	for _, ch := range taps {
		select {
		case ch <- msg:
		default:
			if msg.Type != types.MsgStreamFragment {
				log.Printf("[BUS] WARNING: tap channel full — message dropped type=%s", msg.Type)
			}
		}
	}
}

// Emit is shorthand for publishing a payload with a fresh envelope.
func (b *Bus) Emit(from, to types.Role, t types.MessageType, payload any) {
	b.Publish(types.Message{From: from, To: to, Type: t, Payload: payload})
}

// Subscribe returns a receive-only channel that delivers messages of type t.
// Each call creates a new independent subscriber channel.
func (b *Bus) Subscribe(t types.MessageType) <-chan types.Message {
	ch := make(chan types.Message, subscriberBufSize)
	b.mu.Lock()
	b.subscribers[t] = append(b.subscribers[t], ch)
	b.mu.Unlock()
	return ch
}

// NewTap returns a read-only channel receiving every published message.
// Each call creates an independent tap (UI, task log).
func (b *Bus) NewTap() <-chan types.Message {
	ch := make(chan types.Message, tapBufSize)
	b.mu.Lock()
	b.taps = append(b.taps, ch)
	b.mu.Unlock()
	return ch
}
