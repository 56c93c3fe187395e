package bus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultBufferSize is the per-subscriber ring capacity.
const DefaultBufferSize = 256

// Subscription is one consumer's view of the bus. Events arrive on C; when
// the buffer is full the oldest buffered event is dropped to make room.
type Subscription struct {
	id    string
	kinds map[Kind]struct{}
	ch    chan Event

	mu      sync.Mutex
	dropped int64
	closed  bool
}

// C returns the subscriber's event channel. The channel is closed when the
// subscription is cancelled or the bus shuts down.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Dropped reports how many events were discarded because the subscriber fell
// behind.
func (s *Subscription) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Subscription) wants(k Kind) bool {
	_, ok := s.kinds[k]
	return ok
}

// deliver enqueues without blocking, dropping the oldest buffered event on
// overflow.
func (s *Subscription) deliver(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
		return
	default:
	}
	select {
	case <-s.ch:
		s.dropped++
	default:
	}
	select {
	case s.ch <- ev:
	default:
		s.dropped++
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Bus is the in-process event bus. Safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	buffer int
	closed bool
}

// New creates a bus with the default per-subscriber buffer.
func New() *Bus {
	return NewWithBuffer(DefaultBufferSize)
}

// NewWithBuffer creates a bus whose subscribers buffer up to size events.
func NewWithBuffer(size int) *Bus {
	if size < 1 {
		size = 1
	}
	return &Bus{
		subs:   make(map[string]*Subscription),
		buffer: size,
	}
}

// Subscribe registers a consumer for the given kinds. No kinds means all
// kinds. The caller must Unsubscribe when done.
func (b *Bus) Subscribe(kinds ...Kind) *Subscription {
	if len(kinds) == 0 {
		kinds = AllKinds()
	}
	wanted := make(map[Kind]struct{}, len(kinds))
	for _, k := range kinds {
		wanted[k] = struct{}{}
	}
	sub := &Subscription{
		id:    uuid.New().String(),
		kinds: wanted,
		ch:    make(chan Event, b.buffer),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.close()
		return sub
	}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	delete(b.subs, sub.id)
	b.mu.Unlock()
	sub.close()
}

// Publish delivers an event to every subscriber interested in its kind.
// Never blocks: slow subscribers lose their oldest buffered events.
func (b *Bus) Publish(kind Kind, correlationID string, payload any) Event {
	ev := Event{
		ID:            uuid.New().String(),
		Kind:          kind,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Payload:       payload,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ev
	}
	for _, sub := range b.subs {
		if sub.wants(kind) {
			sub.deliver(ev)
		}
	}
	return ev
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close shuts the bus down and closes all subscriber channels. Publishing
// after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.subs = map[string]*Subscription{}
	b.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
	slog.Debug("Event bus closed", "subscribers", len(subs))
}
