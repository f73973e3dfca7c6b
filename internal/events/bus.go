// Package events is the in-process channel the core publishes into.
// Notification clients (dashboard SSE, webhook sinks) subscribe to it; the
// core never waits on them.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Type names an event kind.
type Type string

const (
	TypeRoleChanged      Type = "role_changed"
	TypeLeaseLost        Type = "lease_lost"
	TypeTakeover         Type = "writer_takeover"
	TypeMessagesInserted Type = "messages_inserted"
	TypeCollectCompleted Type = "collect_completed"
	TypeFileChanged      Type = "file_changed"
)

// Event is one notification.
type Event struct {
	Type      Type   `json:"type"`
	At        int64  `json:"at"` // ms
	SessionID string `json:"session_id,omitempty"`
	ProjectID int64  `json:"project_id,omitempty"`
	Path      string `json:"path,omitempty"`
	Role      string `json:"role,omitempty"`
	Count     int    `json:"count,omitempty"`
	Errors    int    `json:"errors,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

// Bus fans events out to subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses the event. A nil *Bus is valid
// and drops everything.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]*Subscription
	nextID  uint64
	dropped atomic.Int64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*Subscription)}
}

// Subscription receives events matching its type filter.
type Subscription struct {
	id    uint64
	ch    chan Event
	types map[Type]bool
	bus   *Bus
	once  sync.Once
}

// Subscribe registers a subscriber. With no types it receives everything.
func (b *Bus) Subscribe(buffer int, types ...Type) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	sub := &Subscription{ch: make(chan Event, buffer), bus: b}
	if len(types) > 0 {
		sub.types = make(map[Type]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	b.mu.Lock()
	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	b.mu.Unlock()
	return sub
}

// C returns the receive side of the subscription.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Close unregisters the subscriber and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s.id)
		close(s.ch)
		s.bus.mu.Unlock()
	})
}

// Publish delivers e to every matching subscriber without blocking.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.At == 0 {
		e.At = time.Now().UnixMilli()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.types != nil && !sub.types[e.Type] {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber
// was full.
func (b *Bus) Dropped() int64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}
