// Package events fans committed state changes out to subscribers such as the
// WebSocket stream. Publishing never blocks the engine.
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/ThorbenD/dvp-market/domain"
)

const DefaultBuffer = 64

// Bus delivers events to every open subscription.
type Bus struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	dropped atomic.Uint64
	logger  *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[*Subscription]struct{}),
		logger: logger,
	}
}

// Subscription is a single consumer's view of the bus.
type Subscription struct {
	bus    *Bus
	ch     chan domain.Event
	filter func(domain.Event) bool
	once   sync.Once
}

// C returns the channel events arrive on. It is closed by Close.
func (s *Subscription) C() <-chan domain.Event {
	return s.ch
}

// Close detaches the subscription and closes its channel. Safe to call twice.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		close(s.ch)
	})
}

// Subscribe opens a subscription with the given buffer size. A nil filter
// accepts every event.
func (b *Bus) Subscribe(buffer int, filter func(domain.Event) bool) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	s := &Subscription{
		bus:    b,
		ch:     make(chan domain.Event, buffer),
		filter: filter,
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Publish implements store.Publisher. Subscribers whose buffer is full miss
// the event; the loss is counted in Dropped.
func (b *Bus) Publish(e domain.Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if s.filter != nil && !s.filter(e) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
			b.logger.Warn("[Events] subscriber buffer full, dropping event", "kind", e.Kind, "event_id", e.ID)
		}
	}
}

// Dropped is the number of deliveries lost to full buffers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Subscribers is the number of open subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// ForPrincipal accepts events that move something to or from p.
func ForPrincipal(p domain.Principal) func(domain.Event) bool {
	return func(e domain.Event) bool {
		return e.From.Equal(p) || e.To.Equal(p)
	}
}
