// Package bus implements the dashboard broadcast fan-out.
//
// One publish reaches every observer joined at publish time. Observers join
// and leave concurrently with publishes; a publisher never blocks on a slow
// observer beyond the non-blocking enqueue to its outbound queue.
package bus

import (
	"log/slog"
	"sync"

	"github.com/mossfit/spc/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var droppedEvents = promauto.NewCounter(prometheus.CounterOpts{
	Name: "spc_dashboard_events_dropped_total",
	Help: "Events dropped because an observer queue was full.",
})

// DefaultQueueSize is the per-observer outbound queue depth used when the
// configured size is not positive.
const DefaultQueueSize = 16

// Subscription is one observer's membership in the broadcast group.
type Subscription struct {
	ch chan domain.DashboardEvent
}

// Events returns the observer's outbound queue. The channel is closed when
// the subscription leaves the bus.
func (s *Subscription) Events() <-chan domain.DashboardEvent {
	return s.ch
}

// Bus is a concurrent-safe observer registry with fan-out publish.
type Bus struct {
	mu        sync.RWMutex
	subs      map[*Subscription]struct{}
	queueSize int
	closed    bool
}

// New creates an empty bus.
func New(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{
		subs:      make(map[*Subscription]struct{}),
		queueSize: queueSize,
	}
}

// Join registers a new observer and returns its subscription. Events
// published before the join are never delivered to it.
func (b *Bus) Join() *Subscription {
	sub := &Subscription{ch: make(chan domain.DashboardEvent, b.queueSize)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Leave deregisters an observer and closes its queue. Safe to call more than
// once and concurrently with publishes.
func (b *Bus) Leave(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.ch)
}

// Publish delivers the event to every currently joined observer and returns
// the number of deliveries. An observer whose queue is full misses the event
// rather than stalling the publisher.
func (b *Bus) Publish(event domain.DashboardEvent) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for sub := range b.subs {
		select {
		case sub.ch <- event:
			delivered++
		default:
			droppedEvents.Inc()
			slog.Warn("dashboard observer queue full, dropping event", "event_type", event.Type)
		}
	}
	return delivered
}

// Len returns the number of joined observers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close deregisters all observers and rejects future joins.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub.ch)
	}
}
