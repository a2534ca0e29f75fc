// Package callback serves the page the external OAuth redirect lands on and
// fans its results out to in-process subscribers.
// file: internal/callback/broker.go
package callback

import (
	"sync"
	"time"

	"github.com/dkoosis/norbert/internal/logging"
)

// Connection results carried by the callback URL.
const (
	ConnectionSuccess = "success"
	ConnectionFailed  = "failed"
)

// Event is one hit on the callback page.
type Event struct {
	Connection string    `json:"connection"`
	Provider   string    `json:"provider"`
	Success    bool      `json:"success"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Broker delivers events to every subscriber without blocking the publisher.
// A subscriber whose buffer is full misses the event.
type Broker struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
	buffer int
	logger logging.Logger
}

// NewBroker creates a broker whose subscriber channels hold buffer events.
func NewBroker(buffer int, logger logging.Logger) *Broker {
	if logger == nil {
		logger = logging.GetNoopLogger()
	}
	if buffer <= 0 {
		buffer = 8
	}
	return &Broker{
		subs:   make(map[int]chan Event),
		buffer: buffer,
		logger: logger.WithField("component", "callback_broker"),
	}
}

// Subscribe returns a channel of events and a function that unsubscribes and
// closes the channel. The cancel function is safe to call repeatedly.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// Publish delivers e to all current subscribers.
func (b *Broker) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.logger.Warn("Dropping callback event for slow subscriber.", "subscriber", id, "provider", e.Provider)
		}
	}
}

// Close closes every subscriber channel. Later subscriptions get a closed channel.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
