// Package eventbus routes orchestrator stage-transition events to the
// operator websocket feed, keyed by stage name.
package eventbus

import (
	"sync"
	"time"
)

// Event is a match-lifecycle state transition, one per orchestrator stage
// change (Discovered, Building, Verifying, AssetChecking, Packing,
// Submitted, Completed, Reverted, Rejected).
type Event struct {
	Type      string // the stage name, e.g. "Verifying", "Rejected"
	ChainID   uint64
	MatchID   string
	Timestamp time.Time
	Data      interface{} // stage-specific payload, e.g. a model.Rejection on "Rejected"
}

// replayDepth bounds how many recent events per stage a Bus retains for
// Replay, so a dashboard client that connects mid-pipeline can see where
// in-flight matches currently stand instead of starting from a blank feed.
const replayDepth = 32

// Bus is an in-process pub/sub router keyed by event type (stage name).
// Alongside live fan-out it keeps a bounded ring of the most recent
// events per type, so a newly-registered subscriber can be caught up on
// the current state of the world before it starts receiving live events.
// Safe for concurrent use.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan<- Event
	recent      map[string][]Event
	closed      bool
}

// New creates a new Bus ready for use.
func New() *Bus {
	return &Bus{
		subscribers: make(map[string][]chan<- Event),
		recent:      make(map[string][]Event),
	}
}

// Subscribe registers a channel to receive events of the given type. The
// caller owns the channel's buffer capacity; a slow subscriber has events
// dropped rather than stalling the publisher.
func (b *Bus) Subscribe(eventType string, ch chan<- Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)
}

// Replay returns a copy of the most recent events published for
// eventType (oldest first, capped at replayDepth), for a subscriber that
// wants to catch up on current state immediately after Subscribe.
func (b *Bus) Replay(eventType string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	buf := b.recent[eventType]
	out := make([]Event, len(buf))
	copy(out, buf)
	return out
}

// Publish fans evt out to every subscriber registered for evt.Type and
// appends it to that type's replay ring. If a subscriber's channel is
// full the event is dropped for that subscriber only. A no-op after Close.
func (b *Bus) Publish(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	buf := append(b.recent[evt.Type], evt)
	if len(buf) > replayDepth {
		buf = buf[len(buf)-replayDepth:]
	}
	b.recent[evt.Type] = buf

	for _, ch := range b.subscribers[evt.Type] {
		select {
		case ch <- evt:
		default:
			// drop if subscriber is slow
		}
	}
}

// Close marks the bus as closed. After Close, Publish is a no-op. Close
// does not close subscriber channels; that is the caller's responsibility.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}
