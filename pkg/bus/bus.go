// Package bus fans processing outcomes out to in-process observers —
// dashboards, the SSE stream, and the escalation notifier.
package bus

import (
	"encoding/json"
	"sync"
	"time"
)

// Event types published on the bus.
const (
	EventOutcome = "outcome" // a processed inbound message
	EventStatus  = "status"  // monitor/daemon lifecycle info
	EventError   = "error"   // pipeline error notification
)

// Outcome is the structured record every processed event yields. Nothing
// is dropped without one: suppressed duplicates, escalations and failed
// deliveries all produce an Outcome with a reason.
type Outcome struct {
	ID        string `json:"id"`
	ThreadID  string `json:"thread_id"`
	MessageID string `json:"message_id"`
	Action    string `json:"action"` // send, escalate, suppress, failed
	Reason    string `json:"reason,omitempty"`
	Intent    string `json:"intent,omitempty"`
	Channel   string `json:"channel,omitempty"` // delivery channel used
	Elapsed   string `json:"elapsed,omitempty"`
}

// Event is a single bus event.
type Event struct {
	Type    string   `json:"type"`
	Outcome *Outcome `json:"outcome,omitempty"`
	Message string   `json:"message,omitempty"`
	TS      string   `json:"ts"`
}

// MarshalEvent serializes an event to JSON with timestamp.
func (e Event) MarshalEvent() []byte {
	if e.TS == "" {
		e.TS = time.Now().Format(time.RFC3339)
	}
	b, _ := json.Marshal(e)
	return b
}

type subscriber struct {
	ch   chan Event
	done chan struct{}
}

// Bus fans out events to all subscribers. Thread-safe. Publish never
// blocks; subscribers that fall behind miss events and catch up through
// the recent buffer.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}

	recentMu  sync.RWMutex
	recent    []Event
	maxRecent int
}

// New creates an empty bus keeping the last 200 events for late joiners.
func New() *Bus {
	return &Bus{
		subscribers: make(map[*subscriber]struct{}),
		maxRecent:   200,
	}
}

// Publish sends an event to all subscribers without blocking.
func (b *Bus) Publish(e Event) {
	if e.TS == "" {
		e.TS = time.Now().Format(time.RFC3339)
	}

	b.recentMu.Lock()
	b.recent = append(b.recent, e)
	if len(b.recent) > b.maxRecent {
		b.recent = b.recent[len(b.recent)-b.maxRecent:]
	}
	b.recentMu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers {
		select {
		case sub.ch <- e:
		default:
			// subscriber too slow — it catches up via Recent
		}
	}
}

// Subscribe registers a subscriber. The caller must call Unsubscribe with
// the returned done channel when finished.
func (b *Bus) Subscribe() (<-chan Event, chan struct{}) {
	sub := &subscriber{
		ch:   make(chan Event, 64),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()
	return sub.ch, sub.done
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(done chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subscribers {
		if sub.done == done {
			close(sub.ch)
			delete(b.subscribers, sub)
			return
		}
	}
}

// Recent returns the last n buffered events.
func (b *Bus) Recent(n int) []Event {
	b.recentMu.RLock()
	defer b.recentMu.RUnlock()
	if n <= 0 || n > len(b.recent) {
		n = len(b.recent)
	}
	result := make([]Event, n)
	copy(result, b.recent[len(b.recent)-n:])
	return result
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
