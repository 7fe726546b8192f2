// Package events is an in-process broadcast bus for operational
// events. The chat loop and activity parser publish; the WebSocket
// endpoint and the MQTT publisher subscribe. Publishing on a nil *Bus
// is a no-op.
package events

import (
	"sync"
	"time"
)

// Sources.
const (
	SourceAgent    = "agent"
	SourceActivity = "activity"
	SourceMemory   = "memory"
	SourceHealth   = "health"
)

// Kinds. The data keys each carries are listed alongside.
const (
	// request_id, conversation_id
	KindRequestStart = "request_start"
	// request_id, iter, model
	KindLLMCall = "llm_call"
	// request_id, iter, model, tokens_in, tokens_out, cost_usd, tool_calls
	KindLLMResponse = "llm_response"
	// request_id, tool, tool_call_id
	KindToolCall = "tool_call"
	// request_id, tool, ok, error_code, duration_ms
	KindToolDone = "tool_done"
	// request_id, conversation_id, iterations, capped, total_tokens_in,
	// total_tokens_out, total_cost_usd, elapsed_ms
	KindRequestComplete = "request_complete"

	// type, repaired, candidates, missing_required
	KindActivityParsed = "activity_parsed"
	// error
	KindActivityFailed = "activity_failed"

	// user_id, elapsed_ms, error
	KindMemoryExtracted = "memory_extracted"

	// service, attempts
	KindServiceReady = "service_ready"
	// service, error
	KindServiceDown = "service_down"
)

// Event is one published event.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus fans events out to buffered subscriber channels. A full
// subscriber misses events; publishers never block.
type Bus struct {
	mu   sync.RWMutex
	subs map[<-chan Event]chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[<-chan Event]chan Event)}
}

// Publish delivers e to every subscriber with room for it.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Emit publishes an event stamped now.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	b.Publish(Event{Timestamp: time.Now(), Source: source, Kind: kind, Data: data})
}

// Subscribe returns a channel of published events buffered to bufSize.
// Callers must Unsubscribe when done.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = ch
	return ch
}

// Unsubscribe removes and closes a subscription. Unknown channels are
// ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	send, ok := b.subs[ch]
	if !ok {
		return
	}
	delete(b.subs, ch)
	close(send)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
