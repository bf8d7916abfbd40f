// Package events provides a fire-and-forget event bus for operational
// signals, decoupling the state store from its analytics consumers.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the state store.
const (
	// TypeMemoryFallback signals that a durable write failed and the state
	// is being served from memory while retries run.
	TypeMemoryFallback = "state.memory_fallback"
	// TypeFieldFallback signals that a durable write was retried with a
	// safe default substituted for a field the schema rejected.
	TypeFieldFallback = "state.field_fallback"
	// TypeRetryExhausted signals that all persistence retries failed and
	// the entry remains a shadow until its TTL expires.
	TypeRetryExhausted = "state.retry_exhausted"
)

// Event is a single operational notification. Detail carries enough to
// diagnose schema drift (field name, original vs fallback value, error).
type Event struct {
	ID     string            `json:"id"`
	Type   string            `json:"type"`
	Phone  string            `json:"phone"`
	Time   time.Time         `json:"time"`
	Detail map[string]string `json:"detail,omitempty"`
}

// Bus receives events. Emit must never block the caller.
type Bus interface {
	Emit(evt Event)
}

// AsyncBus fans events out to subscribers on a buffered channel. A full
// buffer drops the event rather than blocking the emitter.
type AsyncBus struct {
	ch   chan Event
	subs []func(Event)
	mu   sync.RWMutex
	done chan struct{}
	once sync.Once
}

// DefaultBufferSize is the event channel buffer size.
const DefaultBufferSize = 100

// NewAsyncBus creates and starts an AsyncBus.
func NewAsyncBus() *AsyncBus {
	b := &AsyncBus{
		ch:   make(chan Event, DefaultBufferSize),
		done: make(chan struct{}),
	}
	go b.dispatch()
	return b
}

// Subscribe registers a handler for all subsequent events.
func (b *AsyncBus) Subscribe(fn func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, fn)
}

// Emit queues an event for delivery. It assigns an ID and timestamp if
// the caller left them empty.
func (b *AsyncBus) Emit(evt Event) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Time.IsZero() {
		evt.Time = time.Now()
	}

	select {
	case <-b.done:
		// Nothing is draining the channel anymore; enqueueing would
		// strand the event silently.
		slog.Warn("event bus stopped, dropping event", "type", evt.Type, "phone", evt.Phone)
		return
	default:
	}

	select {
	case b.ch <- evt:
	default:
		slog.Warn("event bus buffer full, dropping event", "type", evt.Type, "phone", evt.Phone)
	}
}

// Stop shuts down the dispatch loop. Queued events are delivered first.
func (b *AsyncBus) Stop() {
	b.once.Do(func() { close(b.done) })
}

func (b *AsyncBus) dispatch() {
	for {
		select {
		case evt := <-b.ch:
			b.deliver(evt)
		case <-b.done:
			// Drain whatever is queued before exiting.
			for {
				select {
				case evt := <-b.ch:
					b.deliver(evt)
				default:
					return
				}
			}
		}
	}
}

func (b *AsyncBus) deliver(evt Event) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	slog.Debug("event delivered", "id", evt.ID, "type", evt.Type, "phone", evt.Phone)
	for _, fn := range subs {
		fn(evt)
	}
}

// LogBus is a Bus that only logs. Used when no analytics consumer is wired.
type LogBus struct{}

// Emit logs the event at warn level since these events signal degradation.
func (LogBus) Emit(evt Event) {
	slog.Warn("state store event", "type", evt.Type, "phone", evt.Phone, "detail", evt.Detail)
}
