package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	EventJobStarted   = "job_started"
	EventJobSucceeded = "job_succeeded"
	EventJobFailed    = "job_failed"
	// EventJobExhausted follows the last failed attempt of a retry chain.
	EventJobExhausted = "job_exhausted"
)

// JobEvents lists every job lifecycle event type.
var JobEvents = []string{EventJobStarted, EventJobSucceeded, EventJobFailed, EventJobExhausted}

// JobEventPayload is the job snapshot carried by lifecycle events.
type JobEventPayload struct {
	JobID            string    `json:"job_id"`
	JobName          string    `json:"job_name"`
	LogID            string    `json:"log_id,omitempty"`
	Status           string    `json:"status"`
	Attempt          int       `json:"attempt"`
	RetryCount       int       `json:"retry_count"`
	MaxRetries       int       `json:"max_retries"`
	RecordsProcessed int       `json:"records_processed"`
	RecordsSucceeded int       `json:"records_succeeded"`
	DurationMs       int64     `json:"duration_ms"`
	Error            string    `json:"error,omitempty"`
	At               time.Time `json:"at"`
}

// Event represents a lightweight domain event.
type Event struct {
	ID        string
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v interface{}) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

type subscription struct {
	handler EventHandler
	async   bool
}

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]subscription
	mu          sync.RWMutex
	draining    bool
	inflight    sync.WaitGroup
	logger      zerolog.Logger
}

// NewEventBus constructs an empty bus.
func NewEventBus(logger *zerolog.Logger) *EventBus {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "events").Logger()
	}
	return &EventBus{subscribers: make(map[string][]subscription), logger: l}
}

// Subscribe registers a handler for a given event type. It runs on the
// publisher's goroutine.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.subscribe(eventType, subscription{handler: handler})
}

// SubscribeAsync registers a handler that runs on its own goroutine, so a
// slow handler never holds up the publisher. Use Drain to wait for it.
func (b *EventBus) SubscribeAsync(eventType string, handler EventHandler) {
	b.subscribe(eventType, subscription{handler: handler, async: true})
}

func (b *EventBus) subscribe(eventType string, sub subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], sub)
}

// SubscribeMany registers one handler for several event types.
func (b *EventBus) SubscribeMany(eventTypes []string, handler EventHandler) {
	for _, t := range eventTypes {
		b.Subscribe(t, handler)
	}
}

// Publish notifies subscribers of the event type. Synchronous handlers run
// in registration order; async ones are started first unless the bus is
// draining. A failing or
// panicking handler does not stop the rest.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subscribers[event.Type]...)
	draining := b.draining
	async := 0
	for _, sub := range subs {
		if sub.async && !draining {
			async++
		}
	}
	b.inflight.Add(async)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	for _, sub := range subs {
		if !sub.async || draining {
			continue
		}
		go func(h EventHandler) {
			defer b.inflight.Done()
			b.dispatch(h, event)
		}(sub.handler)
	}
	for _, sub := range subs {
		if !sub.async || draining {
			b.dispatch(sub.handler, event)
		}
	}
}

// Drain waits for async handlers already started, or until ctx is done.
// Events published afterwards run every handler on the publisher's goroutine.
func (b *EventBus) Drain(ctx context.Context) error {
	b.mu.Lock()
	b.draining = true
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *EventBus) dispatch(handler EventHandler, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Interface("panic", r).Str("event", event.Type).Msg("Event handler panicked")
		}
	}()
	if err := handler(event); err != nil {
		b.logger.Warn().Err(err).Str("event", event.Type).Str("event_id", event.ID).Msg("Event handler failed")
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}
	b.Publish(&event)
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{ID: uuid.NewString(), Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}
