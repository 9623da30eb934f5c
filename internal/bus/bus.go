// Package bus provides the in-process publish/subscribe hub that decouples
// lifecycle event producers from consumers. Delivery is best-effort,
// in-process, at-most-once per handler per publish; there is no retry or
// persistence of undelivered events.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docuflow/waypoint/model"
)

// DefaultHistoryCapacity is the bounded history ring size.
const DefaultHistoryCapacity = 1000

// Handler consumes one published event. A returned error (or panic) is
// logged and suppressed; it never prevents other handlers from running.
type Handler func(ctx context.Context, evt model.Event) error

// Subscription identifies one handler registration. Handlers are funcs and
// not comparable, so unsubscription goes through this token.
type Subscription struct {
	id        uint64
	eventType string // empty for wildcard subscriptions
}

// EventBus is a synchronous fan-out hub with a bounded event history.
// Construct one per service instance and inject it; there is no package
// level default.
type EventBus struct {
	logger *zap.Logger

	mu        sync.RWMutex
	nextID    uint64
	byType    map[string][]subscription
	wildcards []subscription

	histMu   sync.Mutex
	history  []model.Event
	capacity int

	// optional hooks for metrics
	onPublish        func(eventType string)
	onHandlerFailure func(eventType string)
}

type subscription struct {
	id      uint64
	handler Handler
}

// Option configures an EventBus.
type Option func(*EventBus)

// WithHistoryCapacity overrides the bounded history ring capacity.
func WithHistoryCapacity(n int) Option {
	return func(b *EventBus) {
		if n > 0 {
			b.capacity = n
		}
	}
}

// WithPublishHook registers a callback invoked once per publish.
func WithPublishHook(fn func(eventType string)) Option {
	return func(b *EventBus) { b.onPublish = fn }
}

// WithHandlerFailureHook registers a callback invoked once per suppressed
// handler failure.
func WithHandlerFailureHook(fn func(eventType string)) Option {
	return func(b *EventBus) { b.onHandlerFailure = fn }
}

// New creates an EventBus.
func New(logger *zap.Logger, opts ...Option) *EventBus {
	b := &EventBus{
		logger:   logger,
		byType:   make(map[string][]subscription),
		capacity: DefaultHistoryCapacity,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a handler for one event type. Handlers run in
// subscription order during synchronous dispatch.
func (b *EventBus) Subscribe(eventType string, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.byType[eventType] = append(b.byType[eventType], subscription{id: b.nextID, handler: handler})
	return Subscription{id: b.nextID, eventType: eventType}
}

// SubscribeAll registers a wildcard handler that receives every event,
// after the type-specific handlers.
func (b *EventBus) SubscribeAll(handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.wildcards = append(b.wildcards, subscription{id: b.nextID, handler: handler})
	return Subscription{id: b.nextID}
}

// Unsubscribe removes a handler registration. Unknown tokens are ignored.
func (b *EventBus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub.eventType != "" {
		b.byType[sub.eventType] = removeSub(b.byType[sub.eventType], sub.id)
		return
	}
	b.wildcards = removeSub(b.wildcards, sub.id)
}

func removeSub(subs []subscription, id uint64) []subscription {
	for i, s := range subs {
		if s.id == id {
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}

// Publish delivers an event synchronously: each matching handler
// (type-specific first, then wildcards) runs in subscription order. A
// failure in one handler is logged and does not stop the remaining
// handlers. Publish itself never fails.
func (b *EventBus) Publish(ctx context.Context, eventType string, data map[string]any, source, correlationID string) model.Event {
	evt := b.newEvent(eventType, data, source, correlationID)

	for _, sub := range b.handlersFor(eventType) {
		b.invoke(ctx, sub, evt)
	}
	return evt
}

// PublishAsync delivers an event with each handler on its own goroutine.
// It waits for every handler to finish and suppresses individual failures
// exactly like the synchronous path. Handlers are started in subscription
// order but may complete in any order.
func (b *EventBus) PublishAsync(ctx context.Context, eventType string, data map[string]any, source, correlationID string) model.Event {
	evt := b.newEvent(eventType, data, source, correlationID)

	var wg sync.WaitGroup
	for _, sub := range b.handlersFor(eventType) {
		wg.Add(1)
		go func(s subscription) {
			defer wg.Done()
			b.invoke(ctx, s, evt)
		}(sub)
	}
	wg.Wait()
	return evt
}

// History returns up to limit most-recent events, newest first, optionally
// filtered by event type. A non-positive limit returns everything retained.
func (b *EventBus) History(eventType string, limit int) []model.Event {
	b.histMu.Lock()
	defer b.histMu.Unlock()

	var out []model.Event
	for i := len(b.history) - 1; i >= 0; i-- {
		if eventType != "" && b.history[i].EventType != eventType {
			continue
		}
		out = append(out, b.history[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func (b *EventBus) newEvent(eventType string, data map[string]any, source, correlationID string) model.Event {
	evt := model.Event{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		Data:          data,
		Source:        source,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
	}
	b.record(evt)
	if b.onPublish != nil {
		b.onPublish(eventType)
	}
	return evt
}

// record appends to the bounded FIFO history, evicting the oldest entry
// when full.
func (b *EventBus) record(evt model.Event) {
	b.histMu.Lock()
	defer b.histMu.Unlock()

	b.history = append(b.history, evt)
	if len(b.history) > b.capacity {
		b.history = b.history[len(b.history)-b.capacity:]
	}
}

// handlersFor snapshots the matching handlers under the read lock so a
// concurrent unsubscribe cannot disturb an in-flight dispatch.
func (b *EventBus) handlersFor(eventType string) []subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs := make([]subscription, 0, len(b.byType[eventType])+len(b.wildcards))
	subs = append(subs, b.byType[eventType]...)
	subs = append(subs, b.wildcards...)
	return subs
}

// invoke runs a single handler with panic and error isolation.
func (b *EventBus) invoke(ctx context.Context, sub subscription, evt model.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("event handler panicked",
				zap.String("event_type", evt.EventType),
				zap.String("event_id", evt.EventID),
				zap.Any("panic", r),
			)
			if b.onHandlerFailure != nil {
				b.onHandlerFailure(evt.EventType)
			}
		}
	}()

	if err := sub.handler(ctx, evt); err != nil {
		b.logger.Warn("event handler failed",
			zap.String("event_type", evt.EventType),
			zap.String("event_id", evt.EventID),
			zap.Error(err),
		)
		if b.onHandlerFailure != nil {
			b.onHandlerFailure(evt.EventType)
		}
	}
}
