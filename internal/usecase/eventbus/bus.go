package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"fxpanel/internal/domain"
)

// anyType keys subscriptions that receive every event.
const anyType domain.EventType = ""

type subscription struct {
	id      uint64
	handler domain.EventHandler
}

// Bus is an in-process, goroutine-safe event bus. Every handler runs in its
// own goroutine so a slow subscriber (a websocket client, an announcer) never
// stalls the supervisor.
type Bus struct {
	mu     sync.RWMutex
	subs   map[domain.EventType][]subscription
	nextID atomic.Uint64
	logger *slog.Logger
	wg     sync.WaitGroup
	closed atomic.Bool
	now    func() time.Time
}

// New creates an event bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		subs:   make(map[domain.EventType][]subscription),
		logger: logger,
		now:    time.Now,
	}
}

// Emit marshals payload and publishes it as an event of type t.
// Marshal failures are logged and the event is published without a payload.
func (b *Bus) Emit(ctx context.Context, t domain.EventType, payload any) {
	ev := domain.Event{Type: t, Timestamp: b.now()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			b.logger.Warn("event payload marshal failed", "event", string(t), "error", err)
		} else {
			ev.Payload = raw
		}
	}
	b.Publish(ctx, ev)
}

// Publish fans out an event to matching typed subscribers and all-event subscribers.
// Panicking handlers are recovered.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = b.now()
	}

	b.mu.RLock()
	targets := slices.Concat(b.subs[event.Type], b.subs[anyType])
	b.mu.RUnlock()

	for _, sub := range targets {
		b.dispatch(ctx, event, sub)
	}
}

func (b *Bus) dispatch(ctx context.Context, event domain.Event, sub subscription) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("event handler panicked",
					"event", string(event.Type),
					"panic", r,
				)
			}
		}()
		sub.handler(ctx, event)
	}()
}

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	return b.add(eventType, handler)
}

// SubscribeAll registers a handler that receives every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	return b.add(anyType, handler)
}

func (b *Bus) add(key domain.EventType, handler domain.EventHandler) func() {
	id := b.nextID.Add(1)

	b.mu.Lock()
	b.subs[key] = append(b.subs[key], subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.subs[key] = slices.DeleteFunc(b.subs[key], func(s subscription) bool { return s.id == id })
		})
	}
}

// Close prevents new publishes and waits for all in-flight handlers to finish.
// Close is idempotent.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.wg.Wait()
}
