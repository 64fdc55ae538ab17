package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	// Supervisor lifecycle events.
	EventServerSpawning EventType = "server.spawning"
	EventServerSpawned  EventType = "server.spawned"
	EventServerKilled   EventType = "server.killed"
	EventServerExited   EventType = "server.exited"
	EventServerRestart  EventType = "server.restart"

	// Command bridge events.
	EventCommandSent     EventType = "command.sent"
	EventCommandCaptured EventType = "command.captured"

	// Scheduler / restarter events.
	EventScheduleWarning EventType = "schedule.warning"
	EventScheduleFired   EventType = "schedule.fired"

	// Health monitor events.
	EventHitchRecorded EventType = "monitor.hitch"

	// Announcement events.
	EventAnnouncementSent   EventType = "announce.sent"
	EventAnnouncementFailed EventType = "announce.failed"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
