// Package events defines structured lifecycle events emitted while
// reconciling a guild.
package events

import (
	"encoding/json"
	"time"
)

// Type represents the kind of event.
type Type string

const (
	PlanComputed       Type = "plan.computed"
	ReconcileStarted   Type = "reconcile.started"
	ReconcileEntity    Type = "reconcile.entity"
	ReconcileDryRun    Type = "reconcile.dryrun"
	ReconcileCompleted Type = "reconcile.completed"
	ReconcileFailed    Type = "reconcile.failed"
	TeardownEntity     Type = "teardown.entity"
)

// Event is a structured event emitted during reconciliation.
type Event struct {
	Type          Type                   `json:"type"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id"`
	GuildID       string                 `json:"guild_id,omitempty"`
	Data          map[string]interface{} `json:"data,omitempty"`
}

// New creates a new event with the given type and correlation ID.
func New(eventType Type, correlationID string) *Event {
	return &Event{
		Type:          eventType,
		Timestamp:     time.Now(),
		CorrelationID: correlationID,
	}
}

// ForGuild sets the guild the event concerns and returns it for chaining.
func (e *Event) ForGuild(guildID string) *Event {
	e.GuildID = guildID
	return e
}

// WithData adds data fields to the event and returns it for chaining.
func (e *Event) WithData(key string, value interface{}) *Event {
	if e.Data == nil {
		e.Data = make(map[string]interface{})
	}
	e.Data[key] = value
	return e
}

// JSON returns the event serialized as JSON.
func (e *Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}

// Emitter is the interface for event consumers.
type Emitter interface {
	Emit(event *Event)
}

// NoopEmitter discards all events.
type NoopEmitter struct{}

// Emit implements Emitter by discarding the event.
func (NoopEmitter) Emit(*Event) {}

// CollectorEmitter collects events in memory for testing.
type CollectorEmitter struct {
	Events []*Event
}

// Emit appends the event to the collector.
func (c *CollectorEmitter) Emit(event *Event) {
	c.Events = append(c.Events, event)
}

// OfType returns the collected events of type t.
func (c *CollectorEmitter) OfType(t Type) []*Event {
	var out []*Event
	for _, e := range c.Events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Multi fans an event out to several emitters.
type Multi []Emitter

// Emit implements Emitter.
func (m Multi) Emit(event *Event) {
	for _, e := range m {
		e.Emit(event)
	}
}
