package telemetry

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a progress notification emitted while a run executes.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// RunID is the associated run ID, if applicable.
	RunID string `json:"run_id,omitempty"`

	// Kind and Resource identify the resource a step acted on.
	Kind     string `json:"kind,omitempty"`
	Resource string `json:"resource,omitempty"`

	// Outcome is the step outcome (created, updated, unchanged, deleted, absent).
	Outcome string `json:"outcome,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Duration is set on completion events.
	Duration time.Duration `json:"duration,omitempty"`
}

// EventType constants.
const (
	EventTypeRunStarted    = "run.started"
	EventTypeRunCompleted  = "run.completed"
	EventTypeRunFailed     = "run.failed"
	EventTypeStepStarted   = "step.started"
	EventTypeStepCompleted = "step.completed"
	EventTypeStepFailed    = "step.failed"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber handles a published event.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be delivered.
type EventFilter func(event Event) bool

// EventPublisher delivers events synchronously, in publication order, to
// every subscriber whose filter accepts them. A nil publisher drops events.
type EventPublisher struct {
	mu          sync.RWMutex
	subscribers []subscriberEntry
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates an empty publisher.
func NewEventPublisher() *EventPublisher {
	return &EventPublisher{}
}

// Subscribe registers a subscriber. A nil filter accepts every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = append(ep.subscribers, subscriberEntry{subscriber: subscriber, filter: filter})
}

// Publish fills in the ID and timestamp and delivers the event.
func (ep *EventPublisher) Publish(event Event) {
	if ep == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	ep.mu.RLock()
	subs := ep.subscribers
	ep.mu.RUnlock()

	for _, s := range subs {
		if s.filter != nil && !s.filter(event) {
			continue
		}
		s.subscriber(event)
	}
}

// PublishStepCompleted publishes the outcome of a resource step.
func (ep *EventPublisher) PublishStepCompleted(runID, kind, resource, outcome string, duration time.Duration) {
	ep.Publish(Event{
		Type:     EventTypeStepCompleted,
		RunID:    runID,
		Kind:     kind,
		Resource: resource,
		Outcome:  outcome,
		Message:  kind + " " + resource + " " + outcome,
		Duration: duration,
	})
}

// PublishStepFailed publishes a failed resource step.
func (ep *EventPublisher) PublishStepFailed(runID, kind, resource string, err error) {
	ep.Publish(Event{
		Type:     EventTypeStepFailed,
		RunID:    runID,
		Kind:     kind,
		Resource: resource,
		Message:  err.Error(),
		Level:    EventLevelError,
	})
}

// FilterByType accepts events of the given types.
func FilterByType(types ...string) EventFilter {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return func(event Event) bool {
		return set[event.Type]
	}
}

// FilterByRunID accepts events of one run.
func FilterByRunID(runID string) EventFilter {
	return func(event Event) bool {
		return event.RunID == runID
	}
}
