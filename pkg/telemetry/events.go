package telemetry

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a telemetry event emitted during a deployment lifecycle.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// DeploymentID is the associated deployment, if applicable.
	DeploymentID string `json:"deployment_id,omitempty"`

	// AppID is the associated application plugin, if applicable.
	AppID string `json:"app_id,omitempty"`

	// Stage is the lifecycle stage the event belongs to, if applicable.
	Stage string `json:"stage,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeLaunchStarted     = "launch.started"
	EventTypeLaunchCompleted   = "launch.completed"
	EventTypeLaunchFailed      = "launch.failed"
	EventTypeStageStarted      = "stage.started"
	EventTypeStageCompleted    = "stage.completed"
	EventTypeStageProgress     = "stage.progress"
	EventTypeStatusChanged     = "deployment.status_changed"
	EventTypeHealthChanged     = "deployment.health_changed"
	EventTypePolicyViolation   = "policy.violation"
	EventTypeDeploymentDeleted = "deployment.deleted"
	EventTypeError             = "error"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be delivered.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers without ever blocking the
// publisher. Events that cannot be buffered are dropped.
type EventPublisher struct {
	config EventsConfig
	buffer chan Event

	mu          sync.RWMutex
	subscribers []subscriberEntry

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) *EventPublisher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}

	ep := &EventPublisher{
		config: cfg,
		buffer: make(chan Event, cfg.BufferSize),
		done:   make(chan struct{}),
	}

	ep.wg.Add(1)
	go ep.processEvents()

	return ep
}

// Publish enqueues an event for delivery. It never blocks; when the buffer is
// full the event is dropped and an error returned.
func (ep *EventPublisher) Publish(event Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	select {
	case <-ep.done:
		return fmt.Errorf("event publisher stopped")
	default:
	}

	select {
	case ep.buffer <- event:
		return nil
	default:
		return fmt.Errorf("event buffer full, event dropped")
	}
}

// PublishLaunchStarted publishes a launch started event.
func (ep *EventPublisher) PublishLaunchStarted(deploymentID, appID, name string) error {
	return ep.Publish(Event{
		Type:         EventTypeLaunchStarted,
		Source:       "controller",
		DeploymentID: deploymentID,
		AppID:        appID,
		Message:      fmt.Sprintf("Launch of %s started", name),
		Level:        EventLevelInfo,
		Data: map[string]interface{}{
			"name": name,
		},
	})
}

// PublishLaunchCompleted publishes a launch completed event.
func (ep *EventPublisher) PublishLaunchCompleted(deploymentID, appID, status string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:         EventTypeLaunchCompleted,
		Source:       "controller",
		DeploymentID: deploymentID,
		AppID:        appID,
		Message:      fmt.Sprintf("Launch completed with status: %s", status),
		Level:        EventLevelInfo,
		Data: map[string]interface{}{
			"status":   status,
			"duration": duration.Seconds(),
		},
	})
}

// PublishLaunchFailed publishes a launch failed event.
func (ep *EventPublisher) PublishLaunchFailed(deploymentID, appID, stage, reason string) error {
	return ep.Publish(Event{
		Type:         EventTypeLaunchFailed,
		Source:       "controller",
		DeploymentID: deploymentID,
		AppID:        appID,
		Stage:        stage,
		Message:      fmt.Sprintf("Launch failed during %s: %s", stage, reason),
		Level:        EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishStageProgress publishes a progress message reported by a plugin.
func (ep *EventPublisher) PublishStageProgress(deploymentID, stage, message string) error {
	return ep.Publish(Event{
		Type:         EventTypeStageProgress,
		Source:       "plugin",
		DeploymentID: deploymentID,
		Stage:        stage,
		Message:      message,
		Level:        EventLevelInfo,
	})
}

// PublishStatusChanged publishes a deployment status transition.
func (ep *EventPublisher) PublishStatusChanged(deploymentID, oldStatus, newStatus string) error {
	return ep.Publish(Event{
		Type:         EventTypeStatusChanged,
		Source:       "controller",
		DeploymentID: deploymentID,
		Message:      fmt.Sprintf("Deployment status changed from %s to %s", oldStatus, newStatus),
		Level:        EventLevelInfo,
		Data: map[string]interface{}{
			"old_status": oldStatus,
			"new_status": newStatus,
		},
	})
}

// PublishPolicyViolation publishes a launch policy rejection.
func (ep *EventPublisher) PublishPolicyViolation(deploymentID, appID, reason string) error {
	return ep.Publish(Event{
		Type:         EventTypePolicyViolation,
		Source:       "policy_engine",
		DeploymentID: deploymentID,
		AppID:        appID,
		Message:      fmt.Sprintf("Launch rejected by policy: %s", reason),
		Level:        EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// Subscribe adds a new event subscriber. A nil filter receives all events.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// processEvents delivers buffered events to subscribers.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	for {
		select {
		case event := <-ep.buffer:
			ep.deliverEvent(event)
		case <-ep.done:
			// Drain whatever is buffered before shutting down.
			for {
				select {
				case event := <-ep.buffer:
					ep.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown stops the publisher after delivering buffered events.
func (ep *EventPublisher) Shutdown() {
	ep.once.Do(func() {
		close(ep.done)
	})
	ep.wg.Wait()
}
