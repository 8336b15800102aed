package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rescale/ventsim/internal/constants"
)

// EventType defines the types of events that can be emitted
type EventType string

const (
	EventProgress      EventType = "progress"
	EventLog           EventType = "log"
	EventStateChange   EventType = "state_change"
	EventComplete      EventType = "complete"
	EventGeometry      EventType = "geometry"
	EventVisualization EventType = "visualization"
)

// LogLevel defines log severity levels
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the level by name.
func (l LogLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Event is the base interface for all events
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common event fields
type BaseEvent struct {
	EventType EventType `json:"type"`
	Time      time.Time `json:"time"`
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

// ProgressEvent reports a stage's cumulative percentage after a step.
type ProgressEvent struct {
	BaseEvent
	Stage   string `json:"stage"`
	RunID   string `json:"runId"`
	Percent int    `json:"percent"`
	Step    string `json:"step"`
}

// LogEvent represents log messages
type LogEvent struct {
	BaseEvent
	Level   LogLevel `json:"level"`
	Message string   `json:"message"`
	Stage   string   `json:"stage,omitempty"`
	RunID   string   `json:"runId,omitempty"`
	Error   error    `json:"-"`
}

// StateChangeEvent represents a stage entering or leaving the running state.
type StateChangeEvent struct {
	BaseEvent
	Stage        string `json:"stage"`
	RunID        string `json:"runId"`
	OldStatus    string `json:"oldStatus"`
	NewStatus    string `json:"newStatus"`
	Running      bool   `json:"running"`
	Succeeded    bool   `json:"succeeded"`
	Progress     int    `json:"progress"`
	ErrorMessage string `json:"error,omitempty"`
}

// CompleteEvent is published once when a stage run finishes.
type CompleteEvent struct {
	BaseEvent
	Stage     string        `json:"stage"`
	RunID     string        `json:"runId"`
	Succeeded bool          `json:"succeeded"`
	Progress  int           `json:"progress"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// GeometryEvent reports the file names of a newly stored geometry set.
type GeometryEvent struct {
	BaseEvent
	Files []string `json:"files"`
}

// VisualizationEvent mirrors a command sent to the visualization sink.
type VisualizationEvent struct {
	BaseEvent
	Command        string   `json:"command"`
	Proxies        []string `json:"proxies,omitempty"`
	CasePath       string   `json:"casePath,omitempty"`
	Field          string   `json:"field,omitempty"`
	SolutionTime   string   `json:"solutionTime,omitempty"`
	CutPlaneHeight float64  `json:"cutPlaneHeight,omitempty"`
}

// EventBus manages event subscriptions and publishing
type EventBus struct {
	subscribers   map[EventType][]chan Event
	all           []chan Event // Subscribers to all events
	mu            sync.RWMutex
	bufferSize    int
	closed        bool
	droppedEvents atomic.Int64 // Count of dropped events due to full buffers
}

// NewEventBus creates a new event bus with specified buffer size
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	if bufferSize > constants.EventBusMaxBuffer {
		bufferSize = constants.EventBusMaxBuffer
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		all:         make([]chan Event, 0),
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a subscription to a specific event type
func (eb *EventBus) Subscribe(eventType EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	return ch
}

// SubscribeAll creates a subscription to all events
func (eb *EventBus) SubscribeAll() <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.all = append(eb.all, ch)
	return ch
}

// Publish sends an event to all subscribers without blocking. Events for a
// subscriber whose buffer is full are dropped and counted.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	for _, ch := range eb.subscribers[event.Type()] {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}

	for _, ch := range eb.all {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}
}

// Close shuts down the event bus and closes all channels
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	eb.closed = true

	for _, channels := range eb.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}

	for _, ch := range eb.all {
		close(ch)
	}
}

func base(t EventType) BaseEvent {
	return BaseEvent{EventType: t, Time: time.Now()}
}

// PublishLog is a convenience method for publishing log events
func (eb *EventBus) PublishLog(level LogLevel, message, stage, runID string, err error) {
	eb.Publish(&LogEvent{
		BaseEvent: base(EventLog),
		Level:     level,
		Message:   message,
		Stage:     stage,
		RunID:     runID,
		Error:     err,
	})
}

// PublishProgress is a convenience method for publishing progress events
func (eb *EventBus) PublishProgress(stage, runID string, percent int, step string) {
	eb.Publish(&ProgressEvent{
		BaseEvent: base(EventProgress),
		Stage:     stage,
		RunID:     runID,
		Percent:   percent,
		Step:      step,
	})
}

// PublishStateChange is a convenience method for publishing state change events
func (eb *EventBus) PublishStateChange(e StateChangeEvent) {
	e.BaseEvent = base(EventStateChange)
	eb.Publish(&e)
}

// PublishComplete is a convenience method for publishing stage completion
func (eb *EventBus) PublishComplete(e CompleteEvent) {
	e.BaseEvent = base(EventComplete)
	eb.Publish(&e)
}

// PublishGeometry is a convenience method for publishing geometry changes
func (eb *EventBus) PublishGeometry(files []string) {
	eb.Publish(&GeometryEvent{BaseEvent: base(EventGeometry), Files: files})
}

// PublishVisualization is a convenience method for mirroring sink commands
func (eb *EventBus) PublishVisualization(e VisualizationEvent) {
	e.BaseEvent = base(EventVisualization)
	eb.Publish(&e)
}

// Unsubscribe removes a subscription channel from a specific event type
// This prevents memory leaks from abandoned subscriptions
func (eb *EventBus) Unsubscribe(eventType EventType, ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	subscribers := eb.subscribers[eventType]
	for i, subCh := range subscribers {
		if subCh == ch {
			subscribers[i] = subscribers[len(subscribers)-1]
			eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
			break
		}
	}
}

// UnsubscribeAll removes a subscription channel from all event types
// Use this when cleaning up a subscriber that subscribed to multiple event types
func (eb *EventBus) UnsubscribeAll(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	for eventType, subscribers := range eb.subscribers {
		for i, subCh := range subscribers {
			if subCh == ch {
				subscribers[i] = subscribers[len(subscribers)-1]
				eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
				break
			}
		}
	}

	for i, subCh := range eb.all {
		if subCh == ch {
			eb.all[i] = eb.all[len(eb.all)-1]
			eb.all = eb.all[:len(eb.all)-1]
			break
		}
	}
}

// GetDroppedEventCount returns the total number of events dropped due to full buffers
func (eb *EventBus) GetDroppedEventCount() int64 {
	return eb.droppedEvents.Load()
}

// ResetDroppedEventCount resets the dropped event counter to zero
// Useful for periodic monitoring windows
func (eb *EventBus) ResetDroppedEventCount() int64 {
	return eb.droppedEvents.Swap(0)
}
