package events

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/dbfleet/pkg/metrics"
	"github.com/cuemby/dbfleet/pkg/types"
)

// EventType represents the type of event
type EventType string

const (
	EventClusterConverged      EventType = "cluster.converged"
	EventClusterPartialFailure EventType = "cluster.partial_failure"
	EventClusterFailed         EventType = "cluster.failed"
	EventClusterApplied        EventType = "cluster.applied"
	EventPlatformToggled       EventType = "platform.toggled"
)

var (
	// ErrBrokerFull is returned when the broker queue cannot take the event
	ErrBrokerFull = errors.New("events: broker queue full")

	// ErrBrokerStopped is returned when publishing to a stopped broker
	ErrBrokerStopped = errors.New("events: broker stopped")
)

// TypeForState maps a terminal cycle state to its event type
func TypeForState(state types.ConvergeState) (EventType, bool) {
	switch state {
	case types.StateConverged:
		return EventClusterConverged, true
	case types.StatePartialFailure:
		return EventClusterPartialFailure, true
	case types.StateFailed:
		return EventClusterFailed, true
	default:
		return "", false
	}
}

// Event represents a fleet event
type Event struct {
	ID        string              `json:"id"`
	Type      EventType           `json:"type"`
	ClusterID string              `json:"cluster_id,omitempty"`
	CycleID   string              `json:"cycle_id,omitempty"`
	State     types.ConvergeState `json:"state,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
	Message   string              `json:"message,omitempty"`
	Metadata  map[string]string   `json:"metadata,omitempty"`
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100), // Buffer up to 100 events
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub)
}

// Publish queues an event for all subscribers. It never blocks: a full
// queue drops the event and returns ErrBrokerFull.
func (b *Broker) Publish(event *Event) error {
	select {
	case <-b.stopCh:
		return ErrBrokerStopped
	default:
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	// Set timestamp if not set
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
		return nil
	default:
		metrics.EventsDropped.Inc()
		return ErrBrokerFull
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
			metrics.EventsDropped.Inc()
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
