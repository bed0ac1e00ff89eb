package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventVMCreated   EventType = "vm.created"
	EventVMDeleted   EventType = "vm.deleted"
	EventVMStarted   EventType = "vm.started"
	EventVMStopped   EventType = "vm.stopped"
	EventOpEnqueued  EventType = "op.enqueued"
	EventOpStarted   EventType = "op.started"
	EventOpCompleted EventType = "op.completed"
	EventOpFailed    EventType = "op.failed"
)

// Event represents a scheduler event
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop shuts down the broker
func (b *Broker) Stop() {
	close(b.stopCh)
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.mu.RLock()
			for sub := range b.subscribers {
				select {
				case sub <- event:
				default:
					// Slow subscriber, drop rather than block dispatch.
				}
			}
			b.mu.RUnlock()
		case <-b.stopCh:
			return
		}
	}
}

// Publish sends an event to all subscribers
func (b *Broker) Publish(eventType EventType, message string, metadata map[string]string) {
	event := &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
		Message:   message,
		Metadata:  metadata,
	}

	select {
	case b.eventCh <- event:
	default:
		// Buffer full, drop the event.
	}
}

// Subscribe registers a new subscriber with the given buffer size
func (b *Broker) Subscribe(buffer int) Subscriber {
	sub := make(Subscriber, buffer)
	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscriber
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	delete(b.subscribers, sub)
	b.mu.Unlock()
	close(sub)
}
