package notify

import (
	"fmt"
	"sync"
	"time"

	"github.com/modkernel/switchyard/pkg/types"
)

// EventType represents the type of event
type EventType string

const (
	EventDeploymentSubmitted EventType = "deployment.submitted"
	EventStateChanged        EventType = "deployment.state-changed"
	EventStageCompleted      EventType = "deployment.stage-completed"
	EventProgress            EventType = "deployment.progress"
	EventApprovalRequested   EventType = "deployment.approval-requested"
	EventApprovalDecided     EventType = "deployment.approval-decided"
	EventNodeRegistered      EventType = "node.registered"
	EventNodeDeregistered    EventType = "node.deregistered"
	EventNodeStateChanged    EventType = "node.state-changed"
	EventColorFlipped        EventType = "cluster.color-flipped"
)

// Event represents a deployment or topology event
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
	close(b.stopCh)
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

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers. Never blocks: if the
// broker buffer is full the event is dropped, keeping publishers (the
// pipeline hot path) decoupled from slow consumers.
func (b *Broker) Publish(event *Event) {
	// Set timestamp if not set
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	default:
		// Broker buffer full, drop
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
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// BrokerNotifier adapts the broker to the Notifier interface so hosts
// can consume pipeline callbacks as subscriber channels.
type BrokerNotifier struct {
	broker *Broker
}

// NewBrokerNotifier wraps a broker as a Notifier
func NewBrokerNotifier(broker *Broker) *BrokerNotifier {
	return &BrokerNotifier{broker: broker}
}

func (n *BrokerNotifier) OnStateChange(execution *types.Execution) {
	meta := map[string]string{
		"execution_id": execution.ID,
		"status":       string(execution.Status),
	}
	if execution.Request != nil {
		meta["environment"] = string(execution.Request.TargetEnvironment)
		meta["module"] = execution.Request.Module.Ref()
	}
	n.broker.Publish(&Event{
		ID:       execution.ID,
		Type:     EventStateChanged,
		Message:  fmt.Sprintf("execution %s is now %s", execution.ID, execution.Status),
		Metadata: meta,
	})
}

func (n *BrokerNotifier) OnStageComplete(executionID string, stage types.StageResult) {
	n.broker.Publish(&Event{
		ID:      executionID,
		Type:    EventStageCompleted,
		Message: fmt.Sprintf("stage %s finished with %s", stage.Name, stage.Status),
		Metadata: map[string]string{
			"execution_id": executionID,
			"stage":        string(stage.Name),
			"status":       string(stage.Status),
			"detail":       stage.Message,
		},
	})
}

func (n *BrokerNotifier) OnProgress(executionID string, fraction float64, message string) {
	n.broker.Publish(&Event{
		ID:      executionID,
		Type:    EventProgress,
		Message: message,
		Metadata: map[string]string{
			"execution_id": executionID,
			"fraction":     fmt.Sprintf("%.2f", fraction),
		},
	})
}
