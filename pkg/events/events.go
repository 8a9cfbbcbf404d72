// Package events is forge's in-memory pub/sub broker: the Deployment
// Engine and Health Monitor publish lifecycle events (rollout outcomes,
// host health transitions, recovery actions, heartbeats) and anything
// observing the cluster — `forge monitor`, an alerting sink — subscribes
// to a channel of them. It never touches disk; a process restart loses
// history, which is why rollout history itself lives in pkg/store, not
// here.
package events

import (
	"sync"
	"time"
)

// EventType is the closed set of things forge publishes about.
type EventType string

const (
	EventRolloutStarted   EventType = "rollout.started"
	EventRolloutSucceeded EventType = "rollout.succeeded"
	EventRolloutFailed    EventType = "rollout.failed"
	EventHostReclaimed    EventType = "host.reclaimed"

	// EventHostDown fires on a host's first observed health-check
	// failure streak from a Monitor tick (spec §4.I step 3).
	EventHostDown EventType = "host.down"
	// EventHostRecovered fires once a previously-down host reports
	// healthy again, whether by Stage 1 restart or Stage 2 replacement.
	EventHostRecovered EventType = "host.recovered"

	EventRecoveryStage1   EventType = "recovery.stage1"
	EventRecoveryStage2   EventType = "recovery.stage2"
	EventRecoveryAborted  EventType = "recovery.aborted"
	EventMonitorHeartbeat EventType = "monitor.heartbeat"

	EventSecretRotated EventType = "secret.rotated"
	EventBackupRun     EventType = "backup.run"
	EventBackupFailed  EventType = "backup.failed"
)

// Event is one published occurrence.
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// Subscriber is a channel that receives events.
type Subscriber chan *Event

// Broker manages event subscriptions and distribution.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers. If the broker hasn't
// been Start()ed, Publish still buffers into eventCh up to its
// capacity; nothing is broadcast until Start runs the distribution loop.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	default:
		// eventCh full and nothing draining it yet: drop rather than
		// block the publisher, matching the per-subscriber drop policy.
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
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
