// Package events implements fleetmc's topic-keyed event bus: the fan-out
// of process stdout lines, status transitions, resource samples, and proxy
// backend telemetry to subscribers.
package events

import (
	"sync"
	"time"

	"github.com/fleetmc/fleetmc/pkg/types"
)

// Topic identifies a stream of events. Per-instance topics are formatted
// with the instance/proxy ID, e.g. Topic("server." + id + ".console").
type Topic string

const (
	// TopicSystemStats is the single global topic for host-wide stats.
	TopicSystemStats Topic = "system.stats"
)

// ConsoleTopic returns the per-instance console line topic.
func ConsoleTopic(instanceID string) Topic { return Topic("server." + instanceID + ".console") }

// StatusTopic returns the per-instance status-transition topic.
func StatusTopic(instanceID string) Topic { return Topic("server." + instanceID + ".status") }

// ResourceTopic returns the per-instance resource-sample topic.
func ResourceTopic(instanceID string) Topic { return Topic("server." + instanceID + ".resource") }

// ProxyStatusTopic returns the per-proxy backend-status topic.
func ProxyStatusTopic(proxyID string) Topic { return Topic("proxy." + proxyID + ".status") }

// TopicInstanceEvents is the single global topic carrying the notifier-facing
// domain events (start, stop, crash, player join/leave, backup outcomes).
// Fine-grained telemetry keeps its per-instance topic; this one exists so a
// single subscription observes every instance without joining N topics.
const TopicInstanceEvents Topic = "instance.events"

// InstanceEvent is the Payload of a TopicInstanceEvents Event.
type InstanceEvent struct {
	InstanceID   string
	InstanceName string
	Kind         string // matches types.WebhookEventKind values
	Player       string `json:"player,omitempty"`
	Detail       string `json:"detail,omitempty"`
}

// Event is a single message published on a Topic.
type Event struct {
	Topic     Topic
	Timestamp time.Time
	Payload   any
}

// ConsoleLine is the Payload of a console-topic Event.
type ConsoleLine struct {
	InstanceID string
	Stream     string // "stdout" or "stderr"
	Line       string
}

// StatusChange is the Payload of a status-topic Event.
type StatusChange struct {
	InstanceID string
	Status     string
	ExitCode   *int
}

// ResourceUpdate is the Payload of a resource-topic Event.
type ResourceUpdate struct {
	InstanceID string
	CPUPercent float64
	CoreCount  int
	RSSBytes   uint64
	RSSPercent float64
	TPS        float64
}

// ProxyBackendStatus is the Payload of a proxy-status-topic Event.
type ProxyBackendStatus struct {
	ProxyID  string
	Backends []types.BackendStatus
}

// Subscriber is a bounded, per-subscriber channel. When full, the bus drops
// the oldest queued event to make room rather than block the publisher.
type Subscriber struct {
	ch     chan *Event
	mu     sync.Mutex
	topics map[Topic]bool
}

const subscriberBuffer = 64

// Events returns the subscriber's delivery channel.
func (s *Subscriber) Events() <-chan *Event { return s.ch }

func (s *Subscriber) matches(topic Topic) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topics[topic]
}

func (s *Subscriber) addTopic(topic Topic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics[topic] = true
}

func (s *Subscriber) removeTopic(topic Topic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.topics, topic)
}

// deliver sends ev, dropping the oldest queued event on a full buffer
// instead of blocking the broadcast loop.
func (s *Subscriber) deliver(ev *Event) {
	select {
	case s.ch <- ev:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- ev:
	default:
	}
}

// Bus is the in-memory, topic-keyed pub/sub fan-out. Delivery is per-topic
// FIFO; cross-topic ordering is not guaranteed. A slow subscriber drops
// older events on its own topic rather than stall publishers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[*Subscriber]bool
	publishCh   chan *Event
	stopCh      chan struct{}
}

// NewBus creates a new event bus. Call Start before publishing.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[*Subscriber]bool),
		publishCh:   make(chan *Event, 256),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the bus's broadcast loop.
func (b *Bus) Start() { go b.run() }

// Stop terminates the broadcast loop. Subscribers are left intact; callers
// should Unsubscribe individually during their own shutdown.
func (b *Bus) Stop() { close(b.stopCh) }

// Subscribe returns a new Subscriber listening on the given topics.
func (b *Bus) Subscribe(topics ...Topic) *Subscriber {
	sub := &Subscriber{
		ch:     make(chan *Event, subscriberBuffer),
		topics: make(map[Topic]bool, len(topics)),
	}
	for _, t := range topics {
		sub.topics[t] = true
	}
	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()
	return sub
}

// Join adds topic to an existing subscription.
func (b *Bus) Join(sub *Subscriber, topic Topic) { sub.addTopic(topic) }

// Leave removes topic from an existing subscription.
func (b *Bus) Leave(sub *Subscriber, topic Topic) { sub.removeTopic(topic) }

// Unsubscribe removes sub from the bus and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub.ch)
}

// Publish enqueues ev for fan-out. Non-blocking: if the publish buffer is
// saturated, the event is dropped rather than stalling the caller.
func (b *Bus) Publish(topic Topic, payload any) {
	ev := &Event{Topic: topic, Timestamp: time.Now(), Payload: payload}
	select {
	case b.publishCh <- ev:
	case <-b.stopCh:
	default:
	}
}

func (b *Bus) run() {
	for {
		select {
		case ev := <-b.publishCh:
			b.broadcast(ev)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Bus) broadcast(ev *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers {
		if sub.matches(ev.Topic) {
			sub.deliver(ev)
		}
	}
}

// SubscriberCount returns the number of active subscriptions, for tests and
// diagnostics.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
